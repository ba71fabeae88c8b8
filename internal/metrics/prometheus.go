package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"rideralert/internal/models"
)

var allStatuses = []models.Status{
	models.StatusIdle,
	models.StatusMonitoring,
	models.StatusAlarmActive,
	models.StatusConnectionError,
}

// Collector exports monitor activity as Prometheus metrics.
type Collector struct {
	polls   *prometheus.CounterVec
	latency prometheus.Histogram
	alarms  *prometheus.CounterVec
	status  *prometheus.GaugeVec
}

// NewCollector registers the rider alert metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rideralert_polls_total",
			Help: "Order endpoint polls by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rideralert_poll_latency_seconds",
			Help:    "Order endpoint round-trip time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rideralert_alarms_total",
			Help: "Alarms raised by source.",
		}, []string{"source"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rideralert_status",
			Help: "1 for the current session status, 0 otherwise.",
		}, []string{"status"}),
	}
	reg.MustRegister(c.polls, c.latency, c.alarms, c.status)
	return c
}

func (c *Collector) PollCompleted(rec models.PollRecord) {
	outcome := "ok"
	switch {
	case rec.Stale:
		outcome = "stale"
	case !rec.OK:
		outcome = rec.FailureKind
	}
	c.polls.WithLabelValues(outcome).Inc()
	c.latency.Observe(float64(rec.LatencyMS) / 1000)
}

func (c *Collector) StatusChanged(status models.Status) {
	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		c.status.WithLabelValues(string(s)).Set(v)
	}
}

func (c *Collector) AlarmRaised(source string) {
	c.alarms.WithLabelValues(source).Inc()
}
