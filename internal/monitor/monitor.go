package monitor

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rideralert/internal/models"
	"rideralert/internal/poller"
)

// ErrOffline is returned by actions that need the rider to be online first.
var ErrOffline = errors.New("rider is not online")

// Poller fetches the current order signal.
type Poller interface {
	Poll(ctx context.Context) (models.OrderSignal, error)
}

// Alarm is the audible/visible alert capability.
type Alarm interface {
	RequestPermission(ctx context.Context) error
	StartAlarm(ctx context.Context, orderID string)
	StopAlarm()
}

// SessionStore persists the last seen id and the online flag.
type SessionStore interface {
	LastOrderID() string
	SetLastOrderID(id string) error
	Online() bool
	SetOnline() error
}

// Recorder observes monitor activity, e.g. for metrics.
type Recorder interface {
	PollCompleted(rec models.PollRecord)
	StatusChanged(status models.Status)
	AlarmRaised(source string)
}

// Options configures a Monitor.
type Options struct {
	Poller            Poller
	Alarm             Alarm
	Store             SessionStore
	Recorder          Recorder
	Logger            *zap.Logger
	PollInterval      time.Duration
	AlarmPollInterval time.Duration
	HistorySize       int
	EndpointURL       string
	ActiveOrdersPage  string
}

// Monitor owns the rider session, polls the endpoint and drives the alarm.
type Monitor struct {
	poller   Poller
	alarm    Alarm
	store    SessionStore
	recorder Recorder
	log      *zap.Logger
	now      func() time.Time

	pollInterval  time.Duration
	alarmInterval time.Duration
	maxHistory    int
	endpointURL   string
	ordersPage    string

	mu            sync.Mutex
	session       models.Session
	audioUnlocked bool
	history       []models.PollRecord
	applied       uint64

	issued atomic.Uint64

	subsMu  sync.Mutex
	subs    map[int]chan models.Snapshot
	nextSub int

	wake    chan struct{}
	started atomic.Bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// New restores the session from store. Status starts as Monitoring when the rider
// was online before, otherwise Idle.
func New(opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.AlarmPollInterval <= 0 {
		opts.AlarmPollInterval = 2 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 2048
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	session := models.Session{
		Status:     models.StatusIdle,
		LastSeenID: opts.Store.LastOrderID(),
		Online:     opts.Store.Online(),
	}
	if session.Online {
		session.Status = models.StatusMonitoring
	}

	return &Monitor{
		poller:        opts.Poller,
		alarm:         opts.Alarm,
		store:         opts.Store,
		recorder:      opts.Recorder,
		log:           opts.Logger.Named("monitor"),
		now:           time.Now,
		pollInterval:  opts.PollInterval,
		alarmInterval: opts.AlarmPollInterval,
		maxHistory:    opts.HistorySize,
		endpointURL:   opts.EndpointURL,
		ordersPage:    opts.ActiveOrdersPage,
		session:       session,
		subs:          make(map[int]chan models.Snapshot),
		wake:          make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the polling loop. Ticks are skipped until the rider is online.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.isOnline() {
		m.unlockAudio(ctx)
	}
	m.recorder.StatusChanged(m.Snapshot().Status)
	go m.run(ctx)
}

// Stop terminates the polling loop and waits until it is done.
func (m *Monitor) Stop() {
	if !m.started.Load() {
		return
	}
	m.cancel()
	<-m.doneCh
}

// GoOnline grants permissions, persists the online flag, leaves Idle and polls once.
func (m *Monitor) GoOnline(ctx context.Context) (models.Snapshot, error) {
	m.unlockAudio(ctx)

	m.mu.Lock()
	if !m.session.Online {
		if err := m.store.SetOnline(); err != nil {
			snap := m.snapshotLocked()
			m.mu.Unlock()
			return snap, errors.Wrap(err, "persist online flag")
		}
		m.session.Online = true
	}
	prev := m.session.Status
	if prev == models.StatusIdle {
		m.session.Status = models.StatusMonitoring
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.afterChange(prev, snap)
	return m.CheckNow(ctx), nil
}

// Silence stops the alarm. It is a no-op unless the alarm is active.
func (m *Monitor) Silence() models.Snapshot {
	m.mu.Lock()
	prev := m.session.Status
	if prev != models.StatusAlarmActive {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap
	}
	m.alarm.StopAlarm()
	m.session.Status = models.StatusMonitoring
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Info("alarm silenced", zap.String("order_id", snap.LastSeenID))
	m.afterChange(prev, snap)
	return snap
}

// Simulate injects a synthetic new order without contacting the endpoint.
func (m *Monitor) Simulate(ctx context.Context) (models.Snapshot, error) {
	m.mu.Lock()
	if !m.session.Online {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrOffline
	}

	id := strconv.FormatInt(m.now().UnixMilli(), 10)
	prev := m.session.Status
	m.session.LastSeenID = id
	m.session.Status = models.StatusAlarmActive
	m.session.ViewRevision++
	m.persistID(id)
	m.alarm.StartAlarm(ctx, id)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Info("simulated new order", zap.String("order_id", id))
	m.recorder.AlarmRaised("simulate")
	m.afterChange(prev, snap)
	return snap, nil
}

// RefreshView asks user interfaces to reload the embedded active-orders page.
func (m *Monitor) RefreshView() models.Snapshot {
	m.mu.Lock()
	m.session.ViewRevision++
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.publish(snap)
	return snap
}

// CheckNow runs one tick immediately and returns the resulting snapshot.
func (m *Monitor) CheckNow(ctx context.Context) models.Snapshot {
	seq := m.issued.Add(1)
	started := m.now()

	sig, err := m.poller.Poll(ctx)
	if err != nil && ctx.Err() != nil {
		return m.Snapshot()
	}
	return m.apply(ctx, seq, started, sig, err)
}

// Snapshot returns the current session state.
func (m *Monitor) Snapshot() models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// History returns up to limit most recent poll records, oldest first.
func (m *Monitor) History(limit int) []models.PollRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	out := make([]models.PollRecord, len(m.history)-start)
	copy(out, m.history[start:])
	return out
}

// Subscribe returns a channel receiving a snapshot after every change. Slow
// subscribers only see the latest snapshot. Call cancel to unsubscribe.
func (m *Monitor) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 1)

	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}
	return ch, cancel
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	armed := m.interval()
	timer := time.NewTimer(armed)
	defer timer.Stop()

	if m.isOnline() {
		m.CheckNow(ctx)
	}

	for {
		select {
		case <-timer.C:
			// re-arm before polling so request latency does not stretch the period
			armed = m.interval()
			timer.Reset(armed)
			if m.isOnline() {
				m.CheckNow(ctx)
			}
		case <-m.wake:
			next := m.interval()
			if next == armed {
				continue
			}
			armed = next
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(armed)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) apply(ctx context.Context, seq uint64, started time.Time, sig models.OrderSignal, pollErr error) models.Snapshot {
	checked := m.now()
	rec := models.PollRecord{
		Seq:       seq,
		StartedAt: started.UTC(),
		CheckedAt: checked.UTC(),
		OK:        pollErr == nil,
		OrderID:   sig.ID,
		LatencyMS: checked.Sub(started).Milliseconds(),
	}
	if pollErr != nil {
		rec.Error = pollErr.Error()
		rec.FailureKind = string(poller.NetworkFailure)
		var failure *poller.Failure
		if errors.As(pollErr, &failure) {
			rec.FailureKind = string(failure.Kind)
		}
	}

	m.mu.Lock()
	if seq <= m.applied {
		rec.Stale = true
		m.appendHistory(rec)
		snap := m.snapshotLocked()
		m.mu.Unlock()

		m.log.Debug("discarding stale poll response", zap.Uint64("seq", seq))
		m.recorder.PollCompleted(rec)
		return snap
	}
	m.applied = seq

	prev := m.session.Status
	next, eff := Transition(m.session, Outcome{Signal: sig, Err: pollErr, At: checked.UTC()})
	m.session = next
	if eff.PersistID {
		m.persistID(next.LastSeenID)
	}
	switch eff.Alarm {
	case AlarmStart:
		m.alarm.StartAlarm(ctx, next.LastSeenID)
	case AlarmStop:
		m.alarm.StopAlarm()
	}
	m.appendHistory(rec)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.recorder.PollCompleted(rec)
	switch {
	case eff.Alarm == AlarmStart:
		m.log.Info("new order detected", zap.String("order_id", next.LastSeenID))
		m.recorder.AlarmRaised("poll")
	case eff.Alarm == AlarmStop:
		m.log.Info("remote order cleared, alarm stopped")
	case pollErr != nil:
		m.log.Warn("poll failed", zap.String("kind", rec.FailureKind), zap.Error(pollErr))
	}

	m.afterChange(prev, snap)
	return snap
}

// afterChange publishes snap and re-arms the timer when the status moved.
func (m *Monitor) afterChange(prev models.Status, snap models.Snapshot) {
	m.publish(snap)
	if prev == snap.Status {
		return
	}
	m.log.Info("status changed", zap.String("from", string(prev)), zap.String("to", string(snap.Status)))
	m.recorder.StatusChanged(snap.Status)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) publish(snap models.Snapshot) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *Monitor) unlockAudio(ctx context.Context) {
	err := m.alarm.RequestPermission(ctx)
	if err != nil {
		m.log.Warn("alarm permission not granted", zap.Error(err))
	}

	m.mu.Lock()
	m.audioUnlocked = err == nil
	m.mu.Unlock()
}

// persistID must be called with m.mu held. A failed write keeps the in-memory state.
func (m *Monitor) persistID(id string) {
	if err := m.store.SetLastOrderID(id); err != nil {
		m.log.Error("persist last order id", zap.String("order_id", id), zap.Error(err))
	}
}

func (m *Monitor) appendHistory(rec models.PollRecord) {
	m.history = append(m.history, rec)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

func (m *Monitor) isOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Online
}

func (m *Monitor) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intervalLocked()
}

func (m *Monitor) intervalLocked() time.Duration {
	if m.session.Status == models.StatusAlarmActive {
		return m.alarmInterval
	}
	return m.pollInterval
}

func (m *Monitor) snapshotLocked() models.Snapshot {
	s := m.session
	if s.LastCheckedAt != nil {
		t := *s.LastCheckedAt
		s.LastCheckedAt = &t
	}
	return models.Snapshot{
		Session:          s,
		PollInterval:     m.intervalLocked().String(),
		AudioUnlocked:    m.audioUnlocked,
		ActiveOrdersPage: m.ordersPage,
		EndpointURL:      m.endpointURL,
		GeneratedAt:      m.now().UTC(),
	}
}

type nopRecorder struct{}

func (nopRecorder) PollCompleted(models.PollRecord) {}
func (nopRecorder) StatusChanged(models.Status)     {}
func (nopRecorder) AlarmRaised(string)              {}
