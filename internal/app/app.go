package app

import (
	"context"
	"net"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"rideralert/internal/alarm"
	"rideralert/internal/config"
	"rideralert/internal/metrics"
	"rideralert/internal/monitor"
	"rideralert/internal/notify"
	"rideralert/internal/poller"
	"rideralert/internal/server"
	"rideralert/internal/storage"
	"rideralert/internal/tui"
)

// Mode selects the optional front-ends.
type Mode struct {
	TUI bool
}

// Module wires the whole rider alert service.
func Module(cfg config.Config, mode Mode, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Supply(cfg, mode, log),
		fx.Provide(
			newSessionStore,
			newPoller,
			newRegistry,
			newCollector,
			server.NewHub,
			newTelegram,
			newNotifier,
			newSiren,
			newMonitor,
			newServer,
		),
		fx.Invoke(
			runSiren,
			runMonitor,
			runTelegram,
			runServer,
			runTUI,
		),
	)
}

func newSessionStore(cfg config.Config, log *zap.Logger) (*storage.SessionStore, error) {
	store, err := storage.NewStore(cfg.SessionPath(), log)
	if err != nil {
		return nil, errors.Wrap(err, "initialise storage")
	}
	return storage.NewSessionStore(store), nil
}

func newPoller(cfg config.Config) (*poller.Client, error) {
	return poller.New(cfg.Endpoint.URL, cfg.RequestTimeout())
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newCollector(reg *prometheus.Registry) *metrics.Collector {
	return metrics.NewCollector(reg)
}

// newTelegram returns nil when the Telegram channel is disabled.
func newTelegram(cfg config.Config, log *zap.Logger) (*notify.Telegram, error) {
	if !cfg.Telegram.Enabled {
		return nil, nil
	}
	return notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
}

func newNotifier(hub *server.Hub, tg *notify.Telegram, log *zap.Logger) notify.Notifier {
	multi := notify.Multi{notify.NewLog(log), hub}
	if tg != nil {
		multi = append(multi, tg)
	}
	return multi
}

func newSiren(cfg config.Config, mode Mode, hub *server.Hub, notifier notify.Notifier, log *zap.Logger) *alarm.Siren {
	sinks := []alarm.ToneSink{hub}
	if cfg.Alarm.TerminalBell || mode.TUI {
		sinks = append(sinks, alarm.NewBell(os.Stdout))
	}
	return alarm.NewSiren(alarm.Options{
		Sinks:        sinks,
		Notifier:     notifier,
		BeepInterval: cfg.BeepInterval(),
		KeepAlive:    cfg.KeepAliveInterval(),
		Logger:       log,
	})
}

func newMonitor(
	cfg config.Config,
	client *poller.Client,
	siren *alarm.Siren,
	store *storage.SessionStore,
	collector *metrics.Collector,
	log *zap.Logger,
) *monitor.Monitor {
	return monitor.New(monitor.Options{
		Poller:            client,
		Alarm:             siren,
		Store:             store,
		Recorder:          collector,
		Logger:            log,
		PollInterval:      cfg.PollInterval(),
		AlarmPollInterval: cfg.AlarmPollInterval(),
		HistorySize:       cfg.HistorySize,
		EndpointURL:       client.URL(),
		ActiveOrdersPage:  cfg.ActiveOrdersPage,
	})
}

func newServer(cfg config.Config, mon *monitor.Monitor, hub *server.Hub, reg *prometheus.Registry, log *zap.Logger) *server.Server {
	return server.New(cfg.Addr, mon, hub, reg, log)
}

func runSiren(lc fx.Lifecycle, siren *alarm.Siren) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			siren.Close()
			return nil
		},
	})
}

func runMonitor(lc fx.Lifecycle, mon *monitor.Monitor, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			mon.Start()
			snap := mon.Snapshot()
			log.Info("monitor started",
				zap.String("status", string(snap.Status)),
				zap.String("endpoint", snap.EndpointURL),
				zap.String("last_order_id", snap.LastSeenID),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			mon.Stop()
			return nil
		},
	})
}

func runTelegram(lc fx.Lifecycle, tg *notify.Telegram, mon *monitor.Monitor) {
	if tg == nil {
		return
	}
	tg.OnDismiss(func() { mon.Silence() })

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			tg.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			tg.Stop()
			return nil
		},
	})
}

func runServer(lc fx.Lifecycle, cfg config.Config, srv *server.Server, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return errors.Wrapf(err, "listen on %s", cfg.Addr)
			}
			log.Info("rider alert listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func runTUI(lc fx.Lifecycle, mode Mode, mon *monitor.Monitor, shutdowner fx.Shutdowner, log *zap.Logger) {
	if !mode.TUI {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := tui.Run(ctx, mon); err != nil {
					log.Error("terminal ui", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}
