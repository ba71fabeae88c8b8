package alarm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rideralert/internal/notify"
)

const notifyTimeout = 10 * time.Second

// Options configures a Siren.
type Options struct {
	Sinks        []ToneSink
	Notifier     notify.Notifier
	BeepInterval time.Duration
	KeepAlive    time.Duration
	Logger       *zap.Logger
}

// Siren drives the repeating alarm tone, the keep-alive tone and notifications.
type Siren struct {
	sinks     []ToneSink
	notifier  notify.Notifier
	interval  time.Duration
	keepAlive time.Duration
	log       *zap.Logger

	mu            sync.Mutex
	active        bool
	unlocked      bool
	stopCh        chan struct{}
	keepAliveStop chan struct{}
	wg            sync.WaitGroup
}

// NewSiren creates a siren. Nothing plays until StartAlarm or RequestPermission.
func NewSiren(opts Options) *Siren {
	if opts.BeepInterval <= 0 {
		opts.BeepInterval = time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 20 * time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Siren{
		sinks:     opts.Sinks,
		notifier:  opts.Notifier,
		interval:  opts.BeepInterval,
		keepAlive: opts.KeepAlive,
		log:       opts.Logger.Named("alarm"),
	}
}

// RequestPermission unlocks audio and starts the keep-alive tone once.
func (s *Siren) RequestPermission(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unlocked {
		return nil
	}
	s.unlocked = true
	s.keepAliveStop = make(chan struct{})
	s.wg.Add(1)
	go s.runKeepAlive(s.keepAliveStop)
	s.log.Info("audio unlocked")
	return nil
}

// StartAlarm begins the repeating tone and raises a notification. No-op while active.
func (s *Siren) StartAlarm(ctx context.Context, orderID string) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	if !s.unlocked {
		s.log.Warn("alarm started before audio was unlocked")
	}
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.runBeeps(s.stopCh)
	s.mu.Unlock()

	n := notify.Notification{
		ID:       uuid.NewString(),
		Title:    notify.DefaultTitle,
		Body:     notify.DefaultBody,
		Tag:      notify.DefaultTag,
		OrderID:  orderID,
		RaisedAt: time.Now().UTC(),
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(nctx, n); err != nil {
			s.log.Debug("notification failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}()
}

// StopAlarm cancels the repeating tone. No-op when idle.
func (s *Siren) StopAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	close(s.stopCh)
}

// Active reports whether the alarm tone is repeating.
func (s *Siren) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Unlocked reports whether RequestPermission has been called.
func (s *Siren) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked
}

// Close stops every tone loop and waits for them to exit.
func (s *Siren) Close() {
	s.StopAlarm()

	s.mu.Lock()
	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
		s.keepAliveStop = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Siren) runBeeps(stop <-chan struct{}) {
	defer s.wg.Done()

	s.play(BeepTone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.play(BeepTone)
		case <-stop:
			return
		}
	}
}

func (s *Siren) runKeepAlive(stop <-chan struct{}) {
	defer s.wg.Done()

	tone := KeepAliveTone(s.keepAlive)
	s.play(tone)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.play(tone)
		case <-stop:
			return
		}
	}
}

func (s *Siren) play(t Tone) {
	for _, sink := range s.sinks {
		sink.Play(t)
	}
}
