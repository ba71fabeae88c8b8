package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rideralert/internal/models"
	"rideralert/internal/poller"
	"rideralert/internal/storage"
)

type memoryStore struct {
	mu       sync.Mutex
	lastID   string
	online   bool
	idWrites int
}

func (s *memoryStore) LastOrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

func (s *memoryStore) SetLastOrderID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID = id
	s.idWrites++
	return nil
}

func (s *memoryStore) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *memoryStore) SetOnline() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = true
	return nil
}

type fakeAlarm struct {
	mu          sync.Mutex
	active      bool
	starts      int
	stops       int
	permissions int
	lastOrder   string
}

func (a *fakeAlarm) RequestPermission(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.permissions++
	return nil
}

func (a *fakeAlarm) StartAlarm(_ context.Context, orderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return
	}
	a.active = true
	a.starts++
	a.lastOrder = orderID
}

func (a *fakeAlarm) StopAlarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return
	}
	a.active = false
	a.stops++
}

func (a *fakeAlarm) state() (active bool, starts, stops int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active, a.starts, a.stops
}

type pollResult struct {
	sig models.OrderSignal
	err error
}

// gatedPoller blocks every call until a result is pushed to that call's gate.
type gatedPoller struct {
	mu    sync.Mutex
	calls int
	gates []chan pollResult
}

func newGatedPoller(n int) *gatedPoller {
	p := &gatedPoller{}
	for i := 0; i < n; i++ {
		p.gates = append(p.gates, make(chan pollResult, 1))
	}
	return p
}

func (p *gatedPoller) Poll(ctx context.Context) (models.OrderSignal, error) {
	p.mu.Lock()
	gate := p.gates[p.calls]
	p.calls++
	p.mu.Unlock()

	select {
	case r := <-gate:
		return r.sig, r.err
	case <-ctx.Done():
		return models.OrderSignal{}, ctx.Err()
	}
}

func (p *gatedPoller) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type staticPoller struct {
	mu  sync.Mutex
	sig models.OrderSignal
	err error
	n   int
}

func (p *staticPoller) set(sig models.OrderSignal, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sig, p.err = sig, err
}

func (p *staticPoller) Poll(context.Context) (models.OrderSignal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return p.sig, p.err
}

func (p *staticPoller) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func present(id string) models.OrderSignal {
	return models.OrderSignal{ID: id, Present: true}
}

func newTestMonitor(p Poller, store *memoryStore, alarm *fakeAlarm) *Monitor {
	return New(Options{
		Poller:            p,
		Alarm:             alarm,
		Store:             store,
		PollInterval:      time.Hour,
		AlarmPollInterval: time.Hour,
	})
}

func TestNewRestoresPersistedSession(t *testing.T) {
	m := newTestMonitor(&staticPoller{}, &memoryStore{lastID: "100", online: true}, &fakeAlarm{})
	snap := m.Snapshot()
	assert.Equal(t, models.StatusMonitoring, snap.Status)
	assert.Equal(t, "100", snap.LastSeenID)

	idle := newTestMonitor(&staticPoller{}, &memoryStore{lastID: "100"}, &fakeAlarm{})
	assert.Equal(t, models.StatusIdle, idle.Snapshot().Status)
}

func TestOrderLifecycleAgainstHTTPEndpoint(t *testing.T) {
	var mu sync.Mutex
	respond := func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"id": 100}`)) }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		respond(w)
	}))
	defer srv.Close()
	setResponse := func(fn func(http.ResponseWriter)) {
		mu.Lock()
		respond = fn
		mu.Unlock()
	}

	client, err := poller.New(srv.URL, time.Second)
	require.NoError(t, err)

	store := &memoryStore{lastID: "100", online: true}
	alarm := &fakeAlarm{}
	m := newTestMonitor(client, store, alarm)
	ctx := context.Background()

	snap := m.CheckNow(ctx)
	assert.Equal(t, models.StatusMonitoring, snap.Status)
	_, starts, _ := alarm.state()
	assert.Zero(t, starts)

	setResponse(func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"id": 101}`)) })
	snap = m.CheckNow(ctx)
	assert.Equal(t, models.StatusAlarmActive, snap.Status)
	assert.Equal(t, "101", store.LastOrderID())
	active, starts, _ := alarm.state()
	assert.True(t, active)
	assert.Equal(t, 1, starts)

	setResponse(func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{}`)) })
	snap = m.CheckNow(ctx)
	assert.Equal(t, models.StatusMonitoring, snap.Status)
	active, _, stops := alarm.state()
	assert.False(t, active)
	assert.Equal(t, 1, stops)

	setResponse(func(w http.ResponseWriter) { w.WriteHeader(http.StatusInternalServerError) })
	snap = m.CheckNow(ctx)
	assert.Equal(t, models.StatusConnectionError, snap.Status)
	assert.Equal(t, "Server Error: 500 Internal Server Error", snap.LastError)

	setResponse(func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"id": 101}`)) })
	snap = m.CheckNow(ctx)
	assert.Equal(t, models.StatusMonitoring, snap.Status)
	assert.Empty(t, snap.LastError)

	_, starts, _ = alarm.state()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, store.idWrites)

	history := m.History(0)
	require.Len(t, history, 5)
	assert.Equal(t, string(poller.HTTPFailure), history[3].FailureKind)
	assert.False(t, history[3].OK)
}

func TestFailedPollDuringAlarmKeepsStatus(t *testing.T) {
	p := &staticPoller{}
	store := &memoryStore{lastID: "1", online: true}
	alarm := &fakeAlarm{}
	m := newTestMonitor(p, store, alarm)

	p.set(present("2"), nil)
	m.CheckNow(context.Background())

	p.set(models.OrderSignal{}, &poller.Failure{Kind: poller.NetworkFailure, Message: "dial tcp: refused"})
	snap := m.CheckNow(context.Background())

	assert.Equal(t, models.StatusAlarmActive, snap.Status)
	assert.Equal(t, "dial tcp: refused", snap.LastError)
	active, _, _ := alarm.state()
	assert.True(t, active)
	assert.Equal(t, string(poller.NetworkFailure), m.History(1)[0].FailureKind)
}

func TestSilenceIsIdempotent(t *testing.T) {
	p := &staticPoller{}
	store := &memoryStore{online: true}
	alarm := &fakeAlarm{}
	m := newTestMonitor(p, store, alarm)

	snap := m.Silence()
	assert.Equal(t, models.StatusMonitoring, snap.Status)
	_, _, stops := alarm.state()
	assert.Zero(t, stops)

	p.set(present("7"), nil)
	m.CheckNow(context.Background())
	snap = m.Silence()
	assert.Equal(t, models.StatusMonitoring, snap.Status)
	snap = m.Silence()
	assert.Equal(t, models.StatusMonitoring, snap.Status)

	_, _, stops = alarm.state()
	assert.Equal(t, 1, stops)

	// a silenced order does not ring again
	snap = m.CheckNow(context.Background())
	assert.Equal(t, models.StatusMonitoring, snap.Status)
}

func TestSilenceDoesNotLeaveConnectionError(t *testing.T) {
	p := &staticPoller{}
	p.set(models.OrderSignal{}, errors.New("offline"))
	m := newTestMonitor(p, &memoryStore{online: true}, &fakeAlarm{})

	m.CheckNow(context.Background())
	snap := m.Silence()
	assert.Equal(t, models.StatusConnectionError, snap.Status)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	p := newGatedPoller(2)
	store := &memoryStore{lastID: "100", online: true}
	alarm := &fakeAlarm{}
	m := newTestMonitor(p, store, alarm)
	ctx := context.Background()

	slow := make(chan models.Snapshot, 1)
	go func() { slow <- m.CheckNow(ctx) }()
	require.Eventually(t, func() bool { return p.callCount() == 1 }, time.Second, time.Millisecond)

	fast := make(chan models.Snapshot, 1)
	go func() { fast <- m.CheckNow(ctx) }()
	require.Eventually(t, func() bool { return p.callCount() == 2 }, time.Second, time.Millisecond)

	p.gates[1] <- pollResult{sig: models.OrderSignal{}}
	snap := <-fast
	assert.Equal(t, models.StatusMonitoring, snap.Status)

	p.gates[0] <- pollResult{sig: present("150")}
	snap = <-slow
	assert.Equal(t, models.StatusMonitoring, snap.Status)
	assert.Equal(t, "100", snap.LastSeenID)
	_, starts, _ := alarm.state()
	assert.Zero(t, starts)

	history := m.History(0)
	require.Len(t, history, 2)
	assert.True(t, history[1].Stale)
	assert.EqualValues(t, 1, history[1].Seq)
}

func TestGoOnlineFromIdle(t *testing.T) {
	p := &staticPoller{}
	p.set(present("100"), nil)
	store := &memoryStore{lastID: "100"}
	alarm := &fakeAlarm{}
	m := newTestMonitor(p, store, alarm)

	_, err := m.Simulate(context.Background())
	assert.ErrorIs(t, err, ErrOffline)

	snap, err := m.GoOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusMonitoring, snap.Status)
	assert.True(t, snap.Online)
	assert.True(t, snap.AudioUnlocked)
	assert.True(t, store.Online())
	assert.Equal(t, 1, p.count())
	assert.Equal(t, 1, alarm.permissions)

	snap, err = m.GoOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusMonitoring, snap.Status)
}

func TestSimulateRaisesAlarmWithoutPolling(t *testing.T) {
	p := &staticPoller{}
	store := &memoryStore{lastID: "100", online: true}
	alarm := &fakeAlarm{}
	m := newTestMonitor(p, store, alarm)
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }

	snap, err := m.Simulate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StatusAlarmActive, snap.Status)
	assert.Equal(t, "1700000000000", snap.LastSeenID)
	assert.Equal(t, "1700000000000", store.LastOrderID())
	assert.EqualValues(t, 1, snap.ViewRevision)
	assert.Zero(t, p.count())
	_, starts, _ := alarm.state()
	assert.Equal(t, 1, starts)
}

func TestRefreshViewAndSubscribe(t *testing.T) {
	m := newTestMonitor(&staticPoller{}, &memoryStore{online: true}, &fakeAlarm{})
	updates, cancel := m.Subscribe()
	defer cancel()

	m.RefreshView()
	m.RefreshView()

	select {
	case snap := <-updates:
		assert.EqualValues(t, 2, snap.ViewRevision)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	cancel()
	m.RefreshView()
	select {
	case <-updates:
		t.Fatal("received after cancel")
	default:
	}
}

func TestLoopUsesFasterIntervalWhileAlarmIsActive(t *testing.T) {
	p := &staticPoller{}
	p.set(present("1"), nil)
	m := New(Options{
		Poller:            p,
		Alarm:             &fakeAlarm{},
		Store:             &memoryStore{online: true},
		PollInterval:      time.Hour,
		AlarmPollInterval: 10 * time.Millisecond,
	})

	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool { return p.count() >= 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "10ms", m.Snapshot().PollInterval)

	m.Silence()
	settled := p.count()
	time.Sleep(80 * time.Millisecond)
	assert.LessOrEqual(t, p.count(), settled+1)
}

func TestLoopWaitsWhileIdle(t *testing.T) {
	p := &staticPoller{}
	m := New(Options{
		Poller:            p,
		Alarm:             &fakeAlarm{},
		Store:             &memoryStore{},
		PollInterval:      5 * time.Millisecond,
		AlarmPollInterval: 5 * time.Millisecond,
	})

	m.Start()
	time.Sleep(40 * time.Millisecond)
	m.Stop()
	m.Stop()

	assert.Zero(t, p.count())
}

func TestSilencedOrderWithInvalidUTF8StaysSilentAfterRestart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{\"id\": \"A\xff7\"}"))
	}))
	defer srv.Close()

	client, err := poller.New(srv.URL, time.Second)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "session.json")
	openSession := func() *storage.SessionStore {
		store, err := storage.NewStore(path, nil)
		require.NoError(t, err)
		return storage.NewSessionStore(store)
	}

	require.NoError(t, openSession().SetOnline())
	m := New(Options{Poller: client, Alarm: &fakeAlarm{}, Store: openSession(), PollInterval: time.Hour})

	snap := m.CheckNow(context.Background())
	require.Equal(t, models.StatusAlarmActive, snap.Status)
	m.Silence()

	second := &fakeAlarm{}
	restarted := New(Options{Poller: client, Alarm: second, Store: openSession(), PollInterval: time.Hour})
	snap = restarted.CheckNow(context.Background())

	assert.Equal(t, models.StatusMonitoring, snap.Status)
	_, starts, _ := second.state()
	assert.Zero(t, starts)
}

type slowPoller struct {
	mu     sync.Mutex
	delay  time.Duration
	starts []time.Time
}

func (p *slowPoller) Poll(ctx context.Context) (models.OrderSignal, error) {
	p.mu.Lock()
	p.starts = append(p.starts, time.Now())
	p.mu.Unlock()

	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
	}
	return models.OrderSignal{}, nil
}

func (p *slowPoller) startTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.starts...)
}

func TestLoopPeriodExcludesRequestLatency(t *testing.T) {
	p := &slowPoller{delay: 60 * time.Millisecond}
	m := New(Options{
		Poller:            p,
		Alarm:             &fakeAlarm{},
		Store:             &memoryStore{online: true},
		PollInterval:      100 * time.Millisecond,
		AlarmPollInterval: 100 * time.Millisecond,
	})

	m.Start()
	require.Eventually(t, func() bool { return len(p.startTimes()) >= 4 }, 3*time.Second, 5*time.Millisecond)
	m.Stop()

	starts := p.startTimes()
	span := starts[3].Sub(starts[0])
	// three periods; with latency added the span would be at least 480ms
	assert.Less(t, span, 420*time.Millisecond)
	assert.GreaterOrEqual(t, span, 290*time.Millisecond)
}
