package monitor_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/monitor"
	"github.com/couchcryptid/flood-monitor-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeFeed struct {
	mu           sync.Mutex
	handle       domain.MessageHandler
	subscribed   chan struct{}
	subscribeErr error
	unsubscribed atomic.Bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subscribed: make(chan struct{})}
}

func (f *fakeFeed) Subscribe(_ context.Context, handle domain.MessageHandler) (domain.Subscription, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.mu.Lock()
	f.handle = handle
	f.mu.Unlock()
	close(f.subscribed)
	return domain.UnsubscribeFunc(func() error {
		f.unsubscribed.Store(true)
		return nil
	}), nil
}

func (f *fakeFeed) deliver(raw domain.RawMessage) {
	<-f.subscribed
	f.mu.Lock()
	handle := f.handle
	f.mu.Unlock()
	handle(raw)
}

func (f *fakeFeed) send(payloads ...string) {
	for _, p := range payloads {
		f.deliver(domain.RawMessage{Value: []byte(p), Source: "test"})
	}
}

func (f *fakeFeed) sendLevels(levels ...float64) {
	for _, l := range levels {
		f.send(fmt.Sprintf(`{"waterLevel":%v}`, l))
	}
}

type memStore struct {
	mu           sync.Mutex
	records      []domain.HistoryRecord
	handlers     []domain.HistoryHandler
	appendCalls  int
	appendErr    error
	unsubscribed atomic.Bool
}

func (s *memStore) Append(_ context.Context, rec domain.HistoryRecord) (domain.HistoryRecord, error) {
	s.mu.Lock()
	s.appendCalls++
	if s.appendErr != nil {
		s.mu.Unlock()
		return domain.HistoryRecord{}, s.appendErr
	}
	rec.Key = fmt.Sprintf("rec-%d", len(s.records)+1)
	s.records = append(s.records, rec)
	snapshot := append([]domain.HistoryRecord(nil), s.records...)
	handlers := append([]domain.HistoryHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(snapshot)
	}
	return rec, nil
}

func (s *memStore) Subscribe(_ context.Context, handle domain.HistoryHandler) (domain.Subscription, error) {
	s.mu.Lock()
	s.handlers = append(s.handlers, handle)
	snapshot := append([]domain.HistoryRecord(nil), s.records...)
	s.mu.Unlock()

	handle(snapshot)
	return domain.UnsubscribeFunc(func() error {
		s.unsubscribed.Store(true)
		return nil
	}), nil
}

func (s *memStore) levels() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	levels := make([]float64, 0, len(s.records))
	for _, r := range s.records {
		levels = append(levels, *r.WaterLevel)
	}
	return levels
}

func (s *memStore) timestamps() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Timestamp)
	}
	return out
}

func (s *memStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendCalls
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []domain.StatusChange
}

func (p *recordingPublisher) PublishStatusChange(_ context.Context, change domain.StatusChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

func (p *recordingPublisher) transitions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.changes))
	for i, c := range p.changes {
		out[i] = string(c.From) + "->" + string(c.To)
	}
	return out
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *recordingBroadcaster) Broadcast(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
}

func (b *recordingBroadcaster) last() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.payloads) == 0 {
		return nil
	}
	return b.payloads[len(b.payloads)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// start runs the monitor and returns a stop function that cancels it and
// returns Run's error.
func start(t *testing.T, m *monitor.Monitor) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		return m.CheckReadiness(ctx) == nil
	}, 2*time.Second, 5*time.Millisecond, "monitor never became ready")

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			runErr = <-errCh
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

// --- tests ---

func TestMonitor_LogsEveryReadingAfterLeadingZeros(t *testing.T) {
	feed, store := newFakeFeed(), &memStore{}
	m := monitor.New(feed, store, discardLogger(), observability.NewMetricsForTesting(), monitor.Options{})
	start(t, m)

	feed.sendLevels(0, 0, 42, 42, 81)

	require.Eventually(t, func() bool { return len(store.levels()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{42, 42, 81}, store.levels())

	require.Eventually(t, func() bool { return len(m.Snapshot().Series) == 3 }, 2*time.Second, 5*time.Millisecond)
	snap := m.Snapshot()
	assert.Equal(t, 81.0, snap.Level)
	assert.Equal(t, domain.StatusDanger, snap.Status)
	assert.True(t, snap.Alert)
	assert.Equal(t, domain.Series{{Index: 1, Level: 42}, {Index: 2, Level: 42}, {Index: 3, Level: 81}}, snap.Series)
	assert.Equal(t, 42.0, *snap.Bounds.Min)
	assert.Equal(t, 81.0, *snap.Bounds.Max)
}

func TestMonitor_SkipUnchangedPolicy(t *testing.T) {
	feed, store := newFakeFeed(), &memStore{}
	metrics := observability.NewMetricsForTesting()
	m := monitor.New(feed, store, discardLogger(), metrics, monitor.Options{
		Policy: domain.LogPolicy{SkipUnchanged: true},
	})
	start(t, m)

	feed.sendLevels(0, 0, 42, 42, 81)

	require.Eventually(t, func() bool { return m.Snapshot().Level == 81 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{42, 81}, store.levels())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HistorySkipped.WithLabelValues("awaiting_first_reading")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HistorySkipped.WithLabelValues("unchanged")))
}

func TestMonitor_IgnoresMissingAndMalformedPayloads(t *testing.T) {
	feed, store := newFakeFeed(), &memStore{}
	metrics := observability.NewMetricsForTesting()
	m := monitor.New(feed, store, discardLogger(), metrics, monitor.Options{})
	start(t, m)

	var commits atomic.Int32
	commit := func(context.Context) error {
		commits.Add(1)
		return nil
	}
	feed.deliver(domain.RawMessage{Value: []byte(`{"waterLevel":55}`), Commit: commit})
	feed.deliver(domain.RawMessage{Value: []byte(`{"rainfall":3}`), Commit: commit})
	feed.deliver(domain.RawMessage{Value: []byte(`not-json{{`), Commit: commit})
	feed.deliver(domain.RawMessage{Value: []byte(`{"waterLevel":null}`), Commit: commit})

	require.Eventually(t, func() bool { return commits.Load() == 4 }, 2*time.Second, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, 55.0, snap.Level, "missing field must not reset the level")
	assert.Equal(t, domain.StatusWarning, snap.Status)
	assert.Equal(t, []float64{55}, store.levels())
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.ReadingsReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ReadingsIgnored.WithLabelValues("missing_field")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReadingsIgnored.WithLabelValues("malformed")))
}

func TestMonitor_PublishesStatusChanges(t *testing.T) {
	feed, store := newFakeFeed(), &memStore{}
	pub := &recordingPublisher{}
	m := monitor.New(feed, store, discardLogger(), observability.NewMetricsForTesting(), monitor.Options{
		Publisher: pub,
		Station:   domain.Station{Name: "Solapur", Region: "Maharashtra"},
	})
	start(t, m)

	feed.sendLevels(10, 45, 50, 75, 39)

	require.Eventually(t, func() bool { return len(pub.transitions()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"SAFE->WARNING", "WARNING->DANGER", "DANGER->SAFE"}, pub.transitions())
	assert.Equal(t, "Solapur, Maharashtra", pub.changes[0].Station)
}

func TestMonitor_AppendFailureIsNotRetried(t *testing.T) {
	feed := newFakeFeed()
	store := &memStore{appendErr: errors.New("disk full")}
	metrics := observability.NewMetricsForTesting()
	m := monitor.New(feed, store, discardLogger(), metrics, monitor.Options{})
	start(t, m)

	feed.sendLevels(50)

	require.Eventually(t, func() bool { return m.Snapshot().Level == 50 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HistoryAppendErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HistoryAppends))
}

func TestMonitor_ExistingHistoryLoadedOnStart(t *testing.T) {
	feed := newFakeFeed()
	ten, fiftyFive := 10.0, 55.0
	store := &memStore{records: []domain.HistoryRecord{
		{Key: "a", WaterLevel: &ten, Timestamp: 1},
		{Key: "b", Timestamp: 2},
		{Key: "c", WaterLevel: &fiftyFive, Timestamp: 3},
	}}
	m := monitor.New(feed, store, discardLogger(), observability.NewMetricsForTesting(), monitor.Options{})
	start(t, m)

	require.Eventually(t, func() bool { return m.Snapshot().Records == 3 }, 2*time.Second, 5*time.Millisecond)
	snap := m.Snapshot()
	assert.Equal(t, domain.Series{{Index: 1, Level: 10}, {Index: 2, Level: 55}}, snap.Series)
	assert.False(t, snap.HasReading)
}

func TestMonitor_ClockTick(t *testing.T) {
	begin := time.Date(2025, time.July, 14, 9, 0, 0, 0, time.UTC)
	fakeClock := clockwork.NewFakeClockAt(begin)
	metrics := observability.NewMetricsForTesting()
	m := monitor.New(newFakeFeed(), &memStore{}, discardLogger(), metrics, monitor.Options{
		Clock:         fakeClock,
		ClockInterval: time.Second,
	})
	start(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fakeClock.BlockUntilContext(ctx, 1))

	assert.Equal(t, begin, m.Snapshot().Clock)
	fakeClock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return m.Snapshot().Clock.Equal(begin.Add(time.Second))
	}, 2*time.Second, 5*time.Millisecond)
	// One series for the initial history load, one for the tick.
	require.Eventually(t, func() bool {
		return testutil.CollectAndCount(metrics.EventDuration) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_RecordsStampedWithMonitorClock(t *testing.T) {
	begin := time.Date(2025, time.July, 14, 9, 0, 0, 0, time.UTC)
	fakeClock := clockwork.NewFakeClockAt(begin)
	feed, store := newFakeFeed(), &memStore{}
	m := monitor.New(feed, store, discardLogger(), observability.NewMetricsForTesting(), monitor.Options{
		Clock:         fakeClock,
		ClockInterval: time.Hour,
	})
	start(t, m)

	feed.sendLevels(42)
	require.Eventually(t, func() bool { return len(store.timestamps()) == 1 }, 2*time.Second, 5*time.Millisecond)
	fakeClock.Advance(30 * time.Second)
	feed.sendLevels(55)

	require.Eventually(t, func() bool { return len(store.timestamps()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{begin.UnixMilli(), begin.Add(30 * time.Second).UnixMilli()}, store.timestamps())
}

func TestMonitor_BroadcastsSnapshots(t *testing.T) {
	feed := newFakeFeed()
	b := &recordingBroadcaster{}
	m := monitor.New(feed, &memStore{}, discardLogger(), observability.NewMetricsForTesting(), monitor.Options{Broadcaster: b})
	start(t, m)

	feed.sendLevels(72)

	require.Eventually(t, func() bool {
		var body map[string]any
		if err := json.Unmarshal(b.last(), &body); err != nil {
			return false
		}
		return body["status"] == "DANGER" && body["records"] == 1.0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_ReleasesSubscriptionsOnShutdown(t *testing.T) {
	feed, store := newFakeFeed(), &memStore{}
	m := monitor.New(feed, store, discardLogger(), observability.NewMetricsForTesting(), monitor.Options{})
	stop := start(t, m)

	require.NoError(t, stop())

	assert.True(t, feed.unsubscribed.Load())
	assert.True(t, store.unsubscribed.Load())
	assert.Error(t, m.CheckReadiness(context.Background()))
}

func TestMonitor_FeedSubscribeError(t *testing.T) {
	feed := newFakeFeed()
	feed.subscribeErr = errors.New("broker unreachable")
	store := &memStore{}
	m := monitor.New(feed, store, discardLogger(), observability.NewMetricsForTesting(), monitor.Options{})

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe feed")
	assert.True(t, store.unsubscribed.Load(), "history subscription released")
}

func TestMonitor_NotReadyBeforeRun(t *testing.T) {
	m := monitor.New(newFakeFeed(), &memStore{}, discardLogger(), observability.NewMetricsForTesting(), monitor.Options{})

	assert.Error(t, m.CheckReadiness(context.Background()))
	assert.Equal(t, domain.StatusSafe, m.Snapshot().Status)
}
