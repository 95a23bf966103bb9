package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Feed delivers raw current-value updates.
type Feed interface {
	Subscribe(ctx context.Context, handle domain.MessageHandler) (domain.Subscription, error)
}

// HistoryStore is the append-only reading history. Subscribers receive the
// full record set on subscribe and after every change.
type HistoryStore interface {
	Append(ctx context.Context, rec domain.HistoryRecord) (domain.HistoryRecord, error)
	Subscribe(ctx context.Context, handle domain.HistoryHandler) (domain.Subscription, error)
}

// StatusPublisher forwards tier transitions downstream.
type StatusPublisher interface {
	PublishStatusChange(ctx context.Context, change domain.StatusChange) error
}

// Broadcaster pushes dashboard snapshots to connected clients.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Options configures a Monitor. Zero values get defaults.
type Options struct {
	Policy        domain.LogPolicy
	ClockInterval time.Duration
	AppendTimeout time.Duration
	Station       domain.Station
	Clock         clockwork.Clock
	Publisher     StatusPublisher
	Broadcaster   Broadcaster
}

const feedBuffer = 64

// Monitor owns the dashboard state. Feed messages, history snapshots and
// clock ticks are all applied on the single goroutine running Run.
type Monitor struct {
	feed    Feed
	store   HistoryStore
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options

	feedCh    chan domain.RawMessage
	historyCh chan []domain.HistoryRecord
	stopped   chan struct{}

	state    domain.Dashboard
	snapshot atomic.Pointer[domain.Dashboard]
	ready    atomic.Bool
}

// New creates a Monitor. Run may be called once.
func New(feed Feed, store HistoryStore, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ClockInterval <= 0 {
		opts.ClockInterval = time.Second
	}
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = 5 * time.Second
	}

	m := &Monitor{
		feed:      feed,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
		feedCh:    make(chan domain.RawMessage, feedBuffer),
		historyCh: make(chan []domain.HistoryRecord, 1),
		stopped:   make(chan struct{}),
		state:     domain.NewDashboard(opts.Clock.Now(), opts.Station),
	}
	m.storeSnapshot()
	return m
}

// Snapshot returns the latest dashboard state. Safe for concurrent use.
func (m *Monitor) Snapshot() domain.Dashboard {
	return *m.snapshot.Load()
}

// CheckReadiness returns nil once the feed and history subscriptions are live.
func (m *Monitor) CheckReadiness(_ context.Context) error {
	if !m.ready.Load() {
		return errors.New("monitor subscriptions not established")
	}
	return nil
}

// Run subscribes to the history store and the feed, starts the clock, and
// processes events until the context is cancelled. Both subscriptions and the
// ticker are released before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.ready.Store(false)

	historySub, err := m.store.Subscribe(ctx, m.onHistory)
	if err != nil {
		return fmt.Errorf("subscribe history: %w", err)
	}
	defer m.unsubscribe("history", historySub)

	feedSub, err := m.feed.Subscribe(ctx, m.onFeed)
	if err != nil {
		return fmt.Errorf("subscribe feed: %w", err)
	}
	defer m.unsubscribe("feed", feedSub)

	ticker := m.opts.Clock.NewTicker(m.opts.ClockInterval)
	defer ticker.Stop()

	// Unblocks adapter goroutines parked in onFeed before the subscriptions
	// above are released.
	defer close(m.stopped)

	m.logger.Info("monitor started",
		"clock_interval", m.opts.ClockInterval,
		"skip_unchanged", m.opts.Policy.SkipUnchanged,
		"station", m.opts.Station.Label(),
	)
	m.metrics.MonitorRunning.Set(1)
	defer m.metrics.MonitorRunning.Set(0)
	m.ready.Store(true)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping", "reason", ctx.Err())
			return nil
		case raw := <-m.feedCh:
			m.handleFeed(ctx, raw)
		case records := <-m.historyCh:
			m.handleHistory(records)
		case now := <-ticker.Chan():
			m.handleTick(now)
		}
	}
}

// onFeed queues a feed delivery. It blocks while the queue is full so no
// reading is lost.
func (m *Monitor) onFeed(raw domain.RawMessage) {
	select {
	case m.feedCh <- raw:
	case <-m.stopped:
	}
}

// onHistory queues a history snapshot. Each snapshot is complete, so a
// pending one that has not been applied yet is replaced. Never blocks: stores
// may call it from inside Append.
func (m *Monitor) onHistory(records []domain.HistoryRecord) {
	for {
		select {
		case m.historyCh <- records:
			return
		default:
		}
		select {
		case <-m.historyCh:
		default:
		}
	}
}

func (m *Monitor) handleFeed(ctx context.Context, raw domain.RawMessage) {
	start := time.Now()
	defer func() { m.metrics.EventDuration.WithLabelValues("feed").Observe(time.Since(start).Seconds()) }()
	defer m.commit(ctx, raw)

	m.metrics.ReadingsReceived.Inc()

	reading, ok, err := domain.ParseReading(raw)
	if err != nil {
		m.logger.Warn("malformed feed message, skipping",
			"error", err,
			"source", raw.Source,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		m.metrics.ReadingsIgnored.WithLabelValues("malformed").Inc()
		return
	}
	if !ok {
		m.logger.Debug("feed update without water level, ignoring", "source", raw.Source, "offset", raw.Offset)
		m.metrics.ReadingsIgnored.WithLabelValues("missing_field").Inc()
		return
	}

	next, tr := m.state.ApplyReading(reading, m.opts.Clock.Now(), m.opts.Policy)
	m.state = next
	m.metrics.WaterLevel.Set(reading.Level)
	m.metrics.StatusTier.Set(float64(next.Status.Severity()))

	if tr.Record != nil {
		m.appendRecord(ctx, *tr.Record)
	} else {
		m.logger.Debug("history logger skipped reading", "level_cm", reading.Level, "reason", tr.Skip)
		m.metrics.HistorySkipped.WithLabelValues(string(tr.Skip)).Inc()
	}

	if tr.Change != nil {
		m.publishChange(ctx, *tr.Change)
	}

	m.publish()
}

func (m *Monitor) handleHistory(records []domain.HistoryRecord) {
	start := time.Now()
	defer func() { m.metrics.EventDuration.WithLabelValues("history").Observe(time.Since(start).Seconds()) }()

	m.state = m.state.ApplyHistory(records)
	m.metrics.HistoryRecords.Set(float64(m.state.Records))
	m.metrics.SeriesPoints.Set(float64(len(m.state.Series)))
	m.publish()
}

func (m *Monitor) handleTick(now time.Time) {
	start := time.Now()
	defer func() { m.metrics.EventDuration.WithLabelValues("tick").Observe(time.Since(start).Seconds()) }()

	m.state = m.state.ApplyTick(now)
	m.storeSnapshot()
}

// appendRecord writes one history record. Failures are logged and counted but
// not retried; durability is the store's concern.
func (m *Monitor) appendRecord(ctx context.Context, rec domain.HistoryRecord) {
	appendCtx, cancel := context.WithTimeout(ctx, m.opts.AppendTimeout)
	defer cancel()

	stored, err := m.store.Append(appendCtx, rec)
	if err != nil {
		m.logger.Error("append history record failed", "error", err, "level_cm", *rec.WaterLevel)
		m.metrics.HistoryAppendErrors.Inc()
		return
	}
	m.logger.Debug("history record appended", "key", stored.Key, "level_cm", *rec.WaterLevel, "timestamp", rec.Timestamp)
	m.metrics.HistoryAppends.Inc()
}

func (m *Monitor) publishChange(ctx context.Context, change domain.StatusChange) {
	m.metrics.StatusChanges.WithLabelValues(string(change.From), string(change.To)).Inc()

	attrs := []any{"from", change.From, "to", change.To, "level_cm", change.LevelCM}
	if change.To.Alert() {
		m.logger.Warn("flood risk detected", attrs...)
	} else {
		m.logger.Info("status changed", attrs...)
	}

	if m.opts.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, m.opts.AppendTimeout)
	defer cancel()
	if err := m.opts.Publisher.PublishStatusChange(pubCtx, change); err != nil {
		m.logger.Error("publish status change failed", "error", err, "to", change.To)
		m.metrics.StatusEventErrors.Inc()
		return
	}
	m.metrics.StatusEventsPublished.Inc()
}

// publish stores the current state as the snapshot and pushes it to clients.
func (m *Monitor) publish() {
	snap := m.storeSnapshot()
	if m.opts.Broadcaster == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		m.logger.Error("encode dashboard snapshot failed", "error", err)
		return
	}
	m.opts.Broadcaster.Broadcast(data)
}

func (m *Monitor) storeSnapshot() domain.Dashboard {
	snap := m.state
	m.snapshot.Store(&snap)
	return snap
}

// commit acknowledges a feed message if the transport supports it.
func (m *Monitor) commit(ctx context.Context, raw domain.RawMessage) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		m.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func (m *Monitor) unsubscribe(name string, sub domain.Subscription) {
	if err := sub.Unsubscribe(); err != nil {
		m.logger.Warn("unsubscribe failed", "subscription", name, "error", err)
	}
}
