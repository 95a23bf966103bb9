package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	received [][]byte
	closed   bool
	sendErr  error
}

func (f *fakeSubscriber) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.received = append(f.received, p)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func startHub(t *testing.T) (*Hub, *observability.Metrics, context.CancelFunc) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, metrics, cancel
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	h, metrics, _ := startHub(t)
	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	require.True(t, h.Register(a))
	require.True(t, h.Register(b))

	h.Broadcast([]byte(`{"status":"SAFE"}`))

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StreamClients))
}

func TestHub_FailingClientIsDropped(t *testing.T) {
	h, metrics, _ := startHub(t)
	bad := &fakeSubscriber{sendErr: errors.New("broken pipe")}
	good := &fakeSubscriber{}
	require.True(t, h.Register(bad))
	require.True(t, h.Register(good))

	h.Broadcast([]byte("1"))

	require.Eventually(t, bad.isClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return testutil.ToFloat64(metrics.StreamClients) == 1 }, time.Second, 5*time.Millisecond)
	h.Broadcast([]byte("2"))
	require.Eventually(t, func() bool { return good.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_UnregisteredClientGetsNothing(t *testing.T) {
	h, _, _ := startHub(t)
	c := &fakeSubscriber{}
	require.True(t, h.Register(c))
	h.Unregister(c)

	h.Broadcast([]byte("x"))
	probe := &fakeSubscriber{}
	require.True(t, h.Register(probe))
	h.Broadcast([]byte("y"))

	require.Eventually(t, func() bool { return probe.count() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.count())
}

func TestHub_StopClosesClients(t *testing.T) {
	h, _, cancel := startHub(t)
	c := &fakeSubscriber{}
	require.True(t, h.Register(c))

	cancel()

	require.Eventually(t, c.isClosed, time.Second, 5*time.Millisecond)
	assert.False(t, h.Register(&fakeSubscriber{}), "register after stop is refused")
}

type gatedSubscriber struct {
	fakeSubscriber
	gate chan struct{}
}

func (g *gatedSubscriber) Send(p []byte) error {
	<-g.gate
	return g.fakeSubscriber.Send(p)
}

func (g *gatedSubscriber) last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.received) == 0 {
		return ""
	}
	return string(g.received[len(g.received)-1])
}

func TestHub_SlowClientEndsOnLatestSnapshot(t *testing.T) {
	h, _, _ := startHub(t)
	slow := &gatedSubscriber{gate: make(chan struct{})}
	require.True(t, h.Register(slow))

	for i := 1; i <= 30; i++ {
		h.Broadcast([]byte(strconv.Itoa(i)))
	}
	close(slow.gate)

	require.Eventually(t, func() bool { return slow.last() == "30" }, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, slow.count(), broadcastBuffer+1)
}
