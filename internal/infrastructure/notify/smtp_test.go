package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_ut_bot/internal/config"
	"go.uber.org/zap"
)

type sendRecorder struct {
	mu      sync.Mutex
	batches []string
}

func (r *sendRecorder) send(cfg config.NotificationsConfig, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, body)
	return nil
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *sendRecorder) batch(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[i]
}

func newTestNotifier(cfg config.NotificationsConfig) (*Notifier, *sendRecorder) {
	rec := &sendRecorder{}
	n := NewNotifier(cfg, zap.NewNop())
	n.send = rec.send
	return n, rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestNotifierFlushesFullBatch(t *testing.T) {
	n, rec := newTestNotifier(config.NotificationsConfig{
		Enabled:       true,
		BatchSize:     3,
		RateLimitSecs: 3600,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Notify("one")
	n.Notify("two")
	n.Notify("three")

	waitFor(t, func() bool { return rec.count() == 1 })
	body := rec.batch(0)
	assert.Contains(t, body, "one")
	assert.Contains(t, body, "three")
	assert.Len(t, strings.Split(body, "\n\n"), 3)
}

func TestNotifierFlushesRemainderOnCancel(t *testing.T) {
	n, rec := newTestNotifier(config.NotificationsConfig{
		Enabled:       true,
		BatchSize:     10,
		RateLimitSecs: 3600,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	n.Notify("pending")
	// Give the dispatcher a chance to drain the queue before cancelling.
	waitFor(t, func() bool { return len(n.queue) == 0 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not exit")
	}

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "pending", rec.batch(0))
}

func TestNotifyNeverBlocksWhenQueueFull(t *testing.T) {
	n, _ := newTestNotifier(config.NotificationsConfig{
		Enabled:       true,
		BatchSize:     10,
		RateLimitSecs: 3600,
	})

	// No dispatcher running: hammer the queue from several goroutines so
	// every enqueue past capacity is counted, never blocked on.
	const workers, perWorker = 4, 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n.Notify("overflow")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(workers*perWorker-cap(n.queue)), n.dropped.Load())
}

func TestNotifierDisabled(t *testing.T) {
	n, rec := newTestNotifier(config.NotificationsConfig{Enabled: false, BatchSize: 1, RateLimitSecs: 1})

	n.Notify("ignored")
	assert.Empty(t, n.queue)

	// Run returns immediately when disabled.
	done := make(chan struct{})
	go func() {
		n.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a disabled notifier")
	}
	assert.Equal(t, 0, rec.count())
}
