package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker() (*idleTracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	tr := newIdleTracker()
	tr.now = clock.Now
	tr.last = clock.Now()
	return tr, clock
}

func TestIdleTrackerCountsRequests(t *testing.T) {
	tr, clock := newTestTracker()

	tr.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	tr.handle(&network.EventRequestWillBeSent{RequestID: "2"})
	clock.Advance(time.Second)
	d, busy := tr.quietFor()
	assert.True(t, busy, "busy while requests are in flight")
	assert.Zero(t, d)

	tr.handle(&network.EventLoadingFinished{RequestID: "1"})
	_, busy = tr.quietFor()
	assert.True(t, busy)
	tr.handle(&network.EventLoadingFailed{RequestID: "2"})
	clock.Advance(700 * time.Millisecond)
	d, busy = tr.quietFor()
	assert.False(t, busy)
	assert.Equal(t, 700*time.Millisecond, d)

	tr.handle(&network.EventDataReceived{RequestID: "3"})
	d, _ = tr.quietFor()
	assert.Equal(t, 700*time.Millisecond, d, "unrelated events do not count as activity")
}

func TestIdleTrackerWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("already quiet", func(t *testing.T) {
		tr, clock := newTestTracker()
		clock.Advance(time.Second)
		require.NoError(t, tr.wait(context.Background(), 500*time.Millisecond, time.Second))
	})

	t.Run("times out while busy", func(t *testing.T) {
		tr, _ := newTestTracker()
		tr.handle(&network.EventRequestWillBeSent{RequestID: "1"})
		err := tr.wait(context.Background(), 0, 150*time.Millisecond)
		assert.ErrorIs(t, err, errIdleTimeout)
	})

	t.Run("zero quiet period still waits for in-flight requests", func(t *testing.T) {
		tr, _ := newTestTracker()
		tr.handle(&network.EventRequestWillBeSent{RequestID: "1"})
		done := make(chan error, 1)
		go func() { done <- tr.wait(context.Background(), 0, 5*time.Second) }()

		select {
		case err := <-done:
			t.Fatalf("wait returned while a request was in flight: %v", err)
		case <-time.After(250 * time.Millisecond):
		}
		tr.handle(&network.EventLoadingFinished{RequestID: "1"})
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("wait did not return once the request finished")
		}
	})

	t.Run("cancelled context wins over a quiet network", func(t *testing.T) {
		tr, clock := newTestTracker()
		clock.Advance(time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, tr.wait(ctx, 0, time.Minute), context.Canceled)
	})

	t.Run("context cancelled", func(t *testing.T) {
		tr, _ := newTestTracker()
		tr.handle(&network.EventRequestWillBeSent{RequestID: "1"})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, tr.wait(ctx, 0, time.Minute), context.Canceled)
	})
}

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := CombineContext(parent, secondary)
	defer cancel()
	require.NoError(t, combined.Err())

	cancelSecondary()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context was not cancelled with the secondary context")
	}
	assert.NoError(t, parent.Err())
}
