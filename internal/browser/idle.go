// File: internal/browser/idle.go
package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

var errIdleTimeout = errors.New("network did not become idle")

const idlePollInterval = 100 * time.Millisecond

// idleTracker counts in-flight requests from network events so the session
// can wait for the page to go quiet.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
	now      func() time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight: make(map[network.RequestID]struct{}),
		last:     time.Now(),
		now:      time.Now,
	}
}

// handle is registered with chromedp.ListenTarget.
func (t *idleTracker) handle(ev interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.inflight, e.RequestID)
	default:
		return
	}
	t.last = t.now()
}

// quietFor reports how long the network has had no requests in flight.
// busy is true, and the duration zero, while any are pending.
func (t *idleTracker) quietFor() (d time.Duration, busy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inflight) > 0 {
		return 0, true
	}
	return t.now().Sub(t.last), false
}

// wait blocks until the network has been quiet for at least quiet, the
// timeout elapses (errIdleTimeout) or ctx is done.
func (t *idleTracker) wait(ctx context.Context, quiet, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(idlePollInterval)
	defer tick.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d, busy := t.quietFor(); !busy && d >= quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errIdleTimeout
		case <-tick.C:
		}
	}
}

// CombineContext derives a context from parent that is also cancelled when
// secondary is done. Browser actions use it to honour both the session's
// lifetime and the caller's.
func CombineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
