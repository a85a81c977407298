// File: internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/config"
)

// ErrSessionClosed is returned by every operation on a closed session.
var ErrSessionClosed = errors.New("browser session is closed")

// Session is the single browser tab the agent drives. It owns the browser
// process it was launched with and implements agent.Page.
type Session struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	cfg         config.BrowserConfig
	idle        *idleTracker

	mu       sync.Mutex
	isClosed bool
}

// Ensure Session implements the interface.
var _ agent.Page = (*Session)(nil)

func newSession(ctx context.Context, cancel, allocCancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:          id,
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger.With(zap.String("session_id", id[:8])),
		cfg:         cfg,
		idle:        newIdleTracker(),
	}
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string {
	return s.id
}

// run executes chromedp actions bounded by both the session lifetime and ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

func (s *Session) Click(ctx context.Context, x, y float64) error {
	return s.run(ctx, chromedp.MouseClickXY(x, y))
}

func (s *Session) PressKey(ctx context.Context, key, modifier string) error {
	events, err := keyEvents(key, modifier)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ev := range events {
			if err := ev.Do(ctx); err != nil {
				return fmt.Errorf("press %s: %w", key, err)
			}
		}
		return nil
	}))
}

func (s *Session) TypeText(ctx context.Context, text string) error {
	return s.run(ctx, chromedp.KeyEvent(text))
}

func (s *Session) Wheel(ctx context.Context, x, y, deltaY float64) error {
	return s.run(ctx, input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(0).WithDeltaY(deltaY))
}

func (s *Session) ScrollWindow(ctx context.Context, deltaY float64, smooth bool) error {
	behavior := "instant"
	if smooth {
		behavior = "smooth"
	}
	script := fmt.Sprintf(`window.scrollBy({top: %g, left: 0, behavior: %q})`, deltaY, behavior)
	return s.run(ctx, chromedp.Evaluate(script, nil))
}

// WaitNetworkIdle waits until no request has been in flight for the
// configured quiet period. Hitting the idle timeout is not an error.
func (s *Session) WaitNetworkIdle(ctx context.Context) error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	err := s.idle.wait(ctx, s.cfg.NetworkIdleQuiet, s.cfg.NetworkIdleTimeout)
	if errors.Is(err, errIdleTimeout) {
		s.logger.Debug("Network still busy after idle timeout; continuing", zap.Duration("timeout", s.cfg.NetworkIdleTimeout))
		return nil
	}
	return err
}

func (s *Session) GoBack(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navigationTimeout())
	defer cancel()
	return s.run(navCtx, chromedp.NavigateBack())
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.navigate(ctx, url, s.navigationTimeout())
}

func (s *Session) navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) navigationTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return 80 * time.Second
}

// Close terminates the tab and the browser process. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	cancel, allocCancel := s.cancel, s.allocCancel
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if cancel != nil {
			cancel()
		}
		if allocCancel != nil {
			allocCancel()
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Browser did not exit before the deadline.", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
