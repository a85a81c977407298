// File: internal/browser/perception.go
package browser

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
)

//go:embed mark_page.js
var markPageScript string

const unmarkTimeout = 5 * time.Second

var errBlankScreenshot = errors.New("screenshot is blank")

// markedBox is one element as reported by the marking script.
type markedBox struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	AriaLabel string  `json:"ariaLabel"`
}

// Observe marks the interactive elements of the page, waits for the network
// to settle, captures and compresses a screenshot and unmarks the page.
// Marking and capture failures degrade the observation instead of failing
// it: the error is non-nil only when ctx is done or the session is closed.
func (s *Session) Observe(ctx context.Context) (agent.Observation, error) {
	var obs agent.Observation
	if err := s.alive(ctx); err != nil {
		return obs, err
	}

	boxes, err := s.mark(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return obs, ctx.Err()
		}
		s.logger.Warn("Could not mark page; observing without boxes.", zap.Error(err))
	}
	defer s.unmark(ctx)
	obs.Boxes = boxes

	if err := s.WaitNetworkIdle(ctx); err != nil && ctx.Err() != nil {
		return obs, ctx.Err()
	}

	raw, err := s.capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return obs, ctx.Err()
		}
		s.logger.Warn("Using empty screenshot after failed captures.", zap.Error(err))
		return obs, nil
	}

	p := s.cfg.Perception
	img, err := Compress(raw, CompressOptions{MaxDimension: p.MaxDimension, GreyLevels: p.GreyLevels, Quality: p.JPEGQuality})
	if err != nil {
		s.logger.Warn("Using empty screenshot; compression failed.", zap.Error(err))
		return obs, nil
	}
	obs.Image = img
	return obs, nil
}

func (s *Session) alive(ctx context.Context) error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return ctx.Err()
}

// mark injects the marking script and returns the boxes it drew, numbered
// in the order the script reports them.
func (s *Session) mark(ctx context.Context) ([]agent.Bbox, error) {
	p := s.cfg.Perception
	var marked []markedBox
	op := func() error {
		marked = nil
		return s.run(ctx, chromedp.Evaluate(markPageScript+"\nwindow.markPage();", &marked))
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn("Failed to mark page.", zap.Error(err), zap.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(op, retryPolicy(ctx, p.MarkAttempts, p.MarkBackoff), notify); err != nil {
		return nil, err
	}

	boxes := make([]agent.Bbox, len(marked))
	for i, m := range marked {
		boxes[i] = agent.Bbox{ID: i, X: m.X, Y: m.Y, Text: m.Text, Type: m.Type, AriaLabel: m.AriaLabel}
	}
	return boxes, nil
}

// capture takes a viewport screenshot, retrying while captures come back
// blank or fail.
func (s *Session) capture(ctx context.Context) ([]byte, error) {
	p := s.cfg.Perception
	var buf []byte
	attempt := 0
	op := func() error {
		attempt++
		buf = nil
		if attempt > 1 {
			if err := s.WaitNetworkIdle(ctx); err != nil {
				return err
			}
		}
		if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return err
		}
		if IsBlank(buf) {
			return errBlankScreenshot
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Debug("Screenshot attempt failed.", zap.Int("attempt", attempt), zap.Error(err), zap.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(op, retryPolicy(ctx, p.ScreenshotAttempts, p.ScreenshotBackoff), notify); err != nil {
		return nil, err
	}
	return buf, nil
}

// unmark removes the overlays. It runs even when ctx is already done and
// only logs failures.
func (s *Session) unmark(ctx context.Context) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unmarkTimeout)
	defer cancel()
	if err := s.run(uctx, chromedp.Evaluate(`window.unmarkPage && window.unmarkPage()`, nil)); err != nil {
		s.logger.Warn("Could not unmark page.", zap.Error(err))
	}
}

// retryPolicy allows attempts tries in total with a constant pause between them.
func retryPolicy(ctx context.Context, attempts int, pause time.Duration) backoff.BackOffContext {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(pause), uint64(attempts-1)), ctx)
}
