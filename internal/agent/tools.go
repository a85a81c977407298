// File: internal/agent/tools.go
package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/rover/internal/observability"
	"go.uber.org/zap"
)

const (
	elementScrollStep = 200.0
	windowScrollStep  = 500.0
)

// pdfFocusPoint is clicked to give a PDF viewer keyboard focus.
var pdfFocusPoint = [2]float64{300, 300}

// pdfScrollKeys are tried in order until one succeeds.
var pdfScrollKeys = map[string][]string{
	"down": {"PageDown", "Space", "ArrowDown", "j"},
	"up":   {"PageUp", "ArrowUp", "k"},
}

func (n *nodes) click(ctx context.Context, s *State) (Update, error) {
	tool, box, reason := boxTarget(s, VerbClick)
	if reason != "" {
		return n.retry(tool, reason), nil
	}
	if err := pause(ctx, n.opts.Timings.ClickBefore); err != nil {
		return Update{}, err
	}
	if err := s.Page.Click(ctx, box.X, box.Y); err != nil {
		return Update{}, fmt.Errorf("click on %d: %w", box.ID, err)
	}
	if err := pause(ctx, n.opts.Timings.ClickAfter); err != nil {
		return Update{}, err
	}
	return record(fmt.Sprintf("Click : clicked on %d", box.ID)), nil
}

func (n *nodes) typeText(ctx context.Context, s *State) (Update, error) {
	tool, box, reason := boxTarget(s, VerbType)
	if reason != "" {
		return n.retry(tool, reason), nil
	}
	if !tool.HasArgs {
		return n.retry(tool, "Type requires the text to enter, e.g. 'Type [3]; hello'"), nil
	}

	t := n.opts.Timings
	mod := n.opts.SelectAllModifier
	steps := []func() error{
		func() error { return s.Page.Click(ctx, box.X, box.Y) },
		func() error { return s.Page.PressKey(ctx, "a", mod) },
		func() error { return pause(ctx, t.TypeSelect) },
		func() error { return s.Page.PressKey(ctx, "a", mod) },
		func() error { return pause(ctx, t.TypeClear) },
		func() error { return s.Page.PressKey(ctx, "Backspace", "") },
		func() error { return pause(ctx, t.TypeDelete) },
		func() error { return s.Page.TypeText(ctx, tool.Args) },
		func() error { return pause(ctx, t.TypeEntered) },
		func() error { return s.Page.PressKey(ctx, "Enter", "") },
		func() error { return pause(ctx, t.TypeSubmitted) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Update{}, fmt.Errorf("type into %d: %w", box.ID, err)
		}
	}
	return record(fmt.Sprintf("Type : typed %s into %d", tool.Args, box.ID)), nil
}

func (n *nodes) scroll(ctx context.Context, s *State) (Update, error) {
	tool, ok := s.Action.(Tool)
	if !ok || !tool.Target.Set {
		return n.retry(tool, "Scroll requires a target, e.g. 'Scroll [WINDOW]; down' or 'Scroll [3]; up'"), nil
	}
	dir := strings.ToLower(strings.TrimSpace(tool.Args))
	if dir != "up" && dir != "down" {
		return n.retry(tool, fmt.Sprintf("Scroll direction must be 'up' or 'down', got %q", tool.Args)), nil
	}

	if tool.Target.Window {
		return n.scrollWindow(ctx, s, tool, dir)
	}

	box, found := s.Box(tool.Target.Index)
	if !found {
		return n.retry(tool, notFound(tool.Target.Index)), nil
	}
	delta := elementScrollStep
	if dir == "up" {
		delta = -delta
	}
	if err := s.Page.Wheel(ctx, box.X, box.Y, delta); err != nil {
		return n.retry(tool, fmt.Sprintf("Failed to scroll: %v", err)), nil
	}
	return record(fmt.Sprintf("Scroll : scrolled %s at element %d", dir, box.ID)), nil
}

func (n *nodes) scrollWindow(ctx context.Context, s *State, tool Tool, dir string) (Update, error) {
	url, err := s.Page.URL(ctx)
	if err != nil {
		return n.retry(tool, fmt.Sprintf("Failed to scroll: %v", err)), nil
	}

	if IsPDF(url) {
		if err := n.scrollPDF(ctx, s.Page, dir); err != nil {
			return n.retry(tool, fmt.Sprintf("Failed to scroll PDF document: %v", err)), nil
		}
		return record(fmt.Sprintf("Scroll : scrolled %s on PDF document", dir)), nil
	}

	delta := windowScrollStep
	if dir == "up" {
		delta = -delta
	}
	if err := s.Page.ScrollWindow(ctx, delta, true); err != nil {
		n.logger.Debug("Smooth scroll unavailable, falling back", zap.Error(err))
		if err := s.Page.ScrollWindow(ctx, delta, false); err != nil {
			return n.retry(tool, fmt.Sprintf("Failed to scroll: %v", err)), nil
		}
	}
	if err := pause(ctx, n.opts.Timings.Scroll); err != nil {
		return Update{}, err
	}
	return record(fmt.Sprintf("Scroll : scrolled %s", dir)), nil
}

// scrollPDF focuses the document viewer and tries each scroll key in turn.
func (n *nodes) scrollPDF(ctx context.Context, page Page, dir string) error {
	if err := page.WaitNetworkIdle(ctx); err != nil {
		return err
	}
	if err := pause(ctx, n.opts.Timings.PDFFocus); err != nil {
		return err
	}
	if err := page.Click(ctx, pdfFocusPoint[0], pdfFocusPoint[1]); err != nil {
		n.logger.Debug("Could not focus PDF viewer", zap.Error(err))
	}

	var lastErr error
	for _, key := range pdfScrollKeys[dir] {
		if lastErr = page.PressKey(ctx, key, ""); lastErr == nil {
			n.logger.Debug("Scrolled PDF", zap.String("key", key))
			return pause(ctx, n.opts.Timings.Scroll)
		}
	}
	return fmt.Errorf("no scroll key worked: %w", lastErr)
}

func (n *nodes) wait(ctx context.Context, _ *State) (Update, error) {
	if err := pause(ctx, n.opts.Timings.Wait); err != nil {
		return Update{}, err
	}
	secs := strconv.FormatFloat(n.opts.Timings.Wait.Seconds(), 'f', -1, 64)
	return record("Wait : waited for " + secs + " seconds"), nil
}

func (n *nodes) goBack(ctx context.Context, s *State) (Update, error) {
	if err := s.Page.GoBack(ctx); err != nil {
		return Update{}, fmt.Errorf("go back: %w", err)
	}
	url, err := s.Page.URL(ctx)
	if err != nil {
		n.logger.Debug("Could not read URL after navigating back", zap.Error(err))
	}
	u := record("Go Back : Navigated back to page " + url)
	u.Navigated = &url
	return u, nil
}

func (n *nodes) google(ctx context.Context, s *State) (Update, error) {
	if err := s.Page.Navigate(ctx, n.opts.SearchURL); err != nil {
		return Update{}, fmt.Errorf("navigate to search engine: %w", err)
	}
	u := record("Go to Search Engine : Navigated to Google")
	u.Navigated = ptr(n.opts.SearchURL)
	return u, nil
}

// retry converts a node-local failure into a Retry action. Nothing is
// appended to the history.
func (n *nodes) retry(tool Tool, reason string) Update {
	n.logger.Warn("Tool action cannot run; retrying", zap.String("action", tool.String()), zap.String("reason", reason))
	observability.RecordRetry("loop")
	return Update{Action: Retry{Reason: reason}}
}

// boxTarget resolves the box a Click or Type action points at. A non-empty
// reason means the action cannot run.
func boxTarget(s *State, verb Verb) (Tool, Bbox, string) {
	tool, ok := s.Action.(Tool)
	if !ok || !tool.Target.Set || tool.Target.Window {
		return tool, Bbox{}, fmt.Sprintf("%s requires a bounding box label, e.g. '%s [3]'", verb, verb)
	}
	box, found := s.Box(tool.Target.Index)
	if !found {
		return tool, Bbox{}, notFound(tool.Target.Index)
	}
	return tool, box, ""
}

func notFound(id int) string {
	return fmt.Sprintf("Could not find bbox with id %d", id)
}

// record produces the history entry and summary of a completed tool action.
func record(summary string) Update {
	return Update{History: []string{summary}, LastAction: ptr(summary)}
}

// IsPDF reports whether url looks like a PDF document, which includes
// ".pdf" suffixes and "/pdf/" paths.
func IsPDF(url string) bool {
	return strings.Contains(strings.ToLower(url), "pdf")
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
