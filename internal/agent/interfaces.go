// File: internal/agent/interfaces.go
package agent

import "context"

// Page is the browser session a run acts on: perception plus the primitive
// interactions tool nodes are built from. Coordinates are CSS pixels in the
// viewport.
type Page interface {
	// Observe marks the page, captures a compressed screenshot and unmarks
	// the page again. Capture failures yield an empty image, not an error.
	Observe(ctx context.Context) (Observation, error)
	URL(ctx context.Context) (string, error)
	Click(ctx context.Context, x, y float64) error
	// PressKey presses key, holding modifier ("Control", "Meta", "Shift",
	// "Alt" or "") while doing so.
	PressKey(ctx context.Context, key, modifier string) error
	TypeText(ctx context.Context, text string) error
	// Wheel dispatches a mouse wheel event at (x, y).
	Wheel(ctx context.Context, x, y, deltaY float64) error
	// ScrollWindow scrolls the document by deltaY, smoothly if requested.
	ScrollWindow(ctx context.Context, deltaY float64, smooth bool) error
	WaitNetworkIdle(ctx context.Context) error
	GoBack(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
}

// DecideInput is everything the reasoner sees when choosing the next action.
type DecideInput struct {
	Task        string
	Observation Observation
	Plan        []string
	History     []string
}

// Reasoner is the language model behind planning, deciding and answering.
type Reasoner interface {
	// Plan returns the ordered steps intended to accomplish task.
	Plan(ctx context.Context, task string, screenshot []byte) ([]string, error)
	// Decide returns raw text in the "Thought: ...\nAction: ..." format.
	Decide(ctx context.Context, in DecideInput) (string, error)
	// Answer summarizes the run as markdown with the steps taken and a final answer.
	Answer(ctx context.Context, task string, notes []string) (string, error)
}
