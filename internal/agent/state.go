// File: internal/agent/state.go
package agent

// Bbox is one marked interactive element. ID is its index in the
// observation's box sequence and is only meaningful for that observation.
type Bbox struct {
	ID        int     `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Text      string  `json:"text"`
	Type      string  `json:"type"`
	AriaLabel string  `json:"ariaLabel"`
}

// Observation is one perception snapshot: a compressed JPEG screenshot and
// the boxes marked on the page when it was taken. Image is empty when every
// capture attempt failed.
type Observation struct {
	Image []byte
	Boxes []Bbox
}

// State is the record threaded through every node of one run. It is owned
// by a single run and is not safe for concurrent use.
type State struct {
	Task string
	// Page is the browser session the run acts on. Its lifecycle belongs to
	// the session manager.
	Page Page

	Observation Observation
	Plan        []string
	History     []string
	Action      Action
	LastAction  string
	Notes       []string
	Answer      string
	// Decision is the reasoner's raw text for the current cycle.
	Decision string
}

// NewState creates the state for a new run of task against page.
func NewState(task string, page Page) *State {
	return &State{Task: task, Page: page}
}

// Update is the partial state produced by one node. Nil pointers and nil
// slices leave the corresponding field untouched.
type Update struct {
	Observation *Observation
	Plan        []string
	Decision    *string
	Action      Action
	LastAction  *string
	History     []string
	Notes       []string
	Answer      *string
	// Navigated is the URL a navigation tool landed on. It is reported to
	// observers and never merged into the state. Empty when the page could
	// not tell.
	Navigated *string
}

// Apply merges u into s: scalars are overwritten, History and Notes are
// appended to, Plan and Answer may only be written once.
func (s *State) Apply(u Update) error {
	if u.Plan != nil {
		if s.Plan != nil {
			return ErrPlanRewritten
		}
		s.Plan = append([]string{}, u.Plan...)
	}
	if u.Answer != nil {
		if s.Answer != "" {
			return ErrAnswerRewritten
		}
		s.Answer = *u.Answer
	}
	if u.Observation != nil {
		s.Observation = *u.Observation
	}
	if u.Decision != nil {
		s.Decision = *u.Decision
	}
	if u.Action != nil {
		s.Action = u.Action
	}
	if u.LastAction != nil {
		s.LastAction = *u.LastAction
	}
	s.History = append(s.History, u.History...)
	s.Notes = append(s.Notes, u.Notes...)
	return nil
}

// Box returns the box with index id from the current observation.
func (s *State) Box(id int) (Bbox, bool) {
	if id < 0 || id >= len(s.Observation.Boxes) {
		return Bbox{}, false
	}
	return s.Observation.Boxes[id], true
}

// LatestNote returns the most recent rationale, or "" when there is none.
func (s *State) LatestNote() string {
	if len(s.Notes) == 0 {
		return ""
	}
	return s.Notes[len(s.Notes)-1]
}

// RecentHistory returns at most the last n history records; n <= 0 returns all.
func (s *State) RecentHistory(n int) []string {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

func ptr[T any](v T) *T { return &v }
