// File: internal/agent/router.go
package agent

import "strings"

// Node names of the browsing graph.
const (
	NodePlan    = "plan"
	NodeObserve = "observe"
	NodeDecide  = "decide"
	NodeParse   = "parse"
	NodeClick   = "click"
	NodeType    = "type"
	NodeScroll  = "scroll"
	NodeWait    = "wait"
	NodeGoBack  = "go_back"
	NodeGoogle  = "google"
	NodeAnswer  = "answer"
)

const retryToken = "retry"

// toolNodes maps the first token of an action label to its tool node.
var toolNodes = map[string]string{
	string(VerbClick):  NodeClick,
	string(VerbType):   NodeType,
	string(VerbScroll): NodeScroll,
	string(VerbWait):   NodeWait,
	string(VerbGoBack): NodeGoBack,
	string(VerbGoogle): NodeGoogle,
}

// Route maps the parsed action to the name of the next node. Unknown verbs
// are an *UndefinedTransitionError; there is no fallback.
func Route(a Action) (string, error) {
	switch act := a.(type) {
	case Retry:
		return NodeObserve, nil
	case Tool:
		token := firstToken(act.Label)
		if token == "" {
			token = string(act.Verb)
		}
		switch token {
		case retryToken:
			return NodeObserve, nil
		case string(VerbRespond):
			return NodeAnswer, nil
		}
		if node, ok := toolNodes[token]; ok {
			return node, nil
		}
		return "", &UndefinedTransitionError{From: NodeParse, Token: token}
	default:
		return "", &UndefinedTransitionError{From: NodeParse, Token: "<no action>"}
	}
}

// routeState adapts Route to the engine's conditional edge signature.
func routeState(s *State) (string, error) {
	return Route(s.Action)
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
