// File: internal/agent/action.go
package agent

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Verb names a tool the reasoner may choose.
type Verb string

const (
	VerbClick   Verb = "Click"
	VerbType    Verb = "Type"
	VerbScroll  Verb = "Scroll"
	VerbWait    Verb = "Wait"
	VerbGoBack  Verb = "GoBack"
	VerbGoogle  Verb = "Google"
	VerbRespond Verb = "Respond"
)

const (
	markerThought = "Thought: "
	markerAction  = "Action: "
	argsSeparator = "; "
	windowTarget  = "WINDOW"
)

// Action is either a Tool or a Retry.
type Action interface {
	isAction()
	String() string
}

// Target is the bracketed part of an action label.
type Target struct {
	Index  int
	Window bool
	// Set is false when the label carried no brackets.
	Set bool
}

// Tool is an action naming a verb, an optional target and optional args.
type Tool struct {
	Verb Verb
	// Label is the verb and target exactly as written, e.g. "Click [3]".
	Label   string
	Target  Target
	Args    string
	HasArgs bool
}

func (Tool) isAction() {}

func (t Tool) String() string {
	if t.HasArgs {
		return t.Label + argsSeparator + t.Args
	}
	return t.Label
}

// Retry sends the loop back to perception without executing a tool.
type Retry struct {
	Reason string
}

func (Retry) isAction() {}

func (r Retry) String() string { return "retry: " + r.Reason }

var (
	ErrMissingMarker   = errors.New("missing \"Action: \" marker")
	ErrEmptyAction     = errors.New("empty action")
	ErrMalformedTarget = errors.New("malformed target")
)

// ParseError describes text that does not follow the action grammar.
type ParseError struct {
	Kind  error
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse LLM Output: %v: %s", e.Kind, e.Input)
}

func (e *ParseError) Unwrap() error { return e.Kind }

// ParseDecision splits raw reasoner text into its rationale and action block.
// The rationale is the text between "Thought: " and "Action: ", or the whole
// prefix when "Thought: " is absent.
func ParseDecision(text string) (thought string, block string, err error) {
	before, after, found := strings.Cut(text, markerAction)
	if !found {
		return "", "", &ParseError{Kind: ErrMissingMarker, Input: text}
	}
	if _, t, ok := strings.Cut(before, markerThought); ok {
		before = t
	}
	return strings.TrimSpace(before), strings.TrimSpace(after), nil
}

// ParseAction parses one action block with the grammar
//
//	Verb [" [" (Index | "WINDOW") "]"] ["; " Args]
//
// An unknown verb is not an error here; routing decides what to do with it.
func ParseAction(block string) (Tool, error) {
	trimmed := strings.TrimSpace(block)
	if trimmed == "" {
		return Tool{}, &ParseError{Kind: ErrEmptyAction, Input: block}
	}

	head, args, hasArgs := strings.Cut(trimmed, argsSeparator)
	head = strings.TrimSpace(head)
	tool := Tool{Label: head, Args: strings.TrimSpace(args), HasArgs: hasArgs}

	verb, rest, _ := strings.Cut(head, " ")
	if verb == "" {
		return Tool{}, &ParseError{Kind: ErrEmptyAction, Input: block}
	}
	if strings.ContainsAny(verb, "[]") {
		return Tool{}, &ParseError{Kind: ErrMalformedTarget, Input: block}
	}
	tool.Verb = Verb(verb)

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return tool, nil
	}
	target, err := parseTarget(rest)
	if err != nil {
		return Tool{}, &ParseError{Kind: err, Input: block}
	}
	tool.Target = target
	return tool, nil
}

func parseTarget(s string) (Target, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Target{}, ErrMalformedTarget
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if strings.EqualFold(inner, windowTarget) {
		return Target{Window: true, Set: true}, nil
	}
	idx, err := strconv.Atoi(inner)
	if err != nil || idx < 0 {
		return Target{}, ErrMalformedTarget
	}
	return Target{Index: idx, Set: true}, nil
}
