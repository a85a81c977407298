// File: internal/stream/frames.go
package stream

import (
	"time"

	"github.com/xkilldash9x/rover/internal/agent"
)

// FrameType is the "type" field of a progress frame.
type FrameType string

const (
	FrameKeepalive   FrameType = "keepalive"
	FrameThought     FrameType = "thought"
	FrameAction      FrameType = "action"
	FrameFinalAnswer FrameType = "final_answer"
	FrameRetry       FrameType = "retry"
	FrameError       FrameType = "error"
	FrameEnd         FrameType = "end"
)

const (
	retryMessage = "Retrying last action..."
	endMessage   = "Stream completed"
)

// Frame is one message of the progress stream. Keepalive frames carry a
// timestamp and no content; every other frame carries content.
type Frame struct {
	Type      FrameType `json:"type"`
	Timestamp float64   `json:"timestamp,omitempty"`
	Content   any       `json:"content,omitempty"`
}

// ActionContent is the content of an action frame. Args is null when the
// action carried none.
type ActionContent struct {
	Verb string  `json:"verb"`
	Args *string `json:"args"`
}

// Keepalive builds a heartbeat frame stamped with t as fractional unix seconds.
func Keepalive(t time.Time) Frame {
	return Frame{Type: FrameKeepalive, Timestamp: float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)}
}

func Thought(note string) Frame { return Frame{Type: FrameThought, Content: note} }

// Action builds the frame announcing the tool the loop is about to run.
func Action(t agent.Tool) Frame {
	c := ActionContent{Verb: t.Label}
	if t.HasArgs {
		args := t.Args
		c.Args = &args
	}
	return Frame{Type: FrameAction, Content: c}
}

func FinalAnswer(answer string) Frame { return Frame{Type: FrameFinalAnswer, Content: answer} }

func Retry() Frame { return Frame{Type: FrameRetry, Content: retryMessage} }

func Error(msg string) Frame { return Frame{Type: FrameError, Content: msg} }

func End() Frame { return Frame{Type: FrameEnd, Content: endMessage} }
