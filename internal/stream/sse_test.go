package stream

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/events"
)

func TestSSEWriterFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)

	require.NoError(t, w.Send(Keepalive(time.Unix(1700000000, 500_000_000))))
	require.NoError(t, w.Send(Thought("looking for \"news\"")))
	require.NoError(t, w.Send(Action(agent.Tool{Verb: agent.VerbClick, Label: "Click [3]"})))
	require.NoError(t, w.Send(Action(agent.Tool{Verb: agent.VerbScroll, Label: "Scroll [WINDOW]", Args: "down", HasArgs: true})))
	require.NoError(t, w.Send(FinalAnswer("")))
	require.NoError(t, w.Send(End()))

	want := `data: {"type":"keepalive","timestamp":1700000000.5}` + "\n\n" +
		`data: {"type":"thought","content":"looking for \"news\""}` + "\n\n" +
		`data: {"type":"action","content":{"verb":"Click [3]","args":null}}` + "\n\n" +
		`data: {"type":"action","content":{"verb":"Scroll [WINDOW]","args":"down"}}` + "\n\n" +
		`data: {"type":"final_answer","content":""}` + "\n\n" +
		`data: {"type":"end","content":"Stream completed"}` + "\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestSSEWriterEventsAndComments(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)

	ev := events.NewNavigation("https://www.google.com", "loaded")
	require.NoError(t, w.WriteJSON(ev))
	require.NoError(t, w.Comment("keepalive"))

	assert.Equal(t,
		`data: {"type":"navigation","data":{"url":"https://www.google.com","status":"loaded"}}`+"\n\n"+
			": keepalive\n\n",
		rec.Body.String())
}

func TestPrepareHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	PrepareHeaders(rec.Header())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSSEWriterPropagatesWriteErrors(t *testing.T) {
	w := NewSSEWriter(brokenWriter{})
	err := w.Send(End())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
