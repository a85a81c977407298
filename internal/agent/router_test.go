package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   string
	}{
		{"retry variant", Retry{Reason: "bad format"}, NodeObserve},
		{"literal retry token", Tool{Verb: "retry", Label: "retry"}, NodeObserve},
		{"respond", Tool{Verb: VerbRespond, Label: "Respond"}, NodeAnswer},
		{"click by first token", Tool{Verb: VerbClick, Label: "Click [3]"}, NodeClick},
		{"type", Tool{Verb: VerbType, Label: "Type [2]"}, NodeType},
		{"scroll", Tool{Verb: VerbScroll, Label: "Scroll [WINDOW]"}, NodeScroll},
		{"wait", Tool{Verb: VerbWait, Label: "Wait"}, NodeWait},
		{"go back", Tool{Verb: VerbGoBack, Label: "GoBack"}, NodeGoBack},
		{"google", Tool{Verb: VerbGoogle, Label: "Google"}, NodeGoogle},
		{"label missing falls back to the verb", Tool{Verb: VerbWait}, NodeWait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Route(tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouteUnmappedVerbIsFatal(t *testing.T) {
	for _, action := range []Action{
		Tool{Verb: "Navigate", Label: "Navigate [1]"},
		Tool{Verb: "click", Label: "click [1]"},
		nil,
	} {
		_, err := Route(action)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUndefinedTransition))

		var ute *UndefinedTransitionError
		require.True(t, errors.As(err, &ute))
		assert.Equal(t, NodeParse, ute.From)
		assert.Equal(t, ErrCodeUndefinedRoute, Code(err))
	}
}
