package browser

import (
	"testing"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKey(t *testing.T) {
	for name, want := range map[string]string{
		"Enter":     kb.Enter,
		"Backspace": kb.Backspace,
		"PageDown":  kb.PageDown,
		"PageUp":    kb.PageUp,
		"ArrowDown": kb.ArrowDown,
		"ArrowUp":   kb.ArrowUp,
		"Space":     " ",
		"j":         "j",
		"k":         "k",
	} {
		got, err := resolveKey(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := resolveKey("Hyper")
	assert.Error(t, err)
}

func TestResolveModifier(t *testing.T) {
	m, err := resolveModifier("Meta")
	require.NoError(t, err)
	assert.Equal(t, input.ModifierMeta, m)

	m, err = resolveModifier("")
	require.NoError(t, err)
	assert.Equal(t, input.ModifierNone, m)

	_, err = resolveModifier("Super")
	assert.Error(t, err)
}

func TestKeyEventsSelectAll(t *testing.T) {
	events, err := keyEvents("a", "Control")
	require.NoError(t, err)
	require.NotEmpty(t, events)

	var sawCommand bool
	for _, ev := range events {
		assert.Equal(t, input.ModifierCtrl, ev.Modifiers)
		assert.Empty(t, ev.Text, "a chorded press types nothing")
		assert.NotEqual(t, input.KeyChar, ev.Type)
		if ev.Type != input.KeyUp && len(ev.Commands) > 0 {
			assert.Equal(t, []string{"selectAll"}, ev.Commands)
			sawCommand = true
		}
	}
	assert.True(t, sawCommand)
}

func TestKeyEventsPlainKey(t *testing.T) {
	events, err := keyEvents("Enter", "")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, input.ModifierNone, ev.Modifiers)
		assert.Empty(t, ev.Commands)
	}
	assert.Equal(t, input.KeyUp, events[len(events)-1].Type)

	_, err = keyEvents("Enter", "Hyper")
	assert.Error(t, err)
}
