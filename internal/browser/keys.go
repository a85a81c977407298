// File: internal/browser/keys.go
package browser

import (
	"fmt"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps the key names tool nodes use to chromedp key codes.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Backspace":  kb.Backspace,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Delete":     kb.Delete,
	"PageDown":   kb.PageDown,
	"PageUp":     kb.PageUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowUp":    kb.ArrowUp,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"Space":      " ",
}

var modifiers = map[string]input.Modifier{
	"":        input.ModifierNone,
	"Alt":     input.ModifierAlt,
	"Control": input.ModifierCtrl,
	"Meta":    input.ModifierMeta,
	"Shift":   input.ModifierShift,
}

// resolveKey returns the chromedp key sequence for a named key or a single
// printable character.
func resolveKey(name string) (string, error) {
	if k, ok := namedKeys[name]; ok {
		return k, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		return name, nil
	}
	return "", fmt.Errorf("unknown key %q", name)
}

func resolveModifier(name string) (input.Modifier, error) {
	m, ok := modifiers[name]
	if !ok {
		return input.ModifierNone, fmt.Errorf("unknown modifier %q", name)
	}
	return m, nil
}

// keyEvents builds the CDP events for pressing key while holding modifier.
// A held Control or Meta suppresses the typed text, and the select-all
// shortcut carries the editing command Chrome needs to act on it.
func keyEvents(key, modifier string) ([]*input.DispatchKeyEventParams, error) {
	code, err := resolveKey(key)
	if err != nil {
		return nil, err
	}
	mod, err := resolveModifier(modifier)
	if err != nil {
		return nil, err
	}
	r, _ := utf8.DecodeRuneInString(code)
	chorded := mod&(input.ModifierCtrl|input.ModifierMeta|input.ModifierAlt) != 0

	var out []*input.DispatchKeyEventParams
	for _, ev := range kb.Encode(r) {
		if chorded && ev.Type == input.KeyChar {
			continue
		}
		ev.Modifiers |= mod
		if chorded {
			ev.Text = ""
			ev.UnmodifiedText = ""
			if ev.Type != input.KeyUp && key == "a" {
				ev.Commands = []string{"selectAll"}
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
