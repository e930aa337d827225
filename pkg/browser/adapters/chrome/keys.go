package chrome

import (
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"

	"github.com/odvcencio/webprobe/pkg/browser"
)

var namedKeys = map[string]string{
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"tab":        kb.Tab,
	"enter":      kb.Enter,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"space":      " ",
}

// keySequence maps a key name such as "Escape" or "k" to the runes
// chromedp dispatches.
func keySequence(name string) string {
	if seq, ok := namedKeys[strings.ToLower(strings.TrimSpace(name))]; ok {
		return seq
	}
	return name
}

func inputModifiers(mods []browser.KeyModifier) []input.Modifier {
	out := make([]input.Modifier, 0, len(mods))
	for _, m := range mods {
		switch m {
		case browser.KeyModifierShift:
			out = append(out, input.ModifierShift)
		case browser.KeyModifierAlt:
			out = append(out, input.ModifierAlt)
		case browser.KeyModifierCtrl:
			out = append(out, input.ModifierCtrl)
		case browser.KeyModifierMeta:
			out = append(out, input.ModifierMeta)
		}
	}
	return out
}
