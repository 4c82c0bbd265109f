package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Logo is the header mark. Its badge takes the color of the worse of the two
// channel states.
type Logo struct {
	*tview.TextView
	theme *Theme
}

func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	l := &Logo{TextView: tv, theme: theme}
	l.Update("", "")
	return l
}

// Update redraws the badge for the chat and notification channel states.
func (l *Logo) Update(chat, notifications string) {
	l.Clear()
	title := colorName(l.theme.TitleColor)
	badge := colorName(l.theme.StateColor(worstState(chat, notifications)))
	_, _ = fmt.Fprintf(l,
		"[%s::b] ╔╦╗╔═╗╔═╗╔╦╗[-:-:-]\n"+
			"[%s::b]  ║ ║╣ ╠═╣║║║[-:-:-]\n"+
			"[%s::b]  ╩ ╚═╝╩ ╩╩ ╩[-:-:-]\n"+
			"[%s]●[-] [%s]teamsync[-:-:-]",
		title, title, title, badge, colorName(l.theme.FgColor),
	)
}

var stateRank = map[string]int{
	"CONNECTED":    0,
	"CONNECTING":   1,
	"RECONNECTING": 2,
	"DISCONNECTED": 3,
	"ERROR":        4,
}

// worstState returns whichever state ranks lower; unknown or empty states
// count as disconnected.
func worstState(a, b string) string {
	if _, ok := stateRank[a]; !ok {
		a = "DISCONNECTED"
	}
	if _, ok := stateRank[b]; !ok {
		b = "DISCONNECTED"
	}
	if stateRank[a] >= stateRank[b] {
		return a
	}
	return b
}
