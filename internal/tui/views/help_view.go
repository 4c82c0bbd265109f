package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/teamsync/internal/prefs"
	"github.com/matheus3301/teamsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Start implements Component.
func (hv *HelpView) Start() {}

// Stop implements Component.
func (hv *HelpView) Stop() {}

// FocusTarget implements Component.
func (hv *HelpView) FocusTarget() tview.Primitive { return hv }

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

func (hv *HelpView) render() {
	kc := fmt.Sprintf("#%06x", hv.theme.MenuKeyColor.Hex())
	durations := make([]string, len(prefs.MuteDurations))
	for i, d := range prefs.MuteDurations {
		durations[i] = string(d)
	}

	rows := [][2]string{
		{"", "Global Keys"},
		{":", "Command mode"},
		{"/", "Filter rooms"},
		{"e", "Unread events"},
		{"?", "Help"},
		{"q", "Quit / Back"},
		{"", "Room List"},
		{"Enter", "Open room (marks it read)"},
		{"1-9", "Open the Nth room"},
		{"r", "Mark room read"},
		{"m / u", "Mute for 1h / unmute"},
		{"", "Room"},
		{"i", "Focus composer"},
		{"Enter", "Send (in composer)"},
		{"Esc", "Leave composer / room"},
		{"", "Events"},
		{"r / a", "Mark selected / all read"},
		{"f", "Refetch from server"},
		{"", "Commands"},
		{":login <user> <token>", "Start a session"},
		{":logout", "End the session"},
		{":mute <" + strings.Join(durations, "|") + ">", "Mute the selected room"},
		{":unmute", "Unmute the selected room"},
		{":retry <client-msg-id>", "Resend a failed message"},
		{":events", "Show unread events"},
		{":quit", "Quit application"},
	}

	var b strings.Builder
	for _, r := range rows {
		if r[0] == "" {
			fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", r[1])
			continue
		}
		fmt.Fprintf(&b, "  [%s]%-28s[-:-:-] %s\n", kc, tview.Escape(r[0]), r[1])
	}
	_, _ = fmt.Fprint(hv, b.String())
}
