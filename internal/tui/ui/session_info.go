package ui

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session       string
	User          string
	Chat          string
	Notifications string
	Rooms         int
	Unread        int
	Events        int
	Online        int
	LastResync    *time.Time
	Uptime        time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	fg := colorName(si.theme.FgColor)
	counter := colorName(si.theme.UnreadColor)
	state := func(s string) string {
		return fmt.Sprintf("[%s]%s[%s]", colorName(si.theme.StateColor(s)), s, counter)
	}

	user := data.User
	if user == "" {
		user = "- (:login)"
	}
	resync := "never"
	if data.LastResync != nil {
		resync = humanize.Time(*data.LastResync)
	}

	// value is written raw so state colors survive; callers escape user text.
	line := func(label, value string) string {
		return fmt.Sprintf("[%s::b]%-8s[-:-:-] [%s]%s[-]\n", fg, label, counter, value)
	}
	text := line("Session:", tview.Escape(data.Session)) +
		line("User:", tview.Escape(user)) +
		line("Chat:", state(data.Chat)+"  notif: "+state(data.Notifications)) +
		line("Rooms:", fmt.Sprintf("%d  unread: %s", data.Rooms, humanize.Comma(int64(data.Unread)))) +
		line("Events:", fmt.Sprintf("%d  online: %d", data.Events, data.Online)) +
		line("Resync:", resync) +
		line("Uptime:", formatDuration(data.Uptime))

	_, _ = fmt.Fprint(si, text)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
