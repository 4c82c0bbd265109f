package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/teamsync/internal/api"
	"github.com/matheus3301/teamsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// RoomList is the main room table.
type RoomList struct {
	*tview.Table
	theme   *ui.Theme
	rooms   []api.RoomView
	visible []api.RoomView
	filter  string
}

// NewRoomList creates a new room table.
func NewRoomList(theme *ui.Theme) *RoomList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Rooms ")
	table.SetTitleColor(theme.TitleColor)

	return &RoomList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (rl *RoomList) Name() string { return "Rooms" }

// Start implements Component.
func (rl *RoomList) Start() {}

// Stop implements Component.
func (rl *RoomList) Stop() {}

// FocusTarget implements Component.
func (rl *RoomList) FocusTarget() tview.Primitive { return rl }

// Hints implements Component.
func (rl *RoomList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "r", Description: "Mark read"},
		{Key: "m", Description: "Mute 1h"},
		{Key: "u", Description: "Unmute"},
		{Key: "e", Description: "Events"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update refreshes the table with new data.
func (rl *RoomList) Update(rooms []api.RoomView) {
	rl.rooms = rooms
	rl.render()
}

// SetFilter sets the active filter text and re-renders.
func (rl *RoomList) SetFilter(filter string) {
	rl.filter = filter
	rl.render()
}

// ClearFilter clears the active filter.
func (rl *RoomList) ClearFilter() {
	rl.filter = ""
	rl.render()
}

func (rl *RoomList) render() {
	rl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" UNREAD", 0},
		{" LAST MESSAGE", 2},
		{" MUTED", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(rl.theme.TableHeaderFg).
			SetBackgroundColor(rl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		rl.SetCell(0, col, cell)
	}

	rl.visible = rl.visible[:0]
	for _, r := range rl.rooms {
		if rl.filter != "" && !containsFold(r.Name, rl.filter) {
			continue
		}
		rl.visible = append(rl.visible, r)
	}

	for i, r := range rl.visible {
		row := i + 1
		name := r.Name
		if name == "" {
			name = r.ID
		}
		unread := ""
		if r.Unread > 0 {
			unread = humanize.Comma(int64(r.Unread))
		}
		last := ""
		if m := r.LastMessage; m != nil {
			last = m.Body
			if !m.CreatedAt.IsZero() {
				last = fmt.Sprintf("%s  (%s)", m.Body, humanize.Time(m.CreatedAt))
			}
		}

		fg := rl.theme.FgColor
		switch {
		case r.Muted:
			fg = rl.theme.MutedColor
		case r.Unread > 0:
			fg = rl.theme.UnreadColor
		}
		rl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(fg))
		rl.SetCell(row, 1, tview.NewTableCell(unread).SetExpansion(0).SetTextColor(fg).SetAlign(tview.AlignRight))
		rl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(last))).SetExpansion(2).SetTextColor(rl.theme.FgColor))
		rl.SetCell(row, 3, tview.NewTableCell(muteLabel(r, time.Now())).SetExpansion(0).SetTextColor(rl.theme.FgColor).SetAlign(tview.AlignRight))
	}

	if rl.filter != "" {
		rl.SetTitle(fmt.Sprintf(" Rooms (%d/%d) filter: %s ", len(rl.visible), len(rl.rooms), rl.filter))
	} else {
		rl.SetTitle(fmt.Sprintf(" Rooms (%d) ", len(rl.rooms)))
	}
}

// SelectedRoom returns the ID of the currently selected room.
func (rl *RoomList) SelectedRoom() string {
	row, _ := rl.GetSelection()
	return rl.RoomByIndex(row)
}

// RoomByIndex returns the ID of the Nth visible room (1-based).
func (rl *RoomList) RoomByIndex(n int) string {
	if n < 1 || n > len(rl.visible) {
		return ""
	}
	return rl.visible[n-1].ID
}

func muteLabel(r api.RoomView, now time.Time) string {
	if !r.Muted {
		return ""
	}
	if r.MuteExpiresAt == nil {
		return "always"
	}
	if !r.MuteExpiresAt.After(now) {
		return ""
	}
	return "for " + strings.TrimSpace(humanize.RelTime(now, *r.MuteExpiresAt, "", ""))
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
