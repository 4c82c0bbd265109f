package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/teamsync/internal/api"
	"github.com/matheus3301/teamsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// EventList shows unread event status notifications.
type EventList struct {
	*tview.Table
	theme  *ui.Theme
	events []api.EventView
}

// NewEventList creates a new event table.
func NewEventList(theme *ui.Theme) *EventList {
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
	table.SetTitle(" Events ")
	table.SetTitleColor(theme.TitleColor)

	return &EventList{Table: table, theme: theme}
}

// Name implements Component.
func (el *EventList) Name() string { return "Events" }

// Start implements Component.
func (el *EventList) Start() {}

// Stop implements Component.
func (el *EventList) Stop() {}

// FocusTarget implements Component.
func (el *EventList) FocusTarget() tview.Primitive { return el }

// Hints implements Component.
func (el *EventList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "r", Description: "Mark read"},
		{Key: "a", Description: "Mark all read"},
		{Key: "f", Description: "Refresh"},
		{Key: "Esc", Description: "Back"},
	}
}

// Update refreshes the table.
func (el *EventList) Update(events []api.EventView) {
	el.events = events
	el.Clear()

	for col, h := range []string{" EVENT", " STATUS"} {
		el.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(el.theme.TableHeaderFg).
			SetBackgroundColor(el.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1))
	}
	for i, e := range events {
		name := e.EventName
		if name == "" {
			name = e.EventID
		}
		el.SetCell(i+1, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(2).SetTextColor(el.theme.FgColor))
		el.SetCell(i+1, 1, tview.NewTableCell(" "+tview.Escape(e.Status)).SetExpansion(1).SetTextColor(el.theme.UnreadColor))
	}
	el.SetTitle(fmt.Sprintf(" Events (%d) ", len(events)))
}

// SelectedEvent returns the ID of the selected event.
func (el *EventList) SelectedEvent() string {
	row, _ := el.GetSelection()
	if row < 1 || row > len(el.events) {
		return ""
	}
	return el.events[row-1].EventID
}
