package ui

import "github.com/rivo/tview"

// MenuHint describes a keyboard shortcut shown in the header menu.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // room jump keys, drawn in their own color
}

// Component is a page of the monitor.
type Component interface {
	tview.Primitive

	// Name is the breadcrumb label. It may change while the page is shown.
	Name() string
	// FocusTarget returns the widget that takes focus when the page is shown.
	FocusTarget() tview.Primitive
	Start()
	Stop()
	Hints() []MenuHint
}
