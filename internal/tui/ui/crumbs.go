package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Crumbs shows the navigation path in the footer.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates an empty breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &Crumbs{TextView: tv, theme: theme}
}

// Update renders labels bottom first; the last one is highlighted.
func (c *Crumbs) Update(labels []string) {
	c.Clear()
	parts := make([]string, 0, len(labels))
	for i, label := range labels {
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(labels)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		parts = append(parts, fmt.Sprintf("[%s:%s:%s] %s [-:-:-]",
			colorName(fg), colorName(bg), attr, tview.Escape(label)))
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " "))
}

// colorName formats c for tview color tags.
func colorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
