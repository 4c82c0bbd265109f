package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is the number of hints per column; it matches the header height.
const menuRows = 6

// Menu lists the current page's key hints in columns.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates an empty hint menu.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update renders hints top to bottom, wrapping into a new column every
// menuRows entries.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	if len(hints) == 0 {
		return
	}

	cols := (len(hints) + menuRows - 1) / menuRows
	width := make([]int, cols)
	for i, h := range hints {
		if w := len(h.Key) + len(h.Description) + 3; w > width[i/menuRows] {
			width[i/menuRows] = w
		}
	}

	rows := min(len(hints), menuRows)
	var b strings.Builder
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := c*menuRows + r
			if i >= len(hints) {
				break
			}
			b.WriteString(m.cell(hints[i], width[c]))
		}
		b.WriteByte('\n')
	}
	_, _ = fmt.Fprint(m, b.String())
}

func (m *Menu) cell(h MenuHint, width int) string {
	kc := m.theme.MenuKeyColor
	if h.Numeric {
		kc = m.theme.NumericKeyColor
	}
	pad := width - len(h.Key) - len(h.Description) - 3
	return fmt.Sprintf("[%s::b]<%s>[-:-:-] %s%s  ", colorName(kc), h.Key, h.Description, strings.Repeat(" ", pad))
}
