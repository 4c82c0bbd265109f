package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/teamsync/internal/status"
)

// Theme holds the monitor's colors.
type Theme struct {
	BgColor     tcell.Color
	FgColor     tcell.Color
	BorderColor tcell.Color
	TitleColor  tcell.Color

	TableHeaderFg tcell.Color
	TableHeaderBg tcell.Color
	TableCursorFg tcell.Color
	TableCursorBg tcell.Color

	CrumbActiveFg   tcell.Color
	CrumbActiveBg   tcell.Color
	CrumbInactiveFg tcell.Color
	CrumbInactiveBg tcell.Color

	MenuKeyColor      tcell.Color
	NumericKeyColor   tcell.Color
	PromptBorderColor tcell.Color

	// UnreadColor highlights rooms and counters with something new.
	UnreadColor tcell.Color
	MutedColor  tcell.Color
	SelfColor   tcell.Color

	FlashInfoColor tcell.Color
	FlashWarnColor tcell.Color
	FlashErrColor  tcell.Color

	StateColors map[status.State]tcell.Color
}

// DefaultTheme returns the dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:     tcell.ColorBlack,
		FgColor:     tcell.ColorCadetBlue,
		BorderColor: tcell.ColorDodgerBlue,
		TitleColor:  tcell.ColorFuchsia,

		TableHeaderFg: tcell.ColorWhite,
		TableHeaderBg: tcell.ColorBlack,
		TableCursorFg: tcell.ColorBlack,
		TableCursorBg: tcell.ColorAqua,

		CrumbActiveFg:   tcell.ColorBlack,
		CrumbActiveBg:   tcell.ColorOrange,
		CrumbInactiveFg: tcell.ColorBlack,
		CrumbInactiveBg: tcell.ColorAqua,

		MenuKeyColor:      tcell.ColorDodgerBlue,
		NumericKeyColor:   tcell.ColorFuchsia,
		PromptBorderColor: tcell.ColorDodgerBlue,

		UnreadColor: tcell.ColorPapayaWhip,
		MutedColor:  tcell.ColorDimGray,
		SelfColor:   tcell.ColorLightGreen,

		FlashInfoColor: tcell.ColorNavajoWhite,
		FlashWarnColor: tcell.ColorOrange,
		FlashErrColor:  tcell.ColorOrangeRed,

		StateColors: map[status.State]tcell.Color{
			status.Connected:    tcell.ColorLimeGreen,
			status.Connecting:   tcell.ColorYellow,
			status.Reconnecting: tcell.ColorOrange,
			status.Error:        tcell.ColorOrangeRed,
			status.Disconnected: tcell.ColorDimGray,
		},
	}
}

// StateColor returns the color for a channel state name such as "CONNECTED".
func (t *Theme) StateColor(state string) tcell.Color {
	if c, ok := t.StateColors[status.State(state)]; ok {
		return c
	}
	return t.FgColor
}
