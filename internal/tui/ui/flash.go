package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

func (l FlashLevel) String() string {
	switch l {
	case FlashWarn:
		return "warn"
	case FlashErr:
		return "error"
	default:
		return "info"
	}
}

var flashTTL = map[FlashLevel]time.Duration{
	FlashInfo: 5 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

// FlashMessage is a footer notification that disappears at Expires.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// FlashModel holds the latest flash message. Safe for concurrent use; the
// app writes to it from background goroutines.
type FlashModel struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
}

func NewFlashModel() *FlashModel {
	return &FlashModel{now: time.Now}
}

func (f *FlashModel) Info(msg string) { f.set(msg, FlashInfo) }

func (f *FlashModel) Warn(msg string) { f.set(msg, FlashWarn) }

func (f *FlashModel) Err(err error) { f.set(err.Error(), FlashErr) }

// Clear drops the current message.
func (f *FlashModel) Clear() {
	f.mu.Lock()
	f.current = FlashMessage{}
	f.mu.Unlock()
}

func (f *FlashModel) set(msg string, level FlashLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// A fresh info message must not hide an error that is still showing.
	if level == FlashInfo && f.current.Level > FlashInfo && f.now().Before(f.current.Expires) {
		return
	}
	f.current = FlashMessage{Text: msg, Level: level, Expires: f.now().Add(flashTTL[level])}
}

// GetMessage returns the current message, or nil once it expired.
func (f *FlashModel) GetMessage() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || !f.now().Before(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// FlashBar renders a FlashModel message.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

// Update shows msg, or blanks the bar when msg is nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}
	color := fb.theme.FlashInfoColor
	switch msg.Level {
	case FlashWarn:
		color = fb.theme.FlashWarnColor
	case FlashErr:
		color = fb.theme.FlashErrColor
	}
	_, _ = fmt.Fprintf(fb, " [%s::b]%s[-:-:-] [%s]%s[-]", colorName(color), msg.Level, colorName(color), tview.Escape(msg.Text))
}
