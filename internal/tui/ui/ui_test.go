package ui

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rivo/tview"
)

func newTestPages(names ...string) *Pages {
	p := NewPages()
	for _, n := range names {
		p.AddPage(n, tview.NewBox(), true, false)
	}
	return p
}

func TestPagesStack(t *testing.T) {
	p := newTestPages("rooms", "room", "events")
	var changes int
	p.SetOnChange(func([]string) { changes++ })

	p.Reset("rooms")
	if !p.Push("room") {
		t.Fatal("push room refused")
	}
	if p.Push("room") {
		t.Error("pushing the current page should be a no-op")
	}
	p.Push("events")
	if got := p.Stack(); !slices.Equal(got, []string{"rooms", "room", "events"}) {
		t.Fatalf("stack = %v", got)
	}

	popped := p.PopTo("rooms")
	if !slices.Equal(popped, []string{"events", "room"}) {
		t.Errorf("PopTo = %v", popped)
	}
	if p.Current() != "rooms" || p.Depth() != 1 {
		t.Errorf("current = %q depth = %d", p.Current(), p.Depth())
	}
	if p.Pop() != "" {
		t.Error("last page must not be popped")
	}
	if p.PopTo("missing") != nil {
		t.Error("PopTo unknown page should do nothing")
	}
	if changes != 4 {
		t.Errorf("onChange fired %d times, want 4", changes)
	}
}

func TestFlashModel(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFlashModel()
	f.now = func() time.Time { return now }

	if f.GetMessage() != nil {
		t.Fatal("new model should be empty")
	}
	f.Err(errors.New("boom"))
	f.Info("hello")
	if m := f.GetMessage(); m == nil || m.Text != "boom" {
		t.Fatalf("info replaced a live error: %+v", m)
	}
	f.Warn("careful")
	if m := f.GetMessage(); m == nil || m.Level != FlashWarn {
		t.Fatalf("warn should replace error: %+v", m)
	}

	now = now.Add(9 * time.Second)
	if f.GetMessage() != nil {
		t.Error("warn should expire after 8s")
	}
	f.Info("later")
	f.Clear()
	if f.GetMessage() != nil {
		t.Error("Clear left a message")
	}
}

func TestPromptCompletions(t *testing.T) {
	p := NewPrompt(DefaultTheme(), "rooms", "read", "retry", "quit")
	p.Activate(PromptCommand)

	tests := []struct {
		text string
		want []string
	}{
		{"r", []string{"read", "retry", "rooms"}},
		{"RE", []string{"read", "retry"}},
		{"rooms", nil},
		{"retry abc", nil},
		{"", nil},
	}
	for _, tt := range tests {
		if got := p.Completions(tt.text); !slices.Equal(got, tt.want) {
			t.Errorf("Completions(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}

	p.Activate(PromptFilter)
	if got := p.Completions("r"); got != nil {
		t.Errorf("filter mode completed %v", got)
	}
}

func TestWorstState(t *testing.T) {
	tests := []struct{ a, b, want string }{
		{"CONNECTED", "CONNECTED", "CONNECTED"},
		{"CONNECTED", "RECONNECTING", "RECONNECTING"},
		{"ERROR", "CONNECTING", "ERROR"},
		{"", "CONNECTED", "DISCONNECTED"},
		{"CONNECTED", "bogus", "DISCONNECTED"},
	}
	for _, tt := range tests {
		if got := worstState(tt.a, tt.b); got != tt.want {
			t.Errorf("worstState(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}
