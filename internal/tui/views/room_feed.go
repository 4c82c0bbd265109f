package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/teamsync/internal/stream"
	"github.com/matheus3301/teamsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// RoomFeed shows the live messages of one room with a composer below.
type RoomFeed struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	roomName string
	roomID   string
	self     string
	onSend   func(text string)
	onTyping func(typing bool)
	onBlur   func()
	typing   bool
}

// NewRoomFeed creates a new room feed view.
func NewRoomFeed(theme *ui.Theme) *RoomFeed {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	rf := &RoomFeed{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetChangedFunc(func(text string) {
		rf.setTyping(text != "")
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && rf.onSend != nil {
			text := composer.GetText()
			if text != "" {
				rf.onSend(text)
				composer.SetText("")
			}
		}
		if key == tcell.KeyEscape {
			rf.setTyping(false)
			if rf.onBlur != nil {
				rf.onBlur()
			}
		}
	})

	return rf
}

// Name implements Component.
func (rf *RoomFeed) Name() string {
	if rf.roomName != "" {
		return rf.roomName
	}
	return "Room"
}

// Start implements Component.
func (rf *RoomFeed) Start() {}

// Stop implements Component.
func (rf *RoomFeed) Stop() {
	rf.setTyping(false)
}

// FocusTarget implements Component.
func (rf *RoomFeed) FocusTarget() tview.Primitive { return rf.messages }

// Hints implements Component.
func (rf *RoomFeed) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetRoom switches the feed to another room.
func (rf *RoomFeed) SetRoom(roomID, name string) {
	rf.setTyping(false)
	rf.roomID = roomID
	rf.roomName = name
	rf.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(name))))
	rf.composer.SetText("")
}

// RoomID returns the room shown in the feed.
func (rf *RoomFeed) RoomID() string {
	return rf.roomID
}

// SetSelf sets the user ID rendered as "You".
func (rf *RoomFeed) SetSelf(userID string) {
	rf.self = userID
}

// SetOnSend sets the callback when a message is sent.
func (rf *RoomFeed) SetOnSend(fn func(text string)) {
	rf.onSend = fn
}

// SetOnTyping sets the callback fired when the composer starts or stops
// holding a draft.
func (rf *RoomFeed) SetOnTyping(fn func(typing bool)) {
	rf.onTyping = fn
}

// SetOnBlur sets the callback fired when Esc leaves the composer.
func (rf *RoomFeed) SetOnBlur(fn func()) {
	rf.onBlur = fn
}

func (rf *RoomFeed) setTyping(typing bool) {
	if typing == rf.typing {
		return
	}
	rf.typing = typing
	if rf.onTyping != nil {
		rf.onTyping(typing)
	}
}

// Update renders msgs, oldest first.
func (rf *RoomFeed) Update(msgs []stream.Message) {
	rf.messages.Clear()
	if len(msgs) == 0 {
		_, _ = fmt.Fprint(rf.messages, "[::d]No new messages since the monitor started.[-:-:-]")
		return
	}
	for _, m := range msgs {
		sender := m.Sender.Name
		if sender == "" {
			sender = m.Sender.ID
		}
		if rf.self != "" && m.Sender.ID == rf.self {
			sender = "You"
		}
		ts := ""
		if !m.CreatedAt.IsZero() {
			ts = m.CreatedAt.Local().Format("15:04")
		}
		_, _ = fmt.Fprintf(rf.messages, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)), ts,
			tview.Escape(sanitizeForTerminal(m.Body)))
	}
	rf.messages.ScrollToEnd()
}

// Messages returns the messages text view (for focus management).
func (rf *RoomFeed) Messages() *tview.TextView {
	return rf.messages
}

// Composer returns the composer input field (for focus management).
func (rf *RoomFeed) Composer() *tview.InputField {
	return rf.composer
}
