// Package tui is a terminal monitor for a running sync daemon.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/teamsync/internal/api"
	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/prefs"
	"github.com/matheus3301/teamsync/internal/tui/keys"
	"github.com/matheus3301/teamsync/internal/tui/model"
	"github.com/matheus3301/teamsync/internal/tui/ui"
	"github.com/matheus3301/teamsync/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageRooms  = "rooms"
	pageRoom   = "room"
	pageEvents = "events"
	pageHelp   = "help"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	client   *api.Client
	vm       *model.ViewModel
	registry *keys.Registry
	theme    *ui.Theme
	flash    *ui.FlashModel
	session  string

	pages     *ui.Pages
	layout    *tview.Flex
	info      *ui.SessionInfo
	logo      *ui.Logo
	menu      *ui.Menu
	crumbs    *ui.Crumbs
	prompt    *ui.Prompt
	flashBar  *ui.FlashBar
	roomList  *views.RoomList
	feed      *views.RoomFeed
	eventList *views.EventList
	help      *views.HelpView

	components map[string]ui.Component

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *api.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		client:    c,
		vm:        model.NewViewModel(c),
		registry:  keys.NewRegistry(),
		theme:     theme,
		flash:     ui.NewFlashModel(),
		session:   sessionName,
		pages:     ui.NewPages(),
		info:      ui.NewSessionInfo(theme),
		logo:      ui.NewLogo(theme),
		menu:      ui.NewMenu(theme),
		crumbs:    ui.NewCrumbs(theme),
		prompt:    ui.NewPrompt(theme, commandNames...),
		flashBar:  ui.NewFlashBar(theme),
		roomList:  views.NewRoomList(theme),
		feed:      views.NewRoomFeed(theme),
		eventList: views.NewEventList(theme),
		help:      views.NewHelpView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.components = map[string]ui.Component{
		pageRooms:  a.roomList,
		pageRoom:   a.feed,
		pageEvents: a.eventList,
		pageHelp:   a.help,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	r := a.registry
	r.AddGlobal(keys.OnRune(':', func() { a.showPrompt(ui.PromptCommand) }))
	r.AddGlobal(keys.OnRune('?', func() { a.push(pageHelp) }))
	r.AddGlobal(keys.OnRune('q', func() {
		if a.pages.Depth() > 1 {
			a.pop()
			return
		}
		a.app.Stop()
	}))
	r.AddGlobal(keys.OnKey(tcell.KeyEscape, func() {
		if a.pages.Depth() > 1 {
			a.pop()
		}
	}))

	r.AddView(pageRooms, keys.OnRune('/', func() { a.showPrompt(ui.PromptFilter) }))
	r.AddView(pageRooms, keys.OnRune('e', func() { a.showEvents() }))
	r.AddView(pageRooms, keys.OnRune('r', func() { a.markSelectedRead() }))
	r.AddView(pageRooms, keys.OnRune('m', func() { a.muteSelected(prefs.MuteOneHour) }))
	r.AddView(pageRooms, keys.OnRune('u', func() { a.unmuteSelected() }))
	for n := 1; n <= 9; n++ {
		r.AddView(pageRooms, keys.OnRune(rune('0'+n), func() {
			if id := a.roomList.RoomByIndex(n); id != "" {
				a.openRoom(id)
			}
		}))
	}

	r.AddView(pageRoom, keys.OnRune('i', func() { a.app.SetFocus(a.feed.Composer()) }))

	r.AddView(pageEvents, keys.OnRune('r', func() { a.markSelectedEventRead() }))
	r.AddView(pageEvents, keys.OnRune('a', func() { a.markAllEventsRead() }))
	r.AddView(pageEvents, keys.OnRune('f', func() { a.loadEvents(true) }))
}

func (a *App) setupCallbacks() {
	a.roomList.SetSelectedFunc(func(row, _ int) {
		if id := a.roomList.RoomByIndex(row); id != "" {
			a.openRoom(id)
		}
	})

	a.feed.SetOnSend(func(text string) {
		roomID := a.feed.RoomID()
		a.background(func() error {
			v, err := a.client.SendMessage(a.ctx, roomID, text)
			if err != nil {
				return err
			}
			if v.Status == api.OutboxFailed {
				a.flash.Warn(fmt.Sprintf("Send failed (%s), :retry %s", v.Error, v.ClientMsgID))
			}
			return nil
		})
	})
	a.feed.SetOnTyping(func(typing bool) {
		roomID := a.feed.RoomID()
		if roomID == "" {
			return
		}
		go func() { _ = a.client.SetTyping(a.ctx, roomID, typing) }()
	})
	a.feed.SetOnBlur(func() { a.app.SetFocus(a.feed.Messages()) })

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptFilter:
			a.roomList.SetFilter(text)
		}
	})
	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		if mode == ui.PromptFilter {
			a.roomList.SetFilter(text)
		}
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.roomList.ClearFilter()
		}
		a.hidePrompt()
	})

	a.pages.SetOnChange(func([]string) {
		a.updateChrome()
	})
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(a.logo, 16, 0, false)

	for name, c := range a.components {
		a.pages.AddPage(name, c, true, false)
	}

	a.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 8, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)
	a.layout.SetBackgroundColor(a.theme.BgColor)

	a.app.SetRoot(a.layout, true)
	a.pages.Reset(pageRooms)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Text inputs own every key; their done funcs handle Enter and Esc.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}
		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

func (a *App) push(page string) {
	if !a.pages.Push(page) {
		return
	}
	a.components[page].Start()
	a.focusCurrent()
}

func (a *App) pop() {
	a.closed(a.pages.Pop())
	a.focusCurrent()
}

// popTo unwinds the stack down to page, stopping every page it leaves.
func (a *App) popTo(page string) {
	for _, name := range a.pages.PopTo(page) {
		a.closed(name)
	}
	a.focusCurrent()
}

func (a *App) closed(page string) {
	if c, ok := a.components[page]; ok {
		c.Stop()
	}
	if page == pageRoom {
		a.background(func() error { return a.vm.CloseRoom(a.ctx) })
	}
}

func (a *App) focusCurrent() {
	if c, ok := a.components[a.pages.Current()]; ok {
		a.app.SetFocus(c.FocusTarget())
	}
}

// updateChrome refreshes the breadcrumbs and hints for the page stack.
func (a *App) updateChrome() {
	stack := a.pages.Stack()
	labels := make([]string, len(stack))
	for i, name := range stack {
		labels[i] = a.components[name].Name()
	}
	a.crumbs.Update(labels)
	if c, ok := a.components[a.pages.Current()]; ok {
		a.menu.Update(c.Hints())
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.layout.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.layout.ResizeItem(a.prompt, 0, 0)
	a.focusCurrent()
}

func (a *App) openRoom(roomID string) {
	name := roomID
	if r, ok := a.vm.Room(roomID); ok && r.Name != "" {
		name = r.Name
	}
	a.feed.SetRoom(roomID, name)
	a.feed.Update(a.vm.Feed(roomID))
	a.push(pageRoom)
	a.updateChrome()
	a.background(func() error { return a.vm.OpenRoom(a.ctx, roomID) })
}

func (a *App) showEvents() {
	a.push(pageEvents)
	a.loadEvents(false)
}

func (a *App) loadEvents(refresh bool) {
	a.background(func() error { return a.vm.LoadEvents(a.ctx, refresh) })
}

func (a *App) selectedRoom() string {
	if a.pages.Current() == pageRoom {
		return a.feed.RoomID()
	}
	return a.roomList.SelectedRoom()
}

func (a *App) markSelectedRead() {
	roomID := a.selectedRoom()
	if roomID == "" {
		return
	}
	a.background(func() error {
		if _, err := a.client.MarkRoomRead(a.ctx, roomID); err != nil {
			return err
		}
		return a.vm.LoadRooms(a.ctx)
	})
}

func (a *App) muteSelected(d prefs.MuteDuration) {
	roomID := a.selectedRoom()
	if roomID == "" {
		return
	}
	a.background(func() error {
		if _, err := a.client.MuteRoom(a.ctx, roomID, string(d)); err != nil {
			return err
		}
		if d == prefs.MutePermanent {
			a.flash.Info("Room muted")
		} else {
			a.flash.Info("Room muted for " + string(d))
		}
		return a.vm.LoadRooms(a.ctx)
	})
}

func (a *App) unmuteSelected() {
	roomID := a.selectedRoom()
	if roomID == "" {
		return
	}
	a.background(func() error {
		if _, err := a.client.UnmuteRoom(a.ctx, roomID); err != nil {
			return err
		}
		a.flash.Info("Room unmuted")
		return a.vm.LoadRooms(a.ctx)
	})
}

func (a *App) markSelectedEventRead() {
	id := a.eventList.SelectedEvent()
	if id == "" {
		return
	}
	a.background(func() error { return a.vm.MarkEventRead(a.ctx, id) })
}

func (a *App) markAllEventsRead() {
	a.background(func() error {
		n, err := a.vm.MarkAllEventsRead(a.ctx)
		if err != nil {
			return err
		}
		a.flash.Info(fmt.Sprintf("Marked %d events read", n))
		return nil
	})
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "q", "quit":
		a.app.Stop()
	case "h", "help":
		a.push(pageHelp)
	case "events", "ev":
		a.showEvents()
	case "rooms":
		a.popTo(pageRooms)
	case "login":
		user, token := cmd.Arg(0), cmd.Arg(1)
		if user == "" || token == "" {
			a.flash.Warn("usage: :login <user> <token>")
			return
		}
		a.background(func() error {
			if _, err := a.client.Login(a.ctx, user, token); err != nil {
				return err
			}
			a.flash.Info("Logged in as " + user)
			return a.reload()
		})
	case "logout":
		a.background(func() error {
			if err := a.client.Logout(a.ctx); err != nil {
				return err
			}
			a.flash.Info("Logged out")
			return a.vm.LoadStatus(a.ctx)
		})
	case "mute":
		d := prefs.MutePermanent
		if arg := cmd.Arg(0); arg != "" {
			parsed, err := prefs.ParseMuteDuration(arg)
			if err != nil {
				a.flash.Err(err)
				return
			}
			d = parsed
		}
		a.muteSelected(d)
	case "unmute":
		a.unmuteSelected()
	case "read":
		a.markSelectedRead()
	case "retry":
		id := cmd.Arg(0)
		if id == "" {
			a.flash.Warn("usage: :retry <client-msg-id>")
			return
		}
		a.background(func() error {
			v, err := a.client.RetryMessage(a.ctx, id)
			if err != nil {
				return err
			}
			a.flash.Info("Message " + v.Status)
			return nil
		})
	case "":
	default:
		a.flash.Warn(fmt.Sprintf("unknown command: %s", strings.TrimSpace(cmd.Name)))
	}
	a.render()
}

// background runs fn off the UI goroutine and redraws when it finishes.
func (a *App) background(fn func() error) {
	go func() {
		if err := fn(); err != nil && a.ctx.Err() == nil {
			a.flash.Err(err)
		}
		a.app.QueueUpdateDraw(a.render)
	}()
}

func (a *App) reload() error {
	if err := a.vm.LoadStatus(a.ctx); err != nil {
		return err
	}
	if err := a.vm.LoadRooms(a.ctx); err != nil {
		return err
	}
	return a.vm.LoadEvents(a.ctx, false)
}

// render copies view model state into the widgets. Must run on the UI goroutine.
func (a *App) render() {
	if st := a.vm.Status(); st != nil {
		a.info.Update(&ui.SessionData{
			Session:       a.session,
			User:          st.UserID,
			Chat:          st.Chat.State,
			Notifications: st.Notifications.State,
			Rooms:         st.KnownRooms,
			Unread:        st.TotalUnread,
			Events:        st.UnreadEvents,
			Online:        st.OnlineUsers,
			LastResync:    st.LastResync,
			Uptime:        time.Duration(st.UptimeMs) * time.Millisecond,
		})
		a.logo.Update(st.Chat.State, st.Notifications.State)
		a.feed.SetSelf(st.UserID)
	}
	row, _ := a.roomList.GetSelection()
	a.roomList.Update(a.vm.Rooms())
	if row < 1 {
		row = 1
	}
	a.roomList.Select(row, 0)
	a.eventList.Update(a.vm.Events())
	if id := a.feed.RoomID(); id != "" {
		a.feed.Update(a.vm.Feed(id))
	}
	a.flashBar.Update(a.flash.GetMessage())
	a.updateChrome()
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		if err := a.reload(); err != nil {
			a.flash.Err(err)
		}
		a.app.QueueUpdateDraw(a.render)
		go a.watch()
		a.renderLoop()
	}()
	return a.app.Run()
}

// watch follows the daemon event stream, reconnecting until the app stops.
func (a *App) watch() {
	for a.ctx.Err() == nil {
		stream, err := a.client.Watch(a.ctx, "")
		if err == nil {
			err = a.follow(stream)
		}
		if a.ctx.Err() != nil {
			return
		}
		a.flash.Warn("event stream lost: " + err.Error())
		select {
		case <-time.After(2 * time.Second):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) follow(stream *api.EventStream) error {
	var last uint64
	for {
		evt, err := stream.Recv()
		if err != nil {
			return err
		}
		missed := last != 0 && evt.Seq > last+1
		last = evt.Seq
		if missed {
			if err := a.reload(); err != nil {
				a.flash.Err(err)
			}
		}
		reloadRooms, reloadEvents := a.vm.Apply(evt)
		switch {
		case strings.HasPrefix(evt.Kind, bus.KindConnPrefix),
			evt.Kind == bus.KindSessionStarted,
			evt.Kind == bus.KindSessionStopped:
			_ = a.vm.LoadStatus(a.ctx)
		case evt.Kind == bus.KindMessageSendFail:
			a.flash.Warn("A message failed to send, see teamsyncctl failed")
		}
		if reloadRooms {
			_ = a.vm.LoadRooms(a.ctx)
		}
		if reloadEvents {
			_ = a.vm.LoadEvents(a.ctx, false)
		}
	}
}

// renderLoop redraws on view model changes and polls status for uptime and channel state.
func (a *App) renderLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = a.vm.LoadStatus(a.ctx)
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(a.render)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
