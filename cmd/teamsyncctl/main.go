package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/teamsync/internal/api"
	"github.com/matheus3301/teamsync/internal/lock"
	"github.com/matheus3301/teamsync/internal/session"
	"google.golang.org/grpc/status"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "sessions" {
		cmdSessions(*jsonFlag)
		return
	}

	socketPath := session.PathsFor(sessionName).Socket
	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := &command{ctx: ctx, c: c, json: *jsonFlag}
	if err := cmd.run(args[0], args[1:]); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "usage: teamsyncctl %s\n", string(usage))
		} else {
			fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		}
		os.Exit(1)
	}
}

type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

type command struct {
	ctx  context.Context
	c    *api.Client
	json bool
}

func (cmd *command) run(name string, args []string) error {
	ctx, c := cmd.ctx, cmd.c
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch name {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		return cmd.print(st, func(w io.Writer) { printStatus(w, st) })
	case "login":
		if len(args) < 2 {
			return usageError("login <user-id> <token>")
		}
		st, err := c.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return cmd.print(st, func(w io.Writer) { printStatus(w, st) })
	case "logout":
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out.")
	case "rooms":
		rooms, err := c.Rooms(ctx)
		if err != nil {
			return err
		}
		return cmd.print(rooms, func(w io.Writer) { printRooms(w, rooms) })
	case "read":
		if arg(0) == "" {
			return usageError("read <room-id>")
		}
		changed, err := c.MarkRoomRead(ctx, arg(0))
		if err != nil {
			return err
		}
		if !changed {
			fmt.Println("Nothing to mark.")
			return nil
		}
		fmt.Println("Marked read.")
	case "active":
		// An empty room clears the active room.
		if err := c.SetActiveRoom(ctx, arg(0)); err != nil {
			return err
		}
	case "send":
		if len(args) < 2 {
			return usageError("send <room-id> <text...>")
		}
		v, err := c.SendMessage(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		return cmd.print(v, func(w io.Writer) { printOutbox(w, []api.OutboxView{v}) })
	case "retry":
		if arg(0) == "" {
			return usageError("retry <client-msg-id>")
		}
		v, err := c.RetryMessage(ctx, arg(0))
		if err != nil {
			return err
		}
		return cmd.print(v, func(w io.Writer) { printOutbox(w, []api.OutboxView{v}) })
	case "failed":
		msgs, err := c.FailedMessages(ctx)
		if err != nil {
			return err
		}
		return cmd.print(msgs, func(w io.Writer) {
			if len(msgs) == 0 {
				fmt.Fprintln(w, "No failed messages.")
				return
			}
			printOutbox(w, msgs)
		})
	case "typing":
		if arg(0) == "" || (arg(1) != "on" && arg(1) != "off") {
			return usageError("typing <room-id> on|off")
		}
		return c.SetTyping(ctx, arg(0), arg(1) == "on")
	case "join":
		if arg(0) == "" {
			return usageError("join <room-id>")
		}
		return c.JoinRoom(ctx, arg(0))
	case "leave":
		if arg(0) == "" {
			return usageError("leave <room-id>")
		}
		return c.LeaveRoom(ctx, arg(0))
	case "subscribe-event", "unsubscribe-event":
		if arg(0) == "" {
			return usageError(name + " <event-id>")
		}
		return c.SetEventSubscription(ctx, arg(0), name == "subscribe-event")
	case "mute":
		if arg(0) == "" {
			return usageError("mute <room-id> [1h|12h|24h|1w|permanent]")
		}
		p, err := c.MuteRoom(ctx, arg(0), arg(1))
		if err != nil {
			return err
		}
		return cmd.print(p, func(w io.Writer) { printPrefs(w, p) })
	case "unmute":
		if arg(0) == "" {
			return usageError("unmute <room-id>")
		}
		p, err := c.UnmuteRoom(ctx, arg(0))
		if err != nil {
			return err
		}
		return cmd.print(p, func(w io.Writer) { printPrefs(w, p) })
	case "mute-event":
		if arg(0) == "" {
			return usageError("mute-event <event-id>")
		}
		p, err := c.MuteEvent(ctx, arg(0))
		if err != nil {
			return err
		}
		return cmd.print(p, func(w io.Writer) { printPrefs(w, p) })
	case "unmute-event":
		if arg(0) == "" {
			return usageError("unmute-event <event-id>")
		}
		p, err := c.UnmuteEvent(ctx, arg(0))
		if err != nil {
			return err
		}
		return cmd.print(p, func(w io.Writer) { printPrefs(w, p) })
	case "prefs":
		p, err := c.Preferences(ctx)
		if err != nil {
			return err
		}
		if arg(0) == "set" {
			if err := setToggle(&p, arg(1), arg(2)); err != nil {
				return err
			}
			if p, err = c.UpdatePreferences(ctx, p); err != nil {
				return err
			}
		}
		return cmd.print(p, func(w io.Writer) { printPrefs(w, p) })
	case "events":
		refresh := arg(0) == "--refresh" || arg(0) == "-r"
		v, err := c.UnreadEvents(ctx, refresh)
		if err != nil {
			return err
		}
		return cmd.print(v, func(w io.Writer) {
			fmt.Fprintf(w, "%d unread (%s)\n", v.Count, v.Source)
			for _, e := range v.Events {
				fmt.Fprintf(w, "%-26s %-30s %s\n", e.EventID, e.EventName, e.Status)
			}
		})
	case "mark-read":
		if arg(0) == "" {
			return usageError("mark-read <event-id>")
		}
		return c.MarkEventRead(ctx, arg(0))
	case "mark-all":
		n, err := c.MarkAllEventsRead(ctx, args)
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d events read.\n", n)
	case "online":
		users, err := c.OnlineUsers(ctx)
		if err != nil {
			return err
		}
		return cmd.print(users, func(w io.Writer) {
			fmt.Fprintf(w, "%d online\n", len(users))
			for _, u := range users {
				fmt.Fprintln(w, u)
			}
		})
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", name)
	}
	return nil
}

// print writes v as JSON in --json mode, otherwise calls text.
func (cmd *command) print(v any, text func(w io.Writer)) error {
	if cmd.json {
		outputJSON(v)
		return nil
	}
	text(os.Stdout)
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: teamsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show session and channel status")
	fmt.Fprintln(os.Stderr, "  login <user-id> <token>     Store credentials and start syncing")
	fmt.Fprintln(os.Stderr, "  logout                      Stop syncing and forget credentials")
	fmt.Fprintln(os.Stderr, "  rooms                       List rooms with unread counts")
	fmt.Fprintln(os.Stderr, "  read <room>                 Mark a room read")
	fmt.Fprintln(os.Stderr, "  active [room]               Set or clear the active room")
	fmt.Fprintln(os.Stderr, "  send <room> <text>          Send a message")
	fmt.Fprintln(os.Stderr, "  retry <client-msg-id>       Resend a failed message")
	fmt.Fprintln(os.Stderr, "  failed                      List failed messages")
	fmt.Fprintln(os.Stderr, "  typing <room> on|off        Send a typing indicator")
	fmt.Fprintln(os.Stderr, "  join <room>                 Join a room")
	fmt.Fprintln(os.Stderr, "  leave <room>                Leave a room")
	fmt.Fprintln(os.Stderr, "  subscribe-event <id>        Receive status pushes for an event")
	fmt.Fprintln(os.Stderr, "  unsubscribe-event <id>      Stop status pushes for an event")
	fmt.Fprintln(os.Stderr, "  mute <room> [duration]      Mute a room (1h, 12h, 24h, 1w, permanent)")
	fmt.Fprintln(os.Stderr, "  unmute <room>               Unmute a room")
	fmt.Fprintln(os.Stderr, "  mute-event <id>             Mute an event")
	fmt.Fprintln(os.Stderr, "  unmute-event <id>           Unmute an event")
	fmt.Fprintln(os.Stderr, "  prefs                       Show notification preferences")
	fmt.Fprintln(os.Stderr, "  prefs set <toggle> on|off   Change chat, status, reminders or nearby")
	fmt.Fprintln(os.Stderr, "  events [--refresh]          List unread event notifications")
	fmt.Fprintln(os.Stderr, "  mark-read <event-id>        Mark one event read")
	fmt.Fprintln(os.Stderr, "  mark-all [event-id...]      Mark events read (all when none given)")
	fmt.Fprintln(os.Stderr, "  online                      List online users")
	fmt.Fprintln(os.Stderr, "  watch [kind-prefix]         Stream daemon events")
	fmt.Fprintln(os.Stderr, "  sessions                    List known sessions")
}

func printStatus(w io.Writer, st api.StatusView) {
	user := st.UserID
	if user == "" {
		user = "(not logged in)"
	}
	fmt.Fprintf(w, "Session:       %s\n", st.Session)
	fmt.Fprintf(w, "User:          %s\n", user)
	fmt.Fprintf(w, "Running:       %v\n", st.Running)
	fmt.Fprintf(w, "Chat:          %s (since %s)\n", st.Chat.State, since(st.Chat.Since))
	fmt.Fprintf(w, "Notifications: %s (since %s)\n", st.Notifications.State, since(st.Notifications.Since))
	fmt.Fprintf(w, "Rooms:         %d known, %d joined\n", st.KnownRooms, st.JoinedRooms)
	fmt.Fprintf(w, "Unread:        %s messages, %d events\n", humanize.Comma(int64(st.TotalUnread)), st.UnreadEvents)
	fmt.Fprintf(w, "Online:        %d\n", st.OnlineUsers)
	if st.ActiveRoom != "" {
		fmt.Fprintf(w, "Active room:   %s\n", st.ActiveRoom)
	}
	if st.LastResync != nil {
		fmt.Fprintf(w, "Last resync:   %s\n", humanize.Time(*st.LastResync))
	}
	if st.QueuedReceipts > 0 {
		fmt.Fprintf(w, "Receipts:      %d queued\n", st.QueuedReceipts)
	}
	if len(st.FailedRooms) > 0 {
		fmt.Fprintf(w, "Join failed:   %s\n", strings.Join(st.FailedRooms, ", "))
	}
	fmt.Fprintf(w, "Uptime:        %s\n", time.Duration(st.UptimeMs)*time.Millisecond)
}

func since(t time.Time) string {
	if t.IsZero() {
		return "start"
	}
	return humanize.Time(t)
}

func printRooms(w io.Writer, rooms []api.RoomView) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No rooms.")
		return
	}
	for _, r := range rooms {
		muted := ""
		switch {
		case r.Muted && r.MuteExpiresAt != nil:
			muted = "muted until " + r.MuteExpiresAt.Local().Format(time.DateTime)
		case r.Muted:
			muted = "muted"
		}
		fmt.Fprintf(w, "%-26s %-30s %6s  %s\n", r.ID, r.Name, humanize.Comma(int64(r.Unread)), muted)
	}
}

func printOutbox(w io.Writer, msgs []api.OutboxView) {
	for _, m := range msgs {
		fmt.Fprintf(w, "%s  %-8s room=%s attempts=%d", m.ClientMsgID, m.Status, m.RoomID, m.Attempts)
		if m.ServerMsgID != "" {
			fmt.Fprintf(w, " id=%s", m.ServerMsgID)
		}
		if m.Error != "" {
			fmt.Fprintf(w, " error=%q", m.Error)
		}
		fmt.Fprintln(w)
	}
}

// setToggle flips one preference toggle by its short name.
func setToggle(p *api.PreferencesView, name, value string) error {
	if value != "on" && value != "off" {
		return usageError("prefs set <chat|status|reminders|nearby> on|off")
	}
	on := value == "on"
	switch name {
	case "chat":
		p.ChatMessages = on
	case "status":
		p.EventStatusUpdates = on
	case "reminders":
		p.EventReminders = on
	case "nearby":
		p.NewEventInArea = on
	default:
		return usageError("prefs set <chat|status|reminders|nearby> on|off")
	}
	return nil
}

func printPrefs(w io.Writer, p api.PreferencesView) {
	fmt.Fprintf(w, "Chat messages:        %v\n", p.ChatMessages)
	fmt.Fprintf(w, "Event status updates: %v\n", p.EventStatusUpdates)
	fmt.Fprintf(w, "Event reminders:      %v\n", p.EventReminders)
	fmt.Fprintf(w, "New events in area:   %v\n", p.NewEventInArea)
	for _, m := range p.MutedChatRooms {
		until := "permanently"
		if m.MuteExpiresAt != nil {
			until = "until " + m.MuteExpiresAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "Muted room:           %s %s\n", m.ChatRoomID, until)
	}
	for _, e := range p.MutedEvents {
		fmt.Fprintf(w, "Muted event:          %s\n", e.EventID)
	}
}

func cmdWatch(c *api.Client, prefix string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream, err := c.Watch(ctx, prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		os.Exit(1)
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
			os.Exit(1)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		fmt.Printf("%s  %-22s %s\n", evt.OccurredAt.Local().Format(time.TimeOnly), evt.Kind, string(evt.Payload))
	}
}

type sessionRow struct {
	Name          string     `json:"name"`
	Path          string     `json:"path"`
	HasCredential bool       `json:"has_credential"`
	DaemonRunning bool       `json:"daemon_running"`
	PID           int        `json:"pid,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
}

func cmdSessions(jsonOut bool) {
	infos, err := session.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	rows := make([]sessionRow, 0, len(infos))
	for _, s := range infos {
		row := sessionRow{Name: s.Name, Path: s.Paths.Dir, HasCredential: s.HasCredential}
		if owner, held := lock.Holder(s.Paths.Lock); held {
			row.DaemonRunning = true
			row.PID = owner.PID
			if !owner.Since.IsZero() {
				row.Since = &owner.Since
			}
		}
		rows = append(rows, row)
	}
	if jsonOut {
		outputJSON(rows)
		return
	}
	if len(rows) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, r := range rows {
		state := "stopped"
		if r.DaemonRunning {
			state = fmt.Sprintf("running, pid %d", r.PID)
			if r.Since != nil {
				state += ", started " + humanize.Time(*r.Since)
			}
		}
		if !r.HasCredential {
			state += ", logged out"
		}
		fmt.Printf("%-20s %s (%s)\n", r.Name, r.Path, state)
	}
}

// describe strips the gRPC envelope from daemon errors.
func describe(err error) string {
	if s, ok := status.FromError(err); ok {
		return fmt.Sprintf("%s (%s)", s.Message(), s.Code())
	}
	return err.Error()
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
