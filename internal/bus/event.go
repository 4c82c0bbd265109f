package bus

import "time"

// Event is one change in the sync layer. Seq is assigned by Publish and
// increases by one per published event.
type Event struct {
	Seq       uint64
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the sync layer. UI collaborators subscribe by prefix.
const (
	KindConnPrefix      = "conn."
	KindMessageReceived = "message.received"
	KindMessageSendAck  = "message.send_ack"
	KindMessageSendFail = "message.send_failed"
	KindRoomsChanged    = "rooms.changed"
	KindUnreadChanged   = "unread.changed"
	KindEventsChanged   = "events.changed"
	KindPresenceChanged = "presence.changed"
	KindPrefsChanged    = "prefs.changed"
	KindReceiptRetried  = "receipt.retried"
	KindSessionStarted  = "session.started"
	KindSessionStopped  = "session.stopped"
)

// ConnStateKind returns the kind published when a channel changes state.
func ConnStateKind(channel string) string {
	return KindConnPrefix + channel + ".state_changed"
}
