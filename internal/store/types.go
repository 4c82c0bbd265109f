package store

// OutboxEntry represents an outgoing chat message and its delivery state.
type OutboxEntry struct {
	ClientMsgID  string
	RoomID       string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
	Attempts     int
	CreatedAt    int64
}

// Outbox statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// ReadReceipt is a mark-read call that failed and waits to be retried.
type ReadReceipt struct {
	ID        int64
	Kind      string // single or all
	EventIDs  []string
	Attempts  int
	LastError string
}

// Read receipt kinds.
const (
	ReceiptSingle = "single"
	ReceiptAll    = "all"
)
