// Package outbox delivers the writes the sync layer owes the server: chat
// messages keyed by a client message id, and read receipts queued while the
// notifications channel was unavailable.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/store"
	"go.uber.org/zap"
)

// EventSendMessage is the chat event carrying an outgoing message.
const EventSendMessage = "sendMessage"

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoRoom         = errors.New("room id is required")
	ErrUnknownMessage = errors.New("unknown outbox message")
	ErrInFlight       = errors.New("message is still being sent")
)

// Channel is the chat connection messages go out on.
type Channel interface {
	Emit(ctx context.Context, event string, payload, result any) error
}

type sendPayload struct {
	RoomID      string `json:"roomId"`
	Message     string `json:"message"`
	ClientMsgID string `json:"clientMsgId"`
}

type sendAck struct {
	Message struct {
		ID string `json:"_id"`
	} `json:"message"`
}

// Sender records every outgoing message in the outbox before emitting it,
// so a failed send can be retried under the same client message id.
type Sender struct {
	db      *store.DB
	channel Channel
	bus     *bus.Bus
	logger  *zap.Logger
	newID   func() string
}

// NewSender creates a message sender.
func NewSender(db *store.DB, channel Channel, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:      db,
		channel: channel,
		bus:     b,
		logger:  logging.OrNop(logger),
		newID:   uuid.NewString,
	}
}

// Recover fails entries a previous run left mid-send.
func (s *Sender) Recover() error {
	n, err := s.db.FailInterruptedOutbox("interrupted")
	if err != nil {
		return fmt.Errorf("recover outbox: %w", err)
	}
	if n > 0 {
		s.logger.Info("marked interrupted messages as failed", zap.Int64("count", n))
	}
	return nil
}

// Send queues body for roomID and emits it, waiting for the server's
// acknowledgment. The returned entry reflects the final outbox state even
// when err is non-nil.
func (s *Sender) Send(ctx context.Context, roomID, body string) (store.OutboxEntry, error) {
	if roomID == "" {
		return store.OutboxEntry{}, ErrNoRoom
	}
	if strings.TrimSpace(body) == "" {
		return store.OutboxEntry{}, ErrEmptyMessage
	}
	id := s.newID()
	if err := s.db.QueueOutbox(id, roomID, body); err != nil {
		return store.OutboxEntry{}, fmt.Errorf("queue message: %w", err)
	}
	return s.deliver(ctx, id, roomID, body)
}

// Retry re-emits a message that has not been acknowledged, reusing its client
// message id. Retrying a sent message returns it unchanged.
func (s *Sender) Retry(ctx context.Context, clientMsgID string) (store.OutboxEntry, error) {
	e, err := s.db.GetOutbox(clientMsgID)
	if err != nil {
		return store.OutboxEntry{}, fmt.Errorf("load message: %w", err)
	}
	if e == nil {
		return store.OutboxEntry{}, ErrUnknownMessage
	}
	switch e.Status {
	case store.OutboxSent:
		return *e, nil
	case store.OutboxSending:
		return *e, ErrInFlight
	}
	return s.deliver(ctx, e.ClientMsgID, e.RoomID, e.Body)
}

// Failed lists messages whose last attempt failed, oldest first.
func (s *Sender) Failed() ([]store.OutboxEntry, error) {
	return s.db.FailedOutbox()
}

func (s *Sender) deliver(ctx context.Context, id, roomID, body string) (store.OutboxEntry, error) {
	claimed, err := s.db.MarkOutboxSending(id)
	if err != nil {
		return store.OutboxEntry{}, fmt.Errorf("mark sending: %w", err)
	}
	if !claimed {
		// Another caller got here first.
		e := s.entry(id)
		if e.Status == store.OutboxSent {
			return e, nil
		}
		return e, ErrInFlight
	}

	var ack sendAck
	sendErr := s.channel.Emit(ctx, EventSendMessage, sendPayload{RoomID: roomID, Message: body, ClientMsgID: id}, &ack)
	if sendErr != nil {
		s.logger.Warn("send failed", zap.String("client_msg_id", id), zap.String("room", roomID), zap.Error(sendErr))
		if err := s.db.MarkOutboxFailed(id, sendErr.Error()); err != nil {
			s.logger.Error("failed to mark message failed", zap.Error(err))
		}
		s.bus.Emit(bus.KindMessageSendFail, map[string]string{
			"client_msg_id": id,
			"room_id":       roomID,
			"error":         sendErr.Error(),
		})
		return s.entry(id), sendErr
	}

	if err := s.db.MarkOutboxSent(id, ack.Message.ID); err != nil {
		s.logger.Error("failed to mark message sent", zap.Error(err))
	}
	s.bus.Emit(bus.KindMessageSendAck, map[string]string{
		"client_msg_id": id,
		"server_msg_id": ack.Message.ID,
		"room_id":       roomID,
	})
	s.logger.Debug("message sent", zap.String("client_msg_id", id), zap.String("server_msg_id", ack.Message.ID))
	return s.entry(id), nil
}

func (s *Sender) entry(id string) store.OutboxEntry {
	e, err := s.db.GetOutbox(id)
	if err != nil || e == nil {
		return store.OutboxEntry{ClientMsgID: id}
	}
	return *e
}
