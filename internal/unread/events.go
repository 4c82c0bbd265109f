package unread

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/realtime"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/store"
	"go.uber.org/zap"
)

// Wire events of the notifications channel used here.
const (
	EventGetUnreadNotifications = "getUnreadNotifications"
	EventMarkAsRead             = "markAsRead"
	EventMarkAllAsRead          = "markAllAsRead"
)

// Where a Summary came from.
const (
	SourceRPC  = "rpc"
	SourceREST = "rest"
	SourceNone = "none"
)

// EventNotification is an unread status change of an event.
type EventNotification struct {
	EventID   string
	EventName string
	Status    string
	Read      bool
}

// Summary is the unread event list with its count. Both fetch paths produce
// the same shape.
type Summary struct {
	Count  int
	Items  []EventNotification
	Source string
}

type unreadAck struct {
	Count               int                 `json:"count"`
	UnreadNotifications []rest.Notification `json:"unreadNotifications"`
}

type markAsReadPayload struct {
	EventID string `json:"eventId"`
}

type markAllPayload struct {
	EventIDs []string `json:"eventIds"`
}

type markAllAck struct {
	MarkedCount int `json:"markedCount"`
}

// FetchEvents replaces the unread event list. The notifications channel is
// preferred while connected; REST is used otherwise or when the channel call
// fails. If both fail the list is emptied. Events whose read receipt is still
// queued stay out of the list.
func (a *Accountant) FetchEvents(ctx context.Context) Summary {
	items, source := a.fetchEvents(ctx)
	events := a.withoutQueuedReceipts(fromWire(items))

	a.mu.Lock()
	a.events = events
	a.mu.Unlock()
	a.eventsChanged()

	return Summary{Count: len(events), Items: cloneEvents(events), Source: source}
}

func (a *Accountant) withoutQueuedReceipts(events []EventNotification) []EventNotification {
	if a.receipts == nil || len(events) == 0 {
		return events
	}
	pending, err := a.receipts.PendingReceipts()
	if err != nil {
		a.logger.Error("failed to load queued receipts", zap.Error(err))
		return events
	}
	read := make(map[string]struct{})
	for _, r := range pending {
		for _, id := range r.EventIDs {
			read[id] = struct{}{}
		}
	}
	if len(read) == 0 {
		return events
	}
	out := events[:0]
	for _, e := range events {
		if _, ok := read[e.EventID]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func (a *Accountant) fetchEvents(ctx context.Context) ([]rest.Notification, string) {
	if a.channel != nil && a.channel.Connected() {
		var ack unreadAck
		err := a.channel.Emit(ctx, EventGetUnreadNotifications, nil, &ack)
		if err == nil {
			if ack.Count != len(ack.UnreadNotifications) {
				a.logger.Debug("unread count differs from list length",
					zap.Int("count", ack.Count), zap.Int("items", len(ack.UnreadNotifications)))
			}
			return ack.UnreadNotifications, SourceRPC
		}
		a.logger.Warn("unread notifications over channel failed, using REST", zap.Error(err))
	}

	items, err := a.server.UnreadNotifications(ctx)
	if err != nil {
		a.logger.Warn("unread notifications over REST failed", zap.Error(err))
		return nil, SourceNone
	}
	return items, SourceREST
}

// MarkEventRead removes eventID from the list, then tells the server. The
// removal is not rolled back when the server call fails; the error is
// returned and the receipt queued for retry.
func (a *Accountant) MarkEventRead(ctx context.Context, eventID string) error {
	a.removeEvents([]string{eventID})

	err := a.DeliverReceipt(ctx, store.ReceiptSingle, []string{eventID})
	if err != nil {
		a.queueReceipt(store.ReceiptSingle, []string{eventID}, err)
		return fmt.Errorf("mark event %s read: %w", eventID, err)
	}
	return nil
}

// MarkAllEventsRead removes eventIDs, or every entry when eventIDs is empty,
// and marks them read in one call. When the notifications channel is down
// the batch is queued and replayed once it connects.
func (a *Accountant) MarkAllEventsRead(ctx context.Context, eventIDs []string) (int, error) {
	ids := eventIDs
	if len(ids) == 0 {
		ids = a.eventIDs()
	}
	a.removeEvents(eventIDs)
	if len(eventIDs) == 0 {
		a.ResetEvents()
	}

	if a.channel == nil || !a.channel.Connected() {
		if len(ids) > 0 {
			a.queueReceipt(store.ReceiptAll, ids, realtime.ErrNotConnected)
		}
		return 0, nil
	}

	var ack markAllAck
	if err := a.channel.Emit(ctx, EventMarkAllAsRead, markAllPayload{EventIDs: nonNil(eventIDs)}, &ack); err != nil {
		if len(ids) > 0 {
			a.queueReceipt(store.ReceiptAll, ids, err)
		}
		return 0, fmt.Errorf("mark all events read: %w", err)
	}
	return ack.MarkedCount, nil
}

// DeliverReceipt sends a mark-read call without touching the local list.
// Single receipts use REST when the channel is down; batches need the
// channel.
func (a *Accountant) DeliverReceipt(ctx context.Context, kind string, eventIDs []string) error {
	connected := a.channel != nil && a.channel.Connected()
	switch kind {
	case store.ReceiptSingle:
		if len(eventIDs) != 1 {
			return fmt.Errorf("single receipt with %d events", len(eventIDs))
		}
		if connected {
			return a.channel.Emit(ctx, EventMarkAsRead, markAsReadPayload{EventID: eventIDs[0]}, nil)
		}
		return a.server.MarkEventRead(ctx, eventIDs[0])
	case store.ReceiptAll:
		if !connected {
			return realtime.ErrNotConnected
		}
		return a.channel.Emit(ctx, EventMarkAllAsRead, markAllPayload{EventIDs: nonNil(eventIDs)}, nil)
	}
	return fmt.Errorf("unknown receipt kind %q", kind)
}

func (a *Accountant) queueReceipt(kind string, ids []string, cause error) {
	if a.receipts == nil {
		return
	}
	if permanent(cause) {
		a.logger.Warn("read receipt refused, not queued", zap.String("kind", kind), zap.Strings("events", ids), zap.Error(cause))
		return
	}
	if _, err := a.receipts.QueueReceipt(kind, ids, cause.Error()); err != nil {
		a.logger.Error("queueing read receipt failed", zap.Strings("events", ids), zap.Error(err))
		return
	}
	a.logger.Info("read receipt queued for retry", zap.String("kind", kind), zap.Int("events", len(ids)), zap.Error(cause))
}

// permanent reports whether replaying a receipt that failed with err would
// be refused again.
func permanent(err error) bool {
	var rejected *realtime.ServerRejectedError
	if errors.As(err, &rejected) {
		return true
	}
	var apiErr *rest.APIError
	return errors.As(err, &apiErr) && apiErr.Permanent()
}

// UpsertEvent records a status change of eventID. An entry already listed
// gets its status updated in place; a new one is appended as unread.
func (a *Accountant) UpsertEvent(eventID, eventName, status string) {
	a.mu.Lock()
	found := false
	for i := range a.events {
		if a.events[i].EventID == eventID {
			a.events[i].Status = status
			if eventName != "" {
				a.events[i].EventName = eventName
			}
			found = true
			break
		}
	}
	if !found {
		a.events = append(a.events, EventNotification{EventID: eventID, EventName: eventName, Status: status})
	}
	a.mu.Unlock()
	a.eventsChanged()
}

// ResetEvents clears the local list without telling the server.
func (a *Accountant) ResetEvents() {
	a.mu.Lock()
	a.events = nil
	a.mu.Unlock()
	a.eventsChanged()
}

// HasUnread reports whether eventID has an unread notification.
func (a *Accountant) HasUnread(eventID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, e := range a.events {
		if e.EventID == eventID {
			return true
		}
	}
	return false
}

// Events returns a copy of the unread event list.
func (a *Accountant) Events() []EventNotification {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneEvents(a.events)
}

// EventCount returns the number of unread event notifications.
func (a *Accountant) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}

func (a *Accountant) removeEvents(ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	a.mu.Lock()
	kept := a.events[:0:0]
	for _, e := range a.events {
		if !drop[e.EventID] {
			kept = append(kept, e)
		}
	}
	changed := len(kept) != len(a.events)
	a.events = kept
	a.mu.Unlock()
	if changed {
		a.eventsChanged()
	}
}

func (a *Accountant) eventIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.EventID
	}
	return out
}

func (a *Accountant) eventsChanged() {
	a.mu.RLock()
	total, n := a.totalLocked(), len(a.events)
	a.mu.RUnlock()
	a.metrics.SetUnread(total, n)
	a.bus.Emit(bus.KindEventsChanged, n)
}

func fromWire(items []rest.Notification) []EventNotification {
	out := make([]EventNotification, 0, len(items))
	for _, n := range items {
		out = append(out, EventNotification{
			EventID:   n.EventID.ID,
			EventName: n.EventID.EventName,
			Status:    n.Status,
			Read:      n.ReadBy,
		})
	}
	return out
}

func cloneEvents(in []EventNotification) []EventNotification {
	return append([]EventNotification{}, in...)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
