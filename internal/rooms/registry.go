// Package rooms keeps the server-side room subscriptions of the chat channel
// in step with the rooms the session needs, in as few round trips as possible.
package rooms

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/metrics"
	"go.uber.org/zap"
)

// Wire events owned by the registry.
const (
	EventJoinRoomsBatch = "joinRoomsBatch"
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventRoomsRestored  = "roomsRestored"
)

// Channel is the part of the chat connection the registry needs.
type Channel interface {
	Emit(ctx context.Context, event string, payload, result any) error
	Send(ctx context.Context, event string, payload any) error
}

// Membership records that the server acknowledged a join.
type Membership struct {
	RoomID   string
	JoinedAt time.Time
}

// JoinResult is the server's answer to a batched join.
type JoinResult struct {
	Joined []string `json:"joined"`
	Failed []string `json:"failed"`
}

// Registry tracks the known room set and the rooms joined on the current
// connection. Membership is only valid while the chat channel is connected.
type Registry struct {
	channel Channel
	metrics *metrics.Collectors
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	known    map[string]struct{}
	joined   map[string]Membership
	failed   map[string]struct{}
	inflight map[string]struct{}
	epoch    uint64
}

// New creates an empty registry that joins rooms over channel.
func New(channel Channel, m *metrics.Collectors, logger *zap.Logger) *Registry {
	return &Registry{
		channel:  channel,
		metrics:  m,
		logger:   logging.OrNop(logger),
		now:      time.Now,
		known:    make(map[string]struct{}),
		joined:   make(map[string]Membership),
		failed:   make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Sync adds desired to the known set and joins every known-but-unjoined room
// in a single batched call. Rooms the server failed to join on this
// connection are left for the next reconnect. No call is made when nothing is
// missing.
func (r *Registry) Sync(ctx context.Context, desired []string) (JoinResult, error) {
	r.mu.Lock()
	for _, id := range desired {
		if id != "" {
			r.known[id] = struct{}{}
		}
	}
	missing := r.missingLocked()
	epoch := r.epoch
	for _, id := range missing {
		r.inflight[id] = struct{}{}
	}
	r.mu.Unlock()

	if len(missing) == 0 {
		return JoinResult{}, nil
	}
	return r.joinBatch(ctx, epoch, missing)
}

// Replace makes desired the known set, dropping rooms it no longer lists,
// and joins whatever in it is not yet joined in a single batched call.
func (r *Registry) Replace(ctx context.Context, desired []string) (JoinResult, error) {
	r.mu.Lock()
	keep := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		if id != "" {
			keep[id] = struct{}{}
		}
	}
	for id := range r.known {
		if _, ok := keep[id]; !ok {
			r.forgetLocked(id)
		}
	}
	r.known = keep
	missing := r.missingLocked()
	epoch := r.epoch
	for _, id := range missing {
		r.inflight[id] = struct{}{}
	}
	r.mu.Unlock()

	if len(missing) == 0 {
		return JoinResult{}, nil
	}
	return r.joinBatch(ctx, epoch, missing)
}

// Restore re-joins the full known set after a reconnect, minus any rooms the
// server already reported as restored.
func (r *Registry) Restore(ctx context.Context) (JoinResult, error) {
	return r.Sync(ctx, nil)
}

func (r *Registry) joinBatch(ctx context.Context, epoch uint64, ids []string) (JoinResult, error) {
	var ack JoinResult
	err := r.channel.Emit(ctx, EventJoinRoomsBatch, ids, &ack)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.inflight, id)
	}
	if err != nil {
		return JoinResult{}, fmt.Errorf("join %d rooms: %w", len(ids), err)
	}
	if r.epoch != epoch {
		r.logger.Debug("discarding join ack from previous connection", zap.Int("rooms", len(ids)))
		return ack, nil
	}

	now := r.now()
	for _, id := range ack.Joined {
		if _, ok := r.known[id]; ok {
			r.joined[id] = Membership{RoomID: id, JoinedAt: now}
		}
	}
	for _, id := range ack.Failed {
		r.failed[id] = struct{}{}
	}
	r.metrics.SetJoined(len(r.joined))

	r.logger.Info("joined rooms",
		zap.Int("requested", len(ids)),
		zap.Int("joined", len(ack.Joined)),
		zap.Strings("failed", ack.Failed),
	)
	return ack, nil
}

// Join joins a single room, typically one pushed by the server while
// connected. It is a no-op when the room is already joined.
func (r *Registry) Join(ctx context.Context, roomID string) error {
	r.mu.Lock()
	r.known[roomID] = struct{}{}
	if _, ok := r.joined[roomID]; ok {
		r.mu.Unlock()
		return nil
	}
	epoch := r.epoch
	r.mu.Unlock()

	if err := r.channel.Emit(ctx, EventJoinRoom, roomID, nil); err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}

	r.mu.Lock()
	if r.epoch == epoch {
		if _, ok := r.known[roomID]; ok {
			r.joined[roomID] = Membership{RoomID: roomID, JoinedAt: r.now()}
		}
		delete(r.failed, roomID)
	}
	r.metrics.SetJoined(len(r.joined))
	r.mu.Unlock()
	return nil
}

// Leave drops roomID locally and tells the server. Leaving a room that is not
// joined does nothing.
func (r *Registry) Leave(ctx context.Context, roomID string) error {
	r.mu.Lock()
	_, wasJoined := r.joined[roomID]
	r.forgetLocked(roomID)
	r.mu.Unlock()

	if !wasJoined {
		return nil
	}
	if err := r.channel.Send(ctx, EventLeaveRoom, roomID); err != nil {
		// Membership dies with the connection anyway.
		r.logger.Debug("leaveRoom not sent", zap.String("room", roomID), zap.Error(err))
	}
	return nil
}

// Forget drops roomID without a server call, for rooms the server removed
// the user from.
func (r *Registry) Forget(roomID string) {
	r.mu.Lock()
	r.forgetLocked(roomID)
	r.mu.Unlock()
}

// HandleRestored records rooms the server restored on reconnect as joined,
// without a join call. Restored rooms not yet known become known.
func (r *Registry) HandleRestored(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	restored := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		r.known[id] = struct{}{}
		r.joined[id] = Membership{RoomID: id, JoinedAt: now}
		delete(r.failed, id)
		restored++
	}
	r.metrics.SetJoined(len(r.joined))
	r.logger.Info("rooms restored by server", zap.Int("rooms", restored))
}

// Suspend clears membership when the chat channel leaves connected. The
// known set is kept for Restore, and rooms that failed to join become
// eligible again.
func (r *Registry) Suspend() {
	r.mu.Lock()
	r.epoch++
	r.joined = make(map[string]Membership)
	r.failed = make(map[string]struct{})
	r.metrics.SetJoined(0)
	r.mu.Unlock()
}

// Reset forgets everything, for session end.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.epoch++
	r.known = make(map[string]struct{})
	r.joined = make(map[string]Membership)
	r.failed = make(map[string]struct{})
	r.metrics.SetJoined(0)
	r.mu.Unlock()
}

// Joined returns the current memberships sorted by room id.
func (r *Registry) Joined() []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Membership, 0, len(r.joined))
	for _, m := range r.joined {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// IsJoined reports whether roomID is joined on the current connection.
func (r *Registry) IsJoined(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.joined[roomID]
	return ok
}

// Known returns the known room ids, sorted.
func (r *Registry) Known() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.known)
}

func (r *Registry) missingLocked() []string {
	var out []string
	for id := range r.known {
		if _, ok := r.joined[id]; ok {
			continue
		}
		if _, ok := r.failed[id]; ok {
			continue
		}
		if _, ok := r.inflight[id]; ok {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) forgetLocked(roomID string) {
	delete(r.known, roomID)
	delete(r.joined, roomID)
	delete(r.failed, roomID)
	r.metrics.SetJoined(len(r.joined))
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
