// Package realtime owns the long-lived connections to the realtime server.
// Each Manager drives exactly one Channel through its lifecycle: handshake,
// acknowledged emits, listener fan-out and automatic reconnection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/metrics"
	"github.com/matheus3301/teamsync/internal/status"
	"go.uber.org/zap"
)

// Channel names one of the two logical realtime connections.
type Channel string

const (
	Chat          Channel = "chat"
	Notifications Channel = "notifications"
)

// Options configures a Manager.
type Options struct {
	Channel        Channel
	URL            string
	Dialer         Dialer
	Backoff        Backoff
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	Bus            *bus.Bus
	Metrics        *metrics.Collectors
	Logger         *zap.Logger
}

// Manager owns the connection of one channel.
//
// Event and state listeners run on the manager's goroutines, one at a time and
// in receive order. They must not call Connect, Disconnect, On or Close on the
// same manager, and must not wait for an Emit to complete.
type Manager struct {
	channel        Channel
	url            string
	dialer         Dialer
	backoff        Backoff
	connectTimeout time.Duration
	ackTimeout     time.Duration
	machine        *status.Machine
	metrics        *metrics.Collectors
	logger         *zap.Logger

	// notifyMu serializes transitions with their listener fan-out so that
	// listeners observe changes in order.
	notifyMu sync.Mutex

	listenMu  sync.RWMutex
	handlers  map[string][]listener
	stateFns  []stateListener
	nextSubID int

	mu         sync.Mutex
	conn       Conn
	credential string
	active     bool
	epoch      uint64
	loopCancel context.CancelFunc
	wake       chan struct{}
	pending    map[uint64]chan ackResult

	nextID atomic.Uint64
}

type listener struct {
	id int
	fn func(json.RawMessage)
}

type stateListener struct {
	id int
	fn func(status.Change)
}

type ackResult struct {
	data json.RawMessage
	err  error
}

// NewManager creates a disconnected manager.
func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 10 * time.Second
	}
	return &Manager{
		channel:        opts.Channel,
		url:            opts.URL,
		dialer:         opts.Dialer,
		backoff:        opts.Backoff,
		connectTimeout: opts.ConnectTimeout,
		ackTimeout:     opts.AckTimeout,
		machine:        status.NewMachine(string(opts.Channel), opts.Bus),
		metrics:        opts.Metrics,
		logger:         logging.OrNop(opts.Logger).With(zap.String("channel", string(opts.Channel))),
		handlers:       make(map[string][]listener),
		wake:           make(chan struct{}),
		pending:        make(map[uint64]chan ackResult),
	}
}

// Channel returns the channel this manager owns.
func (m *Manager) Channel() Channel {
	return m.channel
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Since returns when the current state was entered.
func (m *Manager) Since() time.Time {
	return m.machine.Since()
}

// Connected reports whether the channel permits sends.
func (m *Manager) Connected() bool {
	return m.machine.Current() == status.Connected
}

// Connect opens the channel with credential and blocks until the handshake
// succeeds or fails. A connect with the credential already in use is a no-op;
// a different credential replaces the current connection.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	if credential == "" {
		return &NoCredentialError{Channel: m.channel}
	}

	m.mu.Lock()
	if m.active && m.credential == credential {
		m.mu.Unlock()
		return nil
	}
	swap := m.active
	m.mu.Unlock()
	if swap {
		m.logger.Info("credential changed, replacing connection")
		m.teardown()
	}

	m.mu.Lock()
	m.active = true
	m.credential = credential
	m.epoch++
	epoch := m.epoch
	loopCtx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	m.mu.Unlock()

	m.setState(status.Connecting, nil)
	conn, err := m.handshake(ctx, credential)

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		cancel()
		if conn != nil {
			_ = conn.Close("superseded")
		}
		if err != nil {
			return err
		}
		return ErrNotConnected
	}
	if err != nil {
		m.active = false
		m.loopCancel = nil
		m.broadcastLocked()
		m.mu.Unlock()
		cancel()
		m.setState(status.Error, err)
		return err
	}
	m.conn = conn
	m.broadcastLocked()
	m.mu.Unlock()

	m.setState(status.Connected, nil)
	go m.run(loopCtx, conn, epoch, credential)
	return nil
}

// Disconnect detaches every listener, then closes the transport and fails
// in-flight acknowledgments. The manager can be connected again afterwards.
func (m *Manager) Disconnect() {
	m.listenMu.Lock()
	m.handlers = make(map[string][]listener)
	m.stateFns = nil
	m.listenMu.Unlock()

	m.teardown()
}

func (m *Manager) teardown() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.active = false
	m.credential = ""
	m.epoch++
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel = nil
	}
	m.failPendingLocked(ErrNotConnected)
	m.broadcastLocked()
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close("client disconnect")
	}
	if m.machine.Current() != status.Disconnected {
		m.setState(status.Disconnected, nil)
	}
}

// On registers handler for a server event. The returned subscription must be
// closed to detach it.
func (m *Manager) On(event string, handler func(json.RawMessage)) *Subscription {
	m.listenMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.handlers[event] = append(m.handlers[event], listener{id: id, fn: handler})
	m.listenMu.Unlock()

	return newSubscription(func() {
		m.listenMu.Lock()
		defer m.listenMu.Unlock()
		ls := m.handlers[event]
		for i, l := range ls {
			if l.id == id {
				m.handlers[event] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
	})
}

// OnStateChange registers fn for every state transition of this channel.
func (m *Manager) OnStateChange(fn func(status.Change)) *Subscription {
	m.listenMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.stateFns = append(m.stateFns, stateListener{id: id, fn: fn})
	m.listenMu.Unlock()

	return newSubscription(func() {
		m.listenMu.Lock()
		defer m.listenMu.Unlock()
		for i, l := range m.stateFns {
			if l.id == id {
				m.stateFns = append(m.stateFns[:i:i], m.stateFns[i+1:]...)
				break
			}
		}
	})
}

// Emit sends event with payload and waits for the server's acknowledgment,
// decoding it into result when result is non-nil. If the channel is not
// connected, Emit waits for it within the same ack timeout.
func (m *Manager) Emit(ctx context.Context, event string, payload, result any) error {
	ctx, cancel := context.WithTimeout(ctx, m.ackTimeout)
	defer cancel()
	start := time.Now()

	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("%s: encode %s: %w", m.channel, event, err)
	}

	conn, err := m.awaitConn(ctx)
	if err != nil {
		return m.emitFailed(event, err)
	}

	id := m.nextID.Add(1)
	ch := make(chan ackResult, 1)
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return m.emitFailed(event, ErrNotConnected)
	}
	m.pending[id] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}()

	if err := m.write(ctx, conn, Frame{Type: FrameEvent, Event: event, ID: id, Data: data}); err != nil {
		return m.emitFailed(event, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return m.emitFailed(event, res.err)
		}
		if err := m.decodeAck(event, res.data, result); err != nil {
			return m.emitFailed(event, err)
		}
		m.metrics.ObserveAck(string(m.channel), event, time.Since(start))
		return nil
	case <-ctx.Done():
		return m.emitFailed(event, ctx.Err())
	}
}

// Send writes event without waiting for an acknowledgment.
func (m *Manager) Send(ctx context.Context, event string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("%s: encode %s: %w", m.channel, event, err)
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, m.ackTimeout)
	defer cancel()
	return m.write(ctx, conn, Frame{Type: FrameEvent, Event: event, Data: data})
}

func (m *Manager) emitFailed(event string, err error) error {
	reason := "error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
		err = &AckTimeoutError{Channel: m.channel, Event: event, Timeout: m.ackTimeout}
	case errors.Is(err, ErrNotConnected):
		reason = "not_connected"
	case errors.Is(err, ErrNetworkLoss), errors.Is(err, ErrServerDisconnect):
		reason = "lost"
	}
	var rejected *ServerRejectedError
	if errors.As(err, &rejected) {
		reason = "rejected"
	}
	m.metrics.AckFailed(string(m.channel), event, reason)
	m.logger.Debug("emit failed", zap.String("event", event), zap.String("reason", reason), zap.Error(err))

	if reason == "timeout" || reason == "rejected" {
		return err
	}
	return fmt.Errorf("%s: %s: %w", m.channel, event, err)
}

func (m *Manager) decodeAck(event string, data json.RawMessage, result any) error {
	if len(data) == 0 {
		return nil
	}
	var st ackStatus
	if err := json.Unmarshal(data, &st); err == nil && st.Success != nil && !*st.Success {
		msg := st.Error
		var s string
		if json.Unmarshal(st.Message, &s) == nil && s != "" {
			msg = s
		}
		return &ServerRejectedError{Channel: m.channel, Event: event, Message: msg}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode %s ack: %w", event, err)
	}
	return nil
}

func (m *Manager) awaitConn(ctx context.Context) (Conn, error) {
	for {
		m.mu.Lock()
		conn, active, wake := m.conn, m.active, m.wake
		m.mu.Unlock()
		if conn != nil {
			return conn, nil
		}
		if !active {
			return nil, ErrNotConnected
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) write(ctx context.Context, conn Conn, f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, data)
}

// handshake dials and waits for the server's connect frame.
func (m *Manager) handshake(ctx context.Context, credential string) (Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)
	conn, err := m.dialer.Dial(hctx, m.url, header)
	if err != nil {
		return nil, m.connectErr(ctx, hctx, err)
	}

	data, err := conn.Read(hctx)
	if err != nil {
		_ = conn.Close("handshake failed")
		return nil, m.connectErr(ctx, hctx, err)
	}
	f, err := decodeFrame(data)
	if err != nil {
		_ = conn.Close("handshake failed")
		return nil, &HandshakeError{Channel: m.channel, Message: "malformed handshake frame"}
	}
	switch f.Type {
	case FrameConnect:
		return conn, nil
	case FrameConnectError:
		var ce connectError
		_ = json.Unmarshal(f.Data, &ce)
		_ = conn.Close("handshake rejected")
		return nil, &HandshakeError{Channel: m.channel, Message: ce.Message}
	default:
		_ = conn.Close("handshake failed")
		return nil, &HandshakeError{Channel: m.channel, Message: "unexpected " + f.Type + " frame"}
	}
}

func (m *Manager) connectErr(parent, hctx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		return &ConnectTimeoutError{Channel: m.channel, Timeout: m.connectTimeout}
	}
	return fmt.Errorf("%s: connect: %w", m.channel, err)
}

// run reads conn until it is lost, then reconnects, until torn down.
func (m *Manager) run(ctx context.Context, conn Conn, epoch uint64, credential string) {
	for {
		cause := m.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		_ = conn.Close("transport lost")
		if !m.lost(epoch, cause) {
			return
		}
		conn = m.reconnect(ctx, epoch, credential)
		if conn == nil {
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f, err := decodeFrame(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case FrameAck:
			m.resolveAck(f.ID, f.Data)
		case FrameEvent:
			m.dispatch(f.Event, f.Data)
		case FrameDisconnect:
			return ErrServerDisconnect
		default:
			m.logger.Debug("ignoring frame", zap.String("type", f.Type))
		}
	}
}

// lost records a transport loss. It returns true when the manager should
// try to reconnect.
func (m *Manager) lost(epoch uint64, cause error) bool {
	serverEnded := errors.Is(cause, ErrServerDisconnect)
	if !serverEnded && !errors.Is(cause, ErrNetworkLoss) {
		cause = fmt.Errorf("%w: %w", ErrNetworkLoss, cause)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return false
	}
	m.conn = nil
	m.failPendingLocked(cause)
	if serverEnded {
		m.active = false
		if m.loopCancel != nil {
			m.loopCancel()
			m.loopCancel = nil
		}
	}
	m.broadcastLocked()
	m.mu.Unlock()

	if serverEnded {
		m.setState(status.Disconnected, cause)
		return false
	}
	m.setState(status.Reconnecting, cause)
	return true
}

func (m *Manager) reconnect(ctx context.Context, epoch uint64, credential string) Conn {
	for attempt := 1; ; attempt++ {
		if m.backoff.Exhausted(attempt) {
			m.giveUp(epoch, fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, attempt-1))
			return nil
		}
		delay := m.backoff.Delay(attempt)
		m.logger.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		m.metrics.ReconnectAttempt(string(m.channel))
		conn, err := m.handshake(ctx, credential)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var he *HandshakeError
			if errors.As(err, &he) {
				m.giveUp(epoch, err)
				return nil
			}
			m.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		m.mu.Lock()
		if m.epoch != epoch {
			m.mu.Unlock()
			_ = conn.Close("superseded")
			return nil
		}
		m.conn = conn
		m.broadcastLocked()
		m.mu.Unlock()
		m.setState(status.Connected, nil)
		return conn
	}
}

func (m *Manager) giveUp(epoch uint64, cause error) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.active = false
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel = nil
	}
	m.broadcastLocked()
	m.mu.Unlock()
	m.setState(status.Error, cause)
}

func (m *Manager) resolveAck(id uint64, data json.RawMessage) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("ack for unknown emit", zap.Uint64("id", id))
		return
	}
	ch <- ackResult{data: data}
}

func (m *Manager) failPendingLocked(cause error) {
	for id, ch := range m.pending {
		ch <- ackResult{err: cause}
		delete(m.pending, id)
	}
}

// broadcastLocked wakes goroutines waiting in awaitConn.
func (m *Manager) broadcastLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.listenMu.RLock()
	defer m.listenMu.RUnlock()
	ls := m.handlers[event]
	if len(ls) == 0 {
		m.logger.Debug("no listener for event", zap.String("event", event))
		return
	}
	for _, l := range ls {
		l.fn(data)
	}
}

func (m *Manager) setState(to status.State, cause error) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	change, err := m.machine.Transition(to, cause)
	if err != nil {
		m.logger.Debug("state transition skipped", zap.Error(err))
		return
	}
	m.metrics.SetConnState(string(m.channel), string(to))

	fields := []zap.Field{zap.String("from", string(change.From)), zap.String("to", string(to))}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	if to == status.Error {
		m.logger.Warn("channel state changed", fields...)
	} else {
		m.logger.Info("channel state changed", fields...)
	}

	m.listenMu.RLock()
	defer m.listenMu.RUnlock()
	for _, l := range m.stateFns {
		l.fn(change)
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(payload)
}

// Endpoint joins the socket base URL and a channel namespace.
func Endpoint(base string, ch Channel) string {
	return strings.TrimRight(base, "/") + "/" + string(ch)
}
