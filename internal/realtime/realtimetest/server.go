// Package realtimetest provides an in-process realtime server for tests.
package realtimetest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// Handler answers an acknowledged emit. Its return value becomes the ack data.
type Handler func(data json.RawMessage) any

// Call records one client emit.
type Call struct {
	Path  string
	Event string
	ID    uint64
	Data  json.RawMessage
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server speaks the realtime frame protocol on every path.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	silent   map[string]bool
	conns    map[*websocket.Conn]string
	calls    []Call
	tokens   []string
	reject   string
	token    string
	mute     bool
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		handlers: make(map[string]Handler),
		silent:   make(map[string]bool),
		conns:    make(map[*websocket.Conn]string),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// base URL.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// Handle sets the ack handler for event.
func (s *Server) Handle(event string, h Handler) {
	s.mu.Lock()
	s.handlers[event] = h
	s.mu.Unlock()
}

// Silence makes the server never acknowledge event.
func (s *Server) Silence(event string) {
	s.mu.Lock()
	s.silent[event] = true
	s.mu.Unlock()
}

// Unsilence makes the server acknowledge event again.
func (s *Server) Unsilence(event string) {
	s.mu.Lock()
	delete(s.silent, event)
	s.mu.Unlock()
}

// RejectHandshake makes new connections fail with a connect_error carrying msg.
// An empty msg accepts connections again.
func (s *Server) RejectHandshake(msg string) {
	s.mu.Lock()
	s.reject = msg
	s.mu.Unlock()
}

// MuteHandshake makes new connections never receive the connect frame.
func (s *Server) MuteHandshake(mute bool) {
	s.mu.Lock()
	s.mute = mute
	s.mu.Unlock()
}

// RequireToken rejects connections whose bearer token differs from token.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Push sends a server event to every connection on path, e.g. "/chat".
func (s *Server) Push(path, event string, data any) {
	raw, _ := json.Marshal(data)
	msg, _ := json.Marshal(frame{Type: "event", Event: event, Data: raw})
	for _, c := range s.connsOn(path) {
		_ = c.Write(context.Background(), websocket.MessageText, msg)
	}
}

// Kick sends an explicit disconnect to every connection on path.
func (s *Server) Kick(path string) {
	msg, _ := json.Marshal(frame{Type: "disconnect"})
	for _, c := range s.connsOn(path) {
		_ = c.Write(context.Background(), websocket.MessageText, msg)
	}
}

// Drop abruptly closes every connection on path, simulating network loss.
func (s *Server) Drop(path string) {
	for _, c := range s.connsOn(path) {
		_ = c.CloseNow()
	}
}

// DropAll abruptly closes every connection.
func (s *Server) DropAll() {
	s.Drop("")
}

// Calls returns the recorded emits of event. An empty event returns all.
func (s *Server) Calls(event string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if event == "" || c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

// Tokens returns the bearer tokens of every accepted handshake, in order.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// Conns returns the number of open connections on path.
func (s *Server) Conns(path string) int {
	return len(s.connsOn(path))
}

func (s *Server) connsOn(path string) []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*websocket.Conn
	for c, p := range s.conns {
		if path == "" || p == path {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := context.Background()
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	reject, want, mute := s.reject, s.token, s.mute
	s.mu.Unlock()

	if reject == "" && want != "" && token != want {
		reject = "invalid token"
	}
	if reject != "" {
		data, _ := json.Marshal(map[string]string{"message": reject})
		msg, _ := json.Marshal(frame{Type: "connect_error", Data: data})
		_ = c.Write(ctx, websocket.MessageText, msg)
		_ = c.Close(websocket.StatusPolicyViolation, reject)
		return
	}

	s.mu.Lock()
	s.conns[c] = r.URL.Path
	if !mute {
		s.tokens = append(s.tokens, token)
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	if !mute {
		msg, _ := json.Marshal(frame{Type: "connect"})
		if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
			return
		}
	}

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var f frame
		if json.Unmarshal(data, &f) != nil || f.Type != "event" {
			continue
		}
		s.mu.Lock()
		s.calls = append(s.calls, Call{Path: r.URL.Path, Event: f.Event, ID: f.ID, Data: f.Data})
		h := s.handlers[f.Event]
		silent := s.silent[f.Event]
		s.mu.Unlock()

		if f.ID == 0 || silent {
			continue
		}
		var resp any = map[string]bool{"success": true}
		if h != nil {
			resp = h(f.Data)
		}
		raw, _ := json.Marshal(resp)
		msg, _ := json.Marshal(frame{Type: "ack", ID: f.ID, Data: raw})
		_ = c.Write(ctx, websocket.MessageText, msg)
	}
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}
