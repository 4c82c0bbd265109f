package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestSetConnStateIsExclusive(t *testing.T) {
	c := New()
	c.SetConnState("chat", "CONNECTING")
	c.SetConnState("chat", "CONNECTED")

	if got := testutil.ToFloat64(c.connState.WithLabelValues("chat", "CONNECTED")); got != 1 {
		t.Errorf("CONNECTED = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.connState.WithLabelValues("chat", "CONNECTING")); got != 0 {
		t.Errorf("CONNECTING = %v, want 0", got)
	}
}

func TestCounters(t *testing.T) {
	c := New()
	c.ReconnectAttempt("notifications")
	c.ReconnectAttempt("notifications")
	c.AckFailed("chat", "joinRoomsBatch", "timeout")
	c.SetUnread(4, 2)
	c.BusDropped("message.received")

	if got := testutil.ToFloat64(c.reconnectAttempts.WithLabelValues("notifications")); got != 2 {
		t.Errorf("reconnect attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ackFailures.WithLabelValues("chat", "joinRoomsBatch", "timeout")); got != 1 {
		t.Errorf("ack failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.unreadMessages); got != 4 {
		t.Errorf("unread messages = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.busDropped.WithLabelValues("message.received")); got != 1 {
		t.Errorf("bus dropped = %v, want 1", got)
	}
}

func TestNilCollectors(t *testing.T) {
	var c *Collectors
	c.SetConnState("chat", "CONNECTED")
	c.ReconnectAttempt("chat")
	c.ObserveAck("chat", "sendMessage", time.Millisecond)
	c.AckFailed("chat", "sendMessage", "rejected")
	c.SetUnread(1, 1)
	c.SetOnline(1)
	c.SetJoined(1)
	c.SetReceiptQueue(1)
	c.BusDropped("rooms.changed")
}

func TestServerExposesMetrics(t *testing.T) {
	c := New()
	c.SetOnline(7)

	srv, err := Listen("127.0.0.1:0", c, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	var body string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + srv.Addr() + "/metrics")
		if err == nil {
			data, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			body = string(data)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(body, "teamsync_online_users 7") {
		t.Errorf("metrics body missing online gauge:\n%s", body)
	}
}
