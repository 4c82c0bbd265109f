// Package metrics exposes Prometheus collectors for the sync layer.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// States lists the connection states a channel gauge is exported for.
var States = []string{"DISCONNECTED", "CONNECTING", "CONNECTED", "RECONNECTING", "ERROR"}

// Collectors groups the sync layer's metrics. A nil *Collectors is valid and
// records nothing, so components can be built without metrics in tests.
type Collectors struct {
	Registry *prometheus.Registry

	connState         *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec
	ackLatency        *prometheus.HistogramVec
	ackFailures       *prometheus.CounterVec
	unreadMessages    prometheus.Gauge
	unreadEvents      prometheus.Gauge
	onlineUsers       prometheus.Gauge
	joinedRooms       prometheus.Gauge
	receiptQueue      prometheus.Gauge
	busDropped        *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "teamsync",
			Name:      "connection_state",
			Help:      "1 for the current state of each realtime channel, 0 otherwise.",
		}, []string{"channel", "state"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamsync",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts per channel.",
		}, []string{"channel"}),
		ackLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "teamsync",
			Name:      "ack_latency_seconds",
			Help:      "Time from emit to acknowledgment.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"channel", "event"}),
		ackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamsync",
			Name:      "ack_failures_total",
			Help:      "Emits that did not resolve successfully, by reason.",
		}, []string{"channel", "event", "reason"}),
		unreadMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamsync",
			Name:      "unread_messages",
			Help:      "Total unread chat messages across rooms.",
		}),
		unreadEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamsync",
			Name:      "unread_event_notifications",
			Help:      "Unread event-status notifications.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamsync",
			Name:      "online_users",
			Help:      "Size of the online user set.",
		}),
		joinedRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamsync",
			Name:      "joined_rooms",
			Help:      "Rooms currently joined on the chat channel.",
		}),
		receiptQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamsync",
			Name:      "pending_read_receipts",
			Help:      "Read receipts waiting to be retried.",
		}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamsync",
			Name:      "bus_events_dropped_total",
			Help:      "Events a slow subscriber missed, by kind.",
		}, []string{"kind"}),
	}
	c.Registry.MustRegister(
		c.connState, c.reconnectAttempts, c.ackLatency, c.ackFailures,
		c.unreadMessages, c.unreadEvents, c.onlineUsers, c.joinedRooms, c.receiptQueue,
		c.busDropped,
	)
	return c
}

// SetConnState marks state as the only active state for channel.
func (c *Collectors) SetConnState(channel, state string) {
	if c == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		c.connState.WithLabelValues(channel, s).Set(v)
	}
}

// ReconnectAttempt counts one reconnect attempt.
func (c *Collectors) ReconnectAttempt(channel string) {
	if c == nil {
		return
	}
	c.reconnectAttempts.WithLabelValues(channel).Inc()
}

// ObserveAck records a successful acknowledgment.
func (c *Collectors) ObserveAck(channel, event string, d time.Duration) {
	if c == nil {
		return
	}
	c.ackLatency.WithLabelValues(channel, event).Observe(d.Seconds())
}

// AckFailed counts an emit that failed for reason.
func (c *Collectors) AckFailed(channel, event, reason string) {
	if c == nil {
		return
	}
	c.ackFailures.WithLabelValues(channel, event, reason).Inc()
}

// SetUnread records the unread badges.
func (c *Collectors) SetUnread(messages, events int) {
	if c == nil {
		return
	}
	c.unreadMessages.Set(float64(messages))
	c.unreadEvents.Set(float64(events))
}

// SetOnline records the online set size.
func (c *Collectors) SetOnline(n int) {
	if c == nil {
		return
	}
	c.onlineUsers.Set(float64(n))
}

// SetJoined records the joined room count.
func (c *Collectors) SetJoined(n int) {
	if c == nil {
		return
	}
	c.joinedRooms.Set(float64(n))
}

// SetReceiptQueue records the read-receipt retry backlog.
func (c *Collectors) SetReceiptQueue(n int) {
	if c == nil {
		return
	}
	c.receiptQueue.Set(float64(n))
}

// BusDropped counts an event a bus subscriber missed.
func (c *Collectors) BusDropped(kind string) {
	if c == nil {
		return
	}
	c.busDropped.WithLabelValues(kind).Inc()
}

// Server serves /metrics for the collectors' registry.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
}

// Listen binds addr and prepares the metrics handler.
func Listen(addr string, c *Collectors, logger *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Start serves until Stop. Blocks.
func (s *Server) Start() error {
	s.logger.Info("metrics server starting", zap.String("addr", s.Addr()))
	err := s.srv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	_ = s.srv.Shutdown(ctx)
}
