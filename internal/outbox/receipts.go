package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/metrics"
	"github.com/matheus3301/teamsync/internal/realtime"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/store"
	"go.uber.org/zap"
)

// MaxReceiptAttempts bounds how often one receipt is retried before it is
// dropped.
const MaxReceiptAttempts = 20

// Deliverer replays a queued read receipt.
type Deliverer interface {
	DeliverReceipt(ctx context.Context, kind string, eventIDs []string) error
}

// Drainer retries queued read receipts while the notifications channel is up.
type Drainer struct {
	db       *store.DB
	deliver  Deliverer
	ready    func() bool
	bus      *bus.Bus
	metrics  *metrics.Collectors
	logger   *zap.Logger
	interval time.Duration
	nudge    chan struct{}
	drainMu  sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDrainer creates a drainer. ready reports whether delivery is worth
// attempting; a nil ready always is.
func NewDrainer(db *store.DB, deliver Deliverer, ready func() bool, b *bus.Bus, m *metrics.Collectors, logger *zap.Logger) *Drainer {
	return &Drainer{
		db:       db,
		deliver:  deliver,
		ready:    ready,
		bus:      b,
		metrics:  m,
		logger:   logging.OrNop(logger),
		interval: 5 * time.Second,
		nudge:    make(chan struct{}, 1),
	}
}

// Start begins draining in the background. Starting a running drainer is a
// no-op.
func (d *Drainer) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.loop(ctx, d.done)
}

// Stop stops the loop and waits for a drain in progress.
func (d *Drainer) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Nudge asks the loop to drain now instead of at the next tick.
func (d *Drainer) Nudge() {
	select {
	case d.nudge <- struct{}{}:
	default:
	}
}

func (d *Drainer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.nudge:
		}
		d.Drain(ctx)
	}
}

// Drain delivers queued receipts oldest first and returns how many were
// delivered. It stops at the first receipt that fails for lack of a
// connection. Concurrent calls run one at a time.
func (d *Drainer) Drain(ctx context.Context) int {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()
	defer d.report()
	if d.ready != nil && !d.ready() {
		return 0
	}
	receipts, err := d.db.PendingReceipts()
	if err != nil {
		d.logger.Error("failed to load queued receipts", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, r := range receipts {
		if ctx.Err() != nil {
			break
		}
		err := d.deliver.DeliverReceipt(ctx, r.Kind, r.EventIDs)
		if err == nil {
			d.remove(r)
			delivered++
			d.bus.Emit(bus.KindReceiptRetried, map[string]any{
				"kind":      r.Kind,
				"event_ids": r.EventIDs,
				"attempts":  r.Attempts + 1,
			})
			continue
		}
		if permanent(err) || r.Attempts+1 >= MaxReceiptAttempts {
			d.logger.Warn("dropping read receipt",
				zap.Int64("id", r.ID), zap.Strings("events", r.EventIDs), zap.Int("attempts", r.Attempts+1), zap.Error(err))
			d.remove(r)
			continue
		}
		if dbErr := d.db.ReceiptFailed(r.ID, err.Error()); dbErr != nil {
			d.logger.Error("failed to record receipt attempt", zap.Error(dbErr))
		}
		if errors.Is(err, realtime.ErrNotConnected) {
			break
		}
	}
	if delivered > 0 {
		d.logger.Info("delivered queued read receipts", zap.Int("count", delivered))
	}
	return delivered
}

func (d *Drainer) remove(r store.ReadReceipt) {
	if err := d.db.DeleteReceipt(r.ID); err != nil {
		d.logger.Error("failed to delete receipt", zap.Int64("id", r.ID), zap.Error(err))
	}
}

func (d *Drainer) report() {
	n, err := d.db.ReceiptCount()
	if err != nil {
		return
	}
	d.metrics.SetReceiptQueue(n)
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	var rejected *realtime.ServerRejectedError
	if errors.As(err, &rejected) {
		return true
	}
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Permanent()
	}
	return false
}
