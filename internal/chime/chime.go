// Package chime signals new notifications to the local user.
package chime

import (
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/matheus3301/teamsync/internal/logging"
	"go.uber.org/zap"
)

// Player plays the notification chime. Play must not block the caller.
type Player interface {
	Play(title, body string)
}

// Nop is a Player that does nothing.
type Nop struct{}

// Play implements Player.
func (Nop) Play(string, string) {}

type alert struct {
	title string
	body  string
}

// Beeper sounds the terminal bell and, optionally, posts a desktop
// notification. Chimes arriving while one is playing are dropped.
type Beeper struct {
	desktop bool
	logger  *zap.Logger

	// Overridable in tests.
	beep   func() error
	notify func(title, body string) error

	queue     chan alert
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBeeper starts a beeper. desktop enables desktop notifications.
func NewBeeper(desktop bool, logger *zap.Logger) *Beeper {
	b := &Beeper{
		desktop: desktop,
		logger:  logging.OrNop(logger),
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
		notify: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
		queue: make(chan alert, 1),
		done:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Play implements Player.
func (b *Beeper) Play(title, body string) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- alert{title: title, body: body}:
	default:
	}
}

// Close stops the beeper and waits for a chime in progress.
func (b *Beeper) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *Beeper) loop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case a := <-b.queue:
			if err := b.beep(); err != nil {
				b.logger.Debug("beep failed", zap.Error(err))
			}
			if b.desktop {
				if err := b.notify(a.title, truncate(a.body, 100)); err != nil {
					b.logger.Debug("desktop notification failed", zap.Error(err))
				}
			}
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
