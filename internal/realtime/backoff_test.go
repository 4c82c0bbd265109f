package realtime

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestBackoffDoublesToCeiling(t *testing.T) {
	b := DefaultBackoff()
	b.Jitter = 0

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterExtremes(t *testing.T) {
	b := DefaultBackoff()

	b.Rand = func() float64 { return 0 }
	if got := b.Delay(2); got != time.Second {
		t.Errorf("low jitter Delay(2) = %v, want 1s", got)
	}
	b.Rand = func() float64 { return 0.999999 }
	if got := b.Delay(6); got != 30*time.Second {
		t.Errorf("high jitter Delay(6) = %v, want capped 30s", got)
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := DefaultBackoff()
	if b.Exhausted(10) {
		t.Error("Exhausted(10) = true, want false")
	}
	if !b.Exhausted(11) {
		t.Error("Exhausted(11) = false, want true")
	}
	b.MaxAttempts = 0
	if b.Exhausted(1000) {
		t.Error("unbounded backoff reported exhausted")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := DefaultBackoff()
		attempt := rapid.IntRange(1, 20).Draw(t, "attempt")
		r := rapid.Float64Range(0, 0.999999).Draw(t, "rand")
		b.Rand = func() float64 { return r }

		base := time.Second
		for i := 1; i < attempt && base < b.Max; i++ {
			base *= 2
		}
		if base > b.Max {
			base = b.Max
		}

		got := b.Delay(attempt)
		low := time.Duration(float64(base) * (1 - b.Jitter))
		if got < low-time.Millisecond {
			t.Fatalf("Delay(%d) = %v, below %v", attempt, got, low)
		}
		if got > b.Max {
			t.Fatalf("Delay(%d) = %v, above ceiling %v", attempt, got, b.Max)
		}
	})
}
