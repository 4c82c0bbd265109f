package prefs

import (
	"fmt"
	"time"
)

// MuteDuration is one of the preset room mute windows offered to users.
type MuteDuration string

const (
	MuteOneHour     MuteDuration = "1h"
	MuteTwelveHours MuteDuration = "12h"
	MuteOneDay      MuteDuration = "24h"
	MuteOneWeek     MuteDuration = "1w"
	MutePermanent   MuteDuration = "permanent"
)

// MuteDurations lists the presets in display order.
var MuteDurations = []MuteDuration{MuteOneHour, MuteTwelveHours, MuteOneDay, MuteOneWeek, MutePermanent}

var muteWindows = map[MuteDuration]time.Duration{
	MuteOneHour:     time.Hour,
	MuteTwelveHours: 12 * time.Hour,
	MuteOneDay:      24 * time.Hour,
	MuteOneWeek:     7 * 24 * time.Hour,
}

// ParseMuteDuration validates s as a preset.
func ParseMuteDuration(s string) (MuteDuration, error) {
	d := MuteDuration(s)
	if d == MutePermanent {
		return d, nil
	}
	if _, ok := muteWindows[d]; !ok {
		return "", fmt.Errorf("invalid mute duration %q (want 1h, 12h, 24h, 1w or permanent)", s)
	}
	return d, nil
}

// ExpiresAt returns when a mute starting at now ends. Permanent mutes
// return nil.
func (d MuteDuration) ExpiresAt(now time.Time) (*time.Time, error) {
	if d == MutePermanent {
		return nil, nil
	}
	w, ok := muteWindows[d]
	if !ok {
		return nil, fmt.Errorf("invalid mute duration %q", string(d))
	}
	t := now.Add(w).UTC()
	return &t, nil
}
