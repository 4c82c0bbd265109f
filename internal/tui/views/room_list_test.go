package views

import (
	"testing"
	"time"

	"github.com/matheus3301/teamsync/internal/api"
	"github.com/matheus3301/teamsync/internal/tui/ui"
)

func TestMuteLabel(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(150 * time.Minute)
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name string
		room api.RoomView
		want string
	}{
		{"not muted", api.RoomView{}, ""},
		{"permanent", api.RoomView{Muted: true}, "always"},
		{"timed", api.RoomView{Muted: true, MuteExpiresAt: &later}, "for 2 hours"},
		{"expired", api.RoomView{Muted: true, MuteExpiresAt: &earlier}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := muteLabel(tt.room, now); got != tt.want {
				t.Errorf("muteLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoomListFilter(t *testing.T) {
	rl := NewRoomList(ui.DefaultTheme())
	rl.Update([]api.RoomView{
		{ID: "r1", Name: "Coaches"},
		{ID: "r2", Name: "U12 Parents", Unread: 2},
		{ID: "r3", Name: "u14 parents"},
	})
	if rl.RoomByIndex(3) != "r3" || rl.RoomByIndex(4) != "" || rl.RoomByIndex(0) != "" {
		t.Fatal("unexpected indexing before filter")
	}

	rl.SetFilter("PARENTS")
	if rl.RoomByIndex(1) != "r2" || rl.RoomByIndex(2) != "r3" || rl.RoomByIndex(3) != "" {
		t.Errorf("filtered = %q %q %q", rl.RoomByIndex(1), rl.RoomByIndex(2), rl.RoomByIndex(3))
	}

	rl.ClearFilter()
	if rl.RoomByIndex(1) != "r1" {
		t.Errorf("first after clear = %q", rl.RoomByIndex(1))
	}
}
