package sync

import (
	"time"

	"github.com/matheus3301/teamsync/internal/store"
)

const (
	checkpointKey = "lastResync"
	ownerKey      = "sessionOwner"
)

// Checkpoint records the outcome of the last chat resync.
type Checkpoint struct {
	At     time.Time `json:"at"`
	Rooms  int       `json:"rooms"`
	Joined int       `json:"joined"`
	Failed []string  `json:"failed,omitempty"`
}

// Checkpoints persists resync checkpoints in the key-value table.
type Checkpoints struct {
	db *store.DB
}

// NewCheckpoints creates a checkpoint store.
func NewCheckpoints(db *store.DB) *Checkpoints {
	return &Checkpoints{db: db}
}

// Save replaces the stored checkpoint.
func (c *Checkpoints) Save(cp Checkpoint) error {
	return c.db.PutJSON(checkpointKey, cp)
}

// Last returns the stored checkpoint, or nil if no resync has completed.
func (c *Checkpoints) Last() (*Checkpoint, error) {
	var cp Checkpoint
	ok, err := c.db.GetJSON(checkpointKey, &cp)
	if err != nil || !ok {
		return nil, err
	}
	return &cp, nil
}

// Claim records userID as the owner of the stored session data. Data left
// behind by a different user is dropped first; the return value reports
// whether that happened.
func (c *Checkpoints) Claim(userID string) (bool, error) {
	var owner string
	ok, err := c.db.GetJSON(ownerKey, &owner)
	if err != nil {
		return false, err
	}
	if ok && owner == userID {
		return false, nil
	}
	reset := ok
	if reset {
		if err := c.db.ResetSessionData(); err != nil {
			return false, err
		}
	}
	return reset, c.db.PutJSON(ownerKey, userID)
}
