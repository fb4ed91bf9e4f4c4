package session

import "github.com/roach88/porta/internal/contract"

// Snapshot is the persisted and synced form of a session. Times are epoch
// milliseconds.
type Snapshot struct {
	ID           string              `json:"id"`
	Level        contract.Difficulty `json:"level"`
	StartedAt    int64               `json:"startedAt"`
	EndsAt       int64               `json:"endsAt"`
	Status       Status              `json:"status"`
	Contract     contract.Snapshot   `json:"contract"`
	Logs         []string            `json:"logs"`
	InputHistory []string            `json:"inputHistory"`
	UpdatedAt    int64               `json:"updatedAt"`
	Version      int64               `json:"version,omitempty"`
}

// TimeLeftAt is max(0, EndsAt-nowMillis) in milliseconds.
func (s Snapshot) TimeLeftAt(nowMillis int64) int64 {
	return max(0, s.EndsAt-nowMillis)
}
