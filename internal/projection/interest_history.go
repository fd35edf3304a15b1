package projection

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// InterestEntry records interest realized by one account in one operation.
type InterestEntry struct {
	Account   uuid.UUID    `json:"account"`
	Sequence  int64        `json:"sequence"`
	EventType string       `json:"event_type"`
	Amount    sdkmath.Uint `json:"amount"`
	Timestamp time.Time    `json:"timestamp"`
}

// InterestHistory is a bounded in-memory log of realized interest, derived
// from the growth of each account's cumulative interest. An account's first
// observation only sets its baseline.
type InterestHistory struct {
	mu         sync.RWMutex
	capacity   int
	entries    []InterestEntry
	cumulative map[uuid.UUID]sdkmath.Uint
}

func NewInterestHistory(capacity int) *InterestHistory {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &InterestHistory{
		capacity:   capacity,
		entries:    make([]InterestEntry, 0, capacity),
		cumulative: make(map[uuid.UUID]sdkmath.Uint),
	}
}

// Observe records the account's cumulative interest after an operation and
// appends an entry when it grew.
func (h *InterestHistory) Observe(seq int64, eventType string, ts time.Time, account uuid.UUID, cumulative sdkmath.Uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, seen := h.cumulative[account]
	h.cumulative[account] = cumulative
	if !seen || !cumulative.GT(prev) {
		return
	}

	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, InterestEntry{
		Account:   account,
		Sequence:  seq,
		EventType: eventType,
		Amount:    cumulative.Sub(prev),
		Timestamp: ts,
	})
}

// QueryByAccount returns up to limit entries for account, newest first.
func (h *InterestHistory) QueryByAccount(account uuid.UUID, limit int) []InterestEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]InterestEntry, 0)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if h.entries[i].Account == account {
			result = append(result, h.entries[i])
		}
	}
	return result
}

func (h *InterestHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
