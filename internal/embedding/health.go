package embedding

import (
	"sync"
	"time"

	"github.com/hyperjump/hybridkb/internal/models"
)

// HealthState is the last observed state of a provider.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthAvailable
	HealthUnavailable
)

func (s HealthState) String() string {
	switch s {
	case HealthAvailable:
		return "available"
	case HealthUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

type healthEntry struct {
	state     HealthState
	checkedAt time.Time
}

// HealthTracker remembers provider health for ttl. Expired observations read as unknown.
type HealthTracker struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	entries map[models.Provider]healthEntry
}

// NewHealthTracker returns a tracker whose observations expire after ttl.
func NewHealthTracker(ttl time.Duration) *HealthTracker {
	return &HealthTracker{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[models.Provider]healthEntry),
	}
}

// State returns the provider's state, or HealthUnknown when no fresh observation exists.
func (h *HealthTracker) State(p models.Provider) HealthState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[p]
	if !ok || h.now().Sub(e.checkedAt) > h.ttl {
		return HealthUnknown
	}
	return e.state
}

// Record stores an observation.
func (h *HealthTracker) Record(p models.Provider, state HealthState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[p] = healthEntry{state: state, checkedAt: h.now()}
}

// Skip reports whether p was seen unavailable within the ttl.
func (h *HealthTracker) Skip(p models.Provider) bool {
	return h.State(p) == HealthUnavailable
}
