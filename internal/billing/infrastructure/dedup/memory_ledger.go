package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

type entry struct {
	done    bool
	expires time.Time
}

// MemoryLedger is an in-process EventLedger for local mode, where a single
// process receives every delivery.
type MemoryLedger struct {
	mu        sync.Mutex
	entries   map[string]entry
	claimTTL  time.Duration
	retention time.Duration
	now       func() time.Time
	pruned    time.Time
}

// NewMemoryLedger creates an empty ledger. Zero durations use the defaults.
func NewMemoryLedger(claimTTL, retention time.Duration) *MemoryLedger {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryLedger{
		entries:   make(map[string]entry),
		claimTTL:  claimTTL,
		retention: retention,
		now:       time.Now,
	}
}

func (l *MemoryLedger) Claim(_ context.Context, eventID string) (domain.ClaimState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if e, ok := l.entries[eventID]; ok && now.Before(e.expires) {
		if e.done {
			return domain.ClaimDone, nil
		}
		return domain.ClaimInFlight, nil
	}
	l.entries[eventID] = entry{expires: now.Add(l.claimTTL)}
	return domain.ClaimAcquired, nil
}

func (l *MemoryLedger) Complete(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[eventID] = entry{done: true, expires: l.now().Add(l.retention)}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, eventID)
	return nil
}

// prune drops expired entries, at most once per claim TTL.
func (l *MemoryLedger) prune(now time.Time) {
	if now.Sub(l.pruned) < l.claimTTL {
		return
	}
	l.pruned = now
	for id, e := range l.entries {
		if !now.Before(e.expires) {
			delete(l.entries, id)
		}
	}
}

var _ domain.EventLedger = (*MemoryLedger)(nil)
