package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/flowforge-io/flowforge/pkg/engine"
)

// Tracker keeps the upload handoffs issued by asset creates until the
// external actor confirms the transfer. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]engine.UploadHandoff
	now     func() time.Time
}

// NewTracker creates an empty handoff tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending: make(map[string]engine.UploadHandoff),
		now:     time.Now,
	}
}

// Issue records a freshly produced handoff. Re-issuing for the same
// external id overwrites the previous handoff; a replaced asset gets a
// fresh upload contract.
func (t *Tracker) Issue(h engine.UploadHandoff) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h.IssuedAt.IsZero() {
		h.IssuedAt = t.now()
	}
	t.pending[h.ExternalID] = h
}

// Complete marks the transfer for the given external id as done and
// returns the handoff that was pending, if any.
func (t *Tracker) Complete(externalID string) (engine.UploadHandoff, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.pending[externalID]
	if ok {
		delete(t.pending, externalID)
	}
	return h, ok
}

// Discard drops a pending handoff without completing it, used when the
// asset itself is deleted.
func (t *Tracker) Discard(externalID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, externalID)
}

// Pending lists the handoffs still awaiting their transfer, ordered by
// issue time.
func (t *Tracker) Pending() []engine.UploadHandoff {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]engine.UploadHandoff, 0, len(t.pending))
	for _, h := range t.pending {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

// Stale returns the pending handoffs issued before the cutoff. Presigned
// upload URLs expire; stale handoffs need a replace to mint a new one.
func (t *Tracker) Stale(cutoff time.Time) []engine.UploadHandoff {
	var stale []engine.UploadHandoff
	for _, h := range t.Pending() {
		if h.IssuedAt.Before(cutoff) {
			stale = append(stale, h)
		}
	}
	return stale
}
