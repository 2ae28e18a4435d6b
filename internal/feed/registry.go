// Package feed multiplexes the single upstream market-data stream to
// any number of local subscribers.
package feed

import (
	"sync"

	"shoonya-bridge/internal/models"
)

// feedKey identifies one upstream subscription: an instrument at a
// given depth.
type feedKey struct {
	instrument models.InstrumentKey
	feed       models.FeedType
}

// Registry reference-counts interest per instrument and feed type. The
// upstream connection subscribes when the first local subscriber
// arrives and unsubscribes when the last one leaves; everything in
// between is local bookkeeping.
type Registry struct {
	mu       sync.Mutex
	interest map[feedKey]map[string]struct{} // key -> subscriber IDs
	bySub    map[string]map[feedKey]struct{} // subscriber ID -> keys
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		interest: make(map[feedKey]map[string]struct{}),
		bySub:    make(map[string]map[feedKey]struct{}),
	}
}

// Add records a subscriber's interest. fresh holds the instruments that
// now need an upstream subscribe (count went zero to one); added holds
// every instrument this call newly registered for the subscriber, so a
// failed upstream subscribe can be rolled back without touching
// interest recorded earlier. Repeated adds by the same subscriber are
// no-ops.
func (r *Registry) Add(subscriberID string, instruments []models.InstrumentKey, feed models.FeedType) (fresh, added []models.InstrumentKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inst := range instruments {
		key := feedKey{instrument: inst, feed: feed}
		subs, ok := r.interest[key]
		if !ok {
			subs = make(map[string]struct{})
			r.interest[key] = subs
		}
		if _, dup := subs[subscriberID]; dup {
			continue
		}
		if len(subs) == 0 {
			fresh = append(fresh, inst)
		}
		added = append(added, inst)
		subs[subscriberID] = struct{}{}

		keys, ok := r.bySub[subscriberID]
		if !ok {
			keys = make(map[feedKey]struct{})
			r.bySub[subscriberID] = keys
		}
		keys[key] = struct{}{}
	}
	return fresh, added
}

// Remove drops a subscriber's interest and returns the instruments whose
// last subscriber just left (count went one to zero). Removing interest
// that was never registered is a no-op.
func (r *Registry) Remove(subscriberID string, instruments []models.InstrumentKey, feed models.FeedType) []models.InstrumentKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []models.InstrumentKey
	for _, inst := range instruments {
		key := feedKey{instrument: inst, feed: feed}
		if r.removeKey(subscriberID, key) {
			idle = append(idle, inst)
		}
	}
	return idle
}

// RemoveAll drops all of a subscriber's interest and returns the keys
// whose last subscriber just left, grouped by feed type.
func (r *Registry) RemoveAll(subscriberID string) map[models.FeedType][]models.InstrumentKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	idle := make(map[models.FeedType][]models.InstrumentKey)
	for key := range r.bySub[subscriberID] {
		if r.removeKey(subscriberID, key) {
			idle[key.feed] = append(idle[key.feed], key.instrument)
		}
	}
	return idle
}

// removeKey must be called with the lock held. It reports whether the
// key's refcount reached zero.
func (r *Registry) removeKey(subscriberID string, key feedKey) bool {
	subs, ok := r.interest[key]
	if !ok {
		return false
	}
	if _, present := subs[subscriberID]; !present {
		return false
	}
	delete(subs, subscriberID)
	if keys := r.bySub[subscriberID]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.bySub, subscriberID)
		}
	}
	if len(subs) == 0 {
		delete(r.interest, key)
		return true
	}
	return false
}

// Instruments returns the keys a subscriber currently holds.
func (r *Registry) Instruments(subscriberID string) []models.InstrumentKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := r.bySub[subscriberID]
	seen := make(map[models.InstrumentKey]struct{}, len(keys))
	out := make([]models.InstrumentKey, 0, len(keys))
	for key := range keys {
		if _, dup := seen[key.instrument]; dup {
			continue
		}
		seen[key.instrument] = struct{}{}
		out = append(out, key.instrument)
	}
	return out
}

// Active returns every live upstream subscription grouped by feed type,
// used to resubscribe after a reconnect.
func (r *Registry) Active() map[models.FeedType][]models.InstrumentKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make(map[models.FeedType][]models.InstrumentKey)
	for key, subs := range r.interest {
		if len(subs) > 0 {
			active[key.feed] = append(active[key.feed], key.instrument)
		}
	}
	return active
}

// Refcount returns the number of subscribers holding the given key.
func (r *Registry) Refcount(instrument models.InstrumentKey, feed models.FeedType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.interest[feedKey{instrument: instrument, feed: feed}])
}
