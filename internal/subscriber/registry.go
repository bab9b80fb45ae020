// Package subscriber tracks telemetry subscriptions keyed by remote session.
package subscriber

import (
	"sync"
	"time"

	"github.com/opensandbox/kitsync/pkg/types"
)

// Subscriber is one session's declared interest in a set of signal paths.
type Subscriber struct {
	SessionID string
	Signals   []string
	CreatedAt time.Time
}

// Registry stores subscribers in-memory, iterated in insertion order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Subscriber
	order   []string
}

// NewRegistry creates an empty subscriber registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Subscriber)}
}

// Upsert replaces the session's subscription wholesale. A session that is
// already registered keeps its position; its creation time is reset.
func (r *Registry) Upsert(sessionID string, signals []string, now time.Time) {
	s := &Subscriber{
		SessionID: sessionID,
		Signals:   dedupe(signals),
		CreatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sessionID]; !ok {
		r.order = append(r.order, sessionID)
	}
	r.entries[sessionID] = s
}

// Remove drops the session's subscription. Removing an unknown session is a
// no-op; the return value reports whether anything was removed.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sessionID]; !ok {
		return false
	}
	delete(r.entries, sessionID)
	r.order = without(r.order, map[string]bool{sessionID: true})
	return true
}

// SweepExpired removes every subscriber older than ttl and returns their ids.
func (r *Registry) SweepExpired(now time.Time, ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make(map[string]bool)
	var ids []string
	for _, id := range r.order {
		if now.Sub(r.entries[id].CreatedAt) > ttl {
			expired[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	for id := range expired {
		delete(r.entries, id)
	}
	r.order = without(r.order, expired)
	return ids
}

// Get returns a copy of the session's subscription.
func (r *Registry) Get(sessionID string) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[sessionID]
	if !ok {
		return Subscriber{}, false
	}
	return copyOf(s), true
}

// Snapshot returns copies of all subscribers in insertion order.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, copyOf(r.entries[id]))
	}
	return out
}

// Len returns the number of live subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Info returns the wire form keyed by session.
func (r *Registry) Info() map[string]types.SubscriberInfo {
	out := make(map[string]types.SubscriberInfo)
	for _, s := range r.Snapshot() {
		out[s.SessionID] = types.SubscriberInfo{
			APIs: s.Signals,
			From: unixSeconds(s.CreatedAt),
		}
	}
	return out
}

// Summaries returns the sanitized wire form with the seconds left before expiry.
func (r *Registry) Summaries(now time.Time, ttl time.Duration) map[string]types.SubscriberSummary {
	out := make(map[string]types.SubscriberSummary)
	for _, s := range r.Snapshot() {
		left := ttl - now.Sub(s.CreatedAt)
		if left < 0 {
			left = 0
		}
		out[s.SessionID] = types.SubscriberSummary{
			APIs:      s.Signals,
			KeepAlive: int(left / time.Second),
		}
	}
	return out
}

func copyOf(s *Subscriber) Subscriber {
	c := *s
	c.Signals = append([]string(nil), s.Signals...)
	return c
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func without(order []string, drop map[string]bool) []string {
	out := make([]string, 0, len(order))
	for _, id := range order {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
