// Package runner supervises user application processes.
package runner

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensandbox/kitsync/pkg/types"
)

// Runner is one spawned application process and its owning session.
type Runner struct {
	ID        string
	AppName   string
	Owner     string
	CreatedAt time.Time
	Handle    Handle

	finished bool
	exitCode int
}

// New creates a runner entry for a started process.
func New(appName, owner string, h Handle, now time.Time) *Runner {
	return &Runner{
		ID:        uuid.New().String()[:8],
		AppName:   appName,
		Owner:     owner,
		CreatedAt: now,
		Handle:    h,
	}
}

// Removal reports a runner that left the registry and the outcome of
// terminating its process.
type Removal struct {
	ID      string
	AppName string
	Owner   string
	Err     error
}

// Registry holds live runners in insertion order.
type Registry struct {
	mu      sync.Mutex
	runners []*Runner
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Insert adds a runner.
func (r *Registry) Insert(rn *Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners = append(r.runners, rn)
}

// RemoveWhere terminates and removes every runner matching pred. The match
// set is computed before anything is removed. A runner whose process already
// exited is removed without error; any other termination failure is reported
// in the Removal but the entry is gone regardless. pred must not call back
// into the registry.
func (r *Registry) RemoveWhere(pred func(*Runner) bool) []Removal {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Runner
	kept := make([]*Runner, 0, len(r.runners))
	for _, rn := range r.runners {
		if pred(rn) {
			matched = append(matched, rn)
		} else {
			kept = append(kept, rn)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	removals := make([]Removal, 0, len(matched))
	for _, rn := range matched {
		var err error
		if rn.Handle != nil {
			if err = rn.Handle.Terminate(); errors.Is(err, ErrAlreadyStopped) {
				err = nil
			}
		}
		removals = append(removals, Removal{ID: rn.ID, AppName: rn.AppName, Owner: rn.Owner, Err: err})
	}
	r.runners = kept
	return removals
}

// RemoveOwnedBy stops every runner started by the session.
func (r *Registry) RemoveOwnedBy(session string) []Removal {
	return r.RemoveWhere(func(rn *Runner) bool { return rn.Owner == session })
}

// SweepExpired stops every runner older than ttl.
func (r *Registry) SweepExpired(now time.Time, ttl time.Duration) []Removal {
	return r.RemoveWhere(func(rn *Runner) bool { return now.Sub(rn.CreatedAt) > ttl })
}

// MarkFinished records the exit of a runner's process without removing it.
func (r *Registry) MarkFinished(id string, exitCode int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rn := range r.runners {
		if rn.ID == id {
			rn.finished = true
			rn.exitCode = exitCode
			return true
		}
	}
	return false
}

// Len returns the number of runners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runners)
}

// Snapshot returns the wire form of all runners in insertion order.
func (r *Registry) Snapshot() []types.RunnerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.RunnerInfo, 0, len(r.runners))
	for _, rn := range r.runners {
		out = append(out, types.RunnerInfo{
			ID:          rn.ID,
			AppName:     rn.AppName,
			RequestFrom: rn.Owner,
			From:        float64(rn.CreatedAt.UnixNano()) / float64(time.Second),
			Finished:    rn.finished,
			ExitCode:    rn.exitCode,
		})
	}
	return out
}
