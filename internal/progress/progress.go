// Package progress tracks the percentage of an in-flight import so the
// frontend can poll it out-of-band. Progress is a 1-100 percentage; 0 means
// idle. Each import run gets its own handle so concurrent pollers cannot
// observe another run's counter.
package progress

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrImportInFlight is returned by Begin when another import is running.
// Only one import may run at a time: the parsers are sequential and sharing
// a run would interleave their counters.
var ErrImportInFlight = errors.New("an import is already in progress")

// Tracker manages progress state for import runs.
type Tracker struct {
	mu      sync.Mutex
	runs    map[string]int
	current string // token of the in-flight run, "" when idle
}

// NewTracker creates an idle Tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]int)}
}

// Run is the progress handle for a single import run.
type Run struct {
	tracker *Tracker
	token   string

	mu   sync.Mutex
	done bool
}

// Begin claims the single import slot and returns a handle for the new run.
// Returns ErrImportInFlight if another import has not finished yet.
func (t *Tracker) Begin() (*Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != "" {
		return nil, ErrImportInFlight
	}
	token := uuid.NewString()
	t.current = token
	t.runs[token] = 1
	return &Run{tracker: t, token: token}, nil
}

// Current returns the percentage of the in-flight run, or 0 when idle.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == "" {
		return 0
	}
	return t.runs[t.current]
}

// Get returns the percentage for a specific run token. The second return is
// false for unknown tokens. Finished runs report 0.
func (t *Tracker) Get(token string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pct, ok := t.runs[token]
	return pct, ok
}

// Token returns the opaque identifier of this run.
func (r *Run) Token() string {
	return r.token
}

// Set updates the run's percentage. Values are clamped to 1-100 and the
// reported value never decreases while the run is live.
func (r *Run) Set(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	if percent < 1 {
		percent = 1
	}
	if percent > 100 {
		percent = 100
	}
	r.tracker.mu.Lock()
	defer r.tracker.mu.Unlock()
	if percent > r.tracker.runs[r.token] {
		r.tracker.runs[r.token] = percent
	}
}

// Get returns the run's current percentage.
func (r *Run) Get() int {
	r.tracker.mu.Lock()
	defer r.tracker.mu.Unlock()
	return r.tracker.runs[r.token]
}

// Done resets the run to idle (0) and releases the import slot. It is safe
// to call more than once and must run on both success and failure paths.
func (r *Run) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	r.tracker.mu.Lock()
	defer r.tracker.mu.Unlock()
	r.tracker.runs[r.token] = 0
	if r.tracker.current == r.token {
		r.tracker.current = ""
	}
}
