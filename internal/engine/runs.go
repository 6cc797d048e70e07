package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/akoreshkov/modaflow/internal/types"
)

// Run tracks one import run through its lifecycle. State and progress are
// atomics so status reads never contend with the executing goroutine.
type Run struct {
	ID     string
	Query  string
	Domain string
	Limit  int

	state    atomic.Int32
	progress atomic.Int32

	mu         sync.Mutex
	startedAt  time.Time
	finishedAt time.Time
	summary    *types.ImportSummary
	failure    string
}

func newRun(id, query, domain string, limit int) *Run {
	r := &Run{
		ID:        id,
		Query:     query,
		Domain:    domain,
		Limit:     limit,
		startedAt: time.Now().UTC(),
	}
	r.state.Store(int32(types.RunPending))
	return r
}

// State returns the current lifecycle state.
func (r *Run) State() types.RunState {
	return types.RunState(r.state.Load())
}

// Progress returns the current progress percentage.
func (r *Run) Progress() int {
	return int(r.progress.Load())
}

func (r *Run) setProgress(p int32) {
	r.progress.Store(p)
}

// start transitions pending to running. Returns false when the run already
// left the pending state.
func (r *Run) start() bool {
	return r.state.CompareAndSwap(int32(types.RunPending), int32(types.RunRunning))
}

// complete transitions running to completed and records the summary.
func (r *Run) complete(summary *types.ImportSummary) {
	if !r.state.CompareAndSwap(int32(types.RunRunning), int32(types.RunCompleted)) {
		return
	}
	r.progress.Store(progressDone)
	r.mu.Lock()
	r.finishedAt = time.Now().UTC()
	r.summary = summary
	r.mu.Unlock()
}

// fail transitions running to failed and records the cause. A partial
// summary may accompany the failure when some chunks already ran.
func (r *Run) fail(err error, summary *types.ImportSummary) {
	if !r.state.CompareAndSwap(int32(types.RunRunning), int32(types.RunFailed)) {
		return
	}
	r.progress.Store(0)
	r.mu.Lock()
	r.finishedAt = time.Now().UTC()
	r.summary = summary
	r.failure = err.Error()
	r.mu.Unlock()
}

// RunStatus is a point-in-time view of a run, safe to serialize.
type RunStatus struct {
	ID         string               `json:"id"`
	Query      string               `json:"query"`
	Domain     string               `json:"domain"`
	Limit      int                  `json:"limit"`
	State      types.RunState       `json:"state"`
	Progress   int                  `json:"progress"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Summary    *types.ImportSummary `json:"summary,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Status snapshots the run.
func (r *Run) Status() RunStatus {
	st := RunStatus{
		ID:       r.ID,
		Query:    r.Query,
		Domain:   r.Domain,
		Limit:    r.Limit,
		State:    r.State(),
		Progress: int(r.progress.Load()),
	}

	r.mu.Lock()
	st.StartedAt = r.startedAt
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		st.FinishedAt = &t
	}
	if r.summary != nil {
		s := *r.summary
		st.Summary = &s
	}
	st.Error = r.failure
	r.mu.Unlock()

	return st
}

// Registry is the in-memory run index. Finished runs beyond the capacity
// are evicted oldest first; pending and running runs are never evicted.
type Registry struct {
	mu       sync.Mutex
	runs     map[string]*Run
	order    []string
	capacity int
}

// NewRegistry builds a registry keeping at most capacity runs.
// capacity <= 0 means unbounded.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		runs:     make(map[string]*Run),
		capacity: capacity,
	}
}

// Add registers a run and evicts old finished runs past the capacity.
func (g *Registry) Add(run *Run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[run.ID] = run
	g.order = append(g.order, run.ID)
	g.prune()
}

// Get returns the run with the given id.
func (g *Registry) Get(id string) (*Run, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	run, ok := g.runs[id]
	return run, ok
}

// Recent returns run statuses newest first, at most n (n <= 0 means all).
func (g *Registry) Recent(n int) []RunStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]RunStatus, 0, len(g.order))
	for i := len(g.order) - 1; i >= 0; i-- {
		if n > 0 && len(out) >= n {
			break
		}
		out = append(out, g.runs[g.order[i]].Status())
	}
	return out
}

// Len returns the number of registered runs.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.runs)
}

func (g *Registry) prune() {
	if g.capacity <= 0 {
		return
	}
	for i := 0; len(g.order) > g.capacity && i < len(g.order); {
		id := g.order[i]
		switch g.runs[id].State() {
		case types.RunCompleted, types.RunFailed:
			delete(g.runs, id)
			g.order = append(g.order[:i], g.order[i+1:]...)
		default:
			i++
		}
	}
}
