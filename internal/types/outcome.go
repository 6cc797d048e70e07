package types

import "time"

// Action is the per-record import result kind.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionError   Action = "error"
)

// ImportOutcome is the result of importing one candidate listing.
// Transient: produced once per run, never persisted.
type ImportOutcome struct {
	Action   Action   `json:"action"`
	ItemID   int64    `json:"item_id,omitempty"`
	SourceID string   `json:"source_id,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ErrorOutcome builds an error outcome for a candidate.
func ErrorOutcome(sourceID string, err error) ImportOutcome {
	return ImportOutcome{
		Action:   ActionError,
		SourceID: sourceID,
		Errors:   []string{err.Error()},
	}
}

// ImportSummary aggregates outcomes over one run. Counters are
// order-independent: folding outcomes in any order yields the same summary.
type ImportSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`

	Elapsed time.Duration `json:"elapsed"`

	ErrorMessages []string `json:"error_messages,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Add folds one outcome into the summary.
func (s *ImportSummary) Add(o ImportOutcome) {
	switch o.Action {
	case ActionCreated:
		s.Created++
	case ActionUpdated:
		s.Updated++
	case ActionSkipped:
		s.Skipped++
	case ActionError:
		s.Errors++
	}
	s.ErrorMessages = append(s.ErrorMessages, o.Errors...)
	s.Warnings = append(s.Warnings, o.Warnings...)
}

// Total returns the number of folded outcomes.
func (s *ImportSummary) Total() int {
	return s.Created + s.Updated + s.Skipped + s.Errors
}

// RunState is the lifecycle state of an import run.
type RunState int32

const (
	RunPending RunState = iota
	RunRunning
	RunCompleted
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalText makes RunState render as its name in JSON payloads.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
