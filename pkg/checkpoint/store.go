// Package checkpoint persists per-source progress so an interrupted run
// resumes where it stopped instead of restarting. A checkpoint is saved
// once per completed page, after that page's records were handed off, so a
// crash loses at most the page that was in flight.
package checkpoint

import (
	"context"
	"time"
)

// State is the durable progress marker for one source.
type State struct {
	// LastCompletedPage is the highest page index whose records were
	// fully handed off. Monotonically non-decreasing within a run.
	LastCompletedPage int `json:"last_completed_page"`

	// RecordCount is the cumulative number of records extracted.
	RecordCount int `json:"record_count"`

	// ErrorCount is the cumulative number of page-level failures.
	ErrorCount int `json:"error_count"`

	// UpdatedAt is when this state was last saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the checkpoint persistence contract. Implementations must make
// Save durable before returning and must serialize writes per source id.
type Store interface {
	// Load returns the state for a source, or nil when the source has no
	// checkpoint yet.
	Load(ctx context.Context, sourceID string) (*State, error)

	// Save persists the state. A state older than the stored one (lower
	// LastCompletedPage) is ignored.
	Save(ctx context.Context, sourceID string, state State) error

	// Clear removes the checkpoint, typically after a fully successful
	// run so the next run starts fresh.
	Clear(ctx context.Context, sourceID string) error
}
