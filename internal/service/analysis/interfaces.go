package analysis

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/grcworks/sod-analyzer/internal/domain/sod"
)

// Parser reads the two input tables from uploaded spreadsheet streams.
type Parser interface {
	ReadRules(r io.Reader) ([]sod.RuleEntry, error)
	ReadAccess(r io.Reader) ([]sod.AccessEntry, error)
}

// ProgressSink receives staged progress events while a run executes.
type ProgressSink interface {
	Publish(runID uuid.UUID, event ProgressEvent)
}

// ProgressEvent mirrors the stages a user watches during an analysis.
type ProgressEvent struct {
	Stage   string    `json:"stage"`
	Percent int       `json:"percent"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Progress stages, in execution order.
const (
	StageLoadingRules    = "loading_rule_book"
	StageProcessingRules = "processing_conflict_pairs"
	StageLoadingAccess   = "loading_user_access"
	StageMapping         = "mapping_users_roles"
	StageMatching        = "matching_violations"
	StageComplete        = "complete"
	StageFailed          = "failed"
)

// RunRequest carries the two uploaded tables into an analysis run.
type RunRequest struct {
	// RunID optionally names the run up front so a caller can subscribe to
	// its progress topic before uploading. Zero means the service assigns
	// one.
	RunID      uuid.UUID
	RuleBook   io.Reader
	UserAccess io.Reader
}

// Service runs SoD analyses and serves their results. Runs are kept in
// memory only and evicted after a TTL.
type Service interface {
	Run(ctx context.Context, req *RunRequest) (*Run, error)
	Get(ctx context.Context, id uuid.UUID) (*Run, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Charts(ctx context.Context, id uuid.UUID) (*ChartData, error)
	Close()
}
