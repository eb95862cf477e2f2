package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/grcworks/sod-analyzer/internal/domain/sod"
)

// Run is one completed analysis: its inputs' shape and both violation
// tables. Inputs themselves are discarded once the result is built.
type Run struct {
	ID          uuid.UUID   `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Summary     Summary     `json:"summary"`
	Result      *sod.Result `json:"-"`
}

// Summary holds the headline numbers shown after a run.
type Summary struct {
	ConflictPairs     int         `json:"conflict_pairs"`
	TotalUsers        int         `json:"total_users"`
	TotalRoles        int         `json:"total_roles"`
	SkippedAccessRows int         `json:"skipped_access_rows"`
	UserViolations    int         `json:"user_violations"`
	RoleViolations    int         `json:"role_violations"`
	UserRiskCounts    []RiskCount `json:"user_risk_counts"`
	RoleRiskCounts    []RiskCount `json:"role_risk_counts"`
}

// RiskCount is a violation count for one verbatim risk factor value.
type RiskCount struct {
	RiskFactor string `json:"risk_factor"`
	Count      int    `json:"count"`
}

// RankEntry is one bar of a top-N chart.
type RankEntry struct {
	Name       string `json:"name"`
	Violations int    `json:"violations"`
}

// ChartData feeds the visualization tab: risk breakdowns plus the top-N
// users and roles by violation count.
type ChartData struct {
	UserRiskCounts []RiskCount `json:"user_risk_counts"`
	RoleRiskCounts []RiskCount `json:"role_risk_counts"`
	TopUsers       []RankEntry `json:"top_users"`
	TopRoles       []RankEntry `json:"top_roles"`
}
