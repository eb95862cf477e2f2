package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	derrors "github.com/grcworks/sod-analyzer/internal/domain/errors"
	"github.com/grcworks/sod-analyzer/internal/domain/sod"
)

// Config tunes the service independently of the global configuration.
type Config struct {
	// RunTTL is how long completed runs stay retrievable. Zero disables
	// eviction.
	RunTTL time.Duration
	// MaxAccessRows fails a run whose access extract exceeds it. Zero
	// disables the check.
	MaxAccessRows int
}

// service implements the Service interface
type service struct {
	cfg      Config
	parser   Parser
	progress ProgressSink
	store    *runStore
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewService creates a new analysis service. A nil progress sink disables
// progress reporting.
func NewService(cfg Config, parser Parser, progress ProgressSink, logger *zap.Logger) Service {
	if progress == nil {
		progress = noopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		cfg:      cfg,
		parser:   parser,
		progress: progress,
		store:    newRunStore(cfg.RunTTL),
		logger:   logger,
		tracer:   otel.Tracer("service.analysis"),
	}
}

// Run executes one analysis synchronously: parse both tables, build the
// lookups, match, aggregate, store. On any failure the whole run fails and
// nothing is stored.
func (s *service) Run(ctx context.Context, req *RunRequest) (*Run, error) {
	if req == nil || req.RuleBook == nil || req.UserAccess == nil {
		return nil, derrors.NewValidationError("INVALID_REQUEST",
			"both rule book and user access inputs are required")
	}

	ctx, span := s.tracer.Start(ctx, "analysis.run")
	defer span.End()

	runID := req.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	} else if _, exists := s.store.get(runID); exists {
		return nil, derrors.NewConflictError("analysis run ID already in use")
	}
	started := time.Now()

	run, err := s.execute(ctx, runID, req)
	if err != nil {
		span.RecordError(err)
		analysisRunsTotal.WithLabelValues("failed").Inc()
		s.publish(runID, ProgressEvent{Stage: StageFailed, Percent: 100, Message: err.Error()})
		s.logger.Warn("analysis run failed",
			zap.String("run_id", runID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.store.put(run)
	storedRuns.Set(float64(s.store.len()))

	elapsed := time.Since(started)
	analysisRunsTotal.WithLabelValues("completed").Inc()
	analysisDuration.Observe(elapsed.Seconds())
	s.recordViolationMetrics(run.Result)

	span.SetAttributes(
		attribute.String("run_id", runID.String()),
		attribute.Int("user_violations", run.Summary.UserViolations),
		attribute.Int("role_violations", run.Summary.RoleViolations),
	)
	s.logger.Info("analysis run completed",
		zap.String("run_id", runID.String()),
		zap.Duration("elapsed", elapsed),
		zap.Int("conflict_pairs", run.Summary.ConflictPairs),
		zap.Int("users", run.Summary.TotalUsers),
		zap.Int("roles", run.Summary.TotalRoles),
		zap.Int("user_violations", run.Summary.UserViolations),
		zap.Int("role_violations", run.Summary.RoleViolations),
	)

	s.publish(runID, ProgressEvent{Stage: StageComplete, Percent: 100})
	return run, nil
}

func (s *service) execute(ctx context.Context, runID uuid.UUID, req *RunRequest) (*Run, error) {
	createdAt := time.Now()

	s.publish(runID, ProgressEvent{Stage: StageLoadingRules, Percent: 10})
	ruleEntries, err := s.parser.ReadRules(req.RuleBook)
	if err != nil {
		return nil, err
	}

	s.publish(runID, ProgressEvent{Stage: StageProcessingRules, Percent: 25})
	rules := sod.NewRuleBook(ruleEntries)

	s.publish(runID, ProgressEvent{Stage: StageLoadingAccess, Percent: 40})
	accessEntries, err := s.parser.ReadAccess(req.UserAccess)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxAccessRows > 0 && len(accessEntries) > s.cfg.MaxAccessRows {
		return nil, derrors.NewValidationError("ACCESS_TOO_LARGE",
			"user access extract exceeds the configured row limit").
			WithDetails(map[string]interface{}{
				"rows":  len(accessEntries),
				"limit": s.cfg.MaxAccessRows,
			})
	}

	s.publish(runID, ProgressEvent{Stage: StageMapping, Percent: 55})
	access := sod.NewAccessMatrix(accessEntries)

	s.publish(runID, ProgressEvent{Stage: StageMatching, Percent: 75})
	result, err := sod.Analyze(ctx, rules, access)
	if err != nil {
		return nil, derrors.NewInternalError("conflict matching aborted").WithCause(err)
	}

	return &Run{
		ID:          runID,
		CreatedAt:   createdAt,
		CompletedAt: time.Now(),
		Summary:     buildSummary(rules, access, result),
		Result:      result,
	}, nil
}

// Get returns a stored run by ID.
func (s *service) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, ok := s.store.get(id)
	if !ok {
		return nil, derrors.NewNotFoundError("analysis run")
	}
	return run, nil
}

// Delete discards a stored run.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if !s.store.delete(id) {
		return derrors.NewNotFoundError("analysis run")
	}
	storedRuns.Set(float64(s.store.len()))
	return nil
}

// Charts aggregates a stored run for visualization.
func (s *service) Charts(ctx context.Context, id uuid.UUID) (*ChartData, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return BuildChartData(run.Result), nil
}

// Close stops the store janitor.
func (s *service) Close() {
	s.store.close()
}

func (s *service) publish(runID uuid.UUID, event ProgressEvent) {
	event.At = time.Now()
	s.progress.Publish(runID, event)
}

func (s *service) recordViolationMetrics(result *sod.Result) {
	for _, v := range result.UserViolations {
		violationsDetected.WithLabelValues("user", sod.ClassifyRisk(v.RiskFactor).String()).Inc()
	}
	for _, v := range result.RoleViolations {
		violationsDetected.WithLabelValues("role", sod.ClassifyRisk(v.RiskFactor).String()).Inc()
	}
}

func buildSummary(rules *sod.RuleBook, access *sod.AccessMatrix, result *sod.Result) Summary {
	userRisks := make([]string, len(result.UserViolations))
	for i, v := range result.UserViolations {
		userRisks[i] = v.RiskFactor
	}
	roleRisks := make([]string, len(result.RoleViolations))
	for i, v := range result.RoleViolations {
		roleRisks[i] = v.RiskFactor
	}
	return Summary{
		ConflictPairs:     rules.Len(),
		TotalUsers:        access.UserCount(),
		TotalRoles:        access.RoleCount(),
		SkippedAccessRows: access.SkippedRows(),
		UserViolations:    len(result.UserViolations),
		RoleViolations:    len(result.RoleViolations),
		UserRiskCounts:    countRisks(userRisks),
		RoleRiskCounts:    countRisks(roleRisks),
	}
}

type noopSink struct{}

func (noopSink) Publish(uuid.UUID, ProgressEvent) {}
