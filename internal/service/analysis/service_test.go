package analysis

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	derrors "github.com/grcworks/sod-analyzer/internal/domain/errors"
	"github.com/grcworks/sod-analyzer/internal/domain/sod"
)

// Mock implementations

type MockParser struct {
	mock.Mock
}

func (m *MockParser) ReadRules(r io.Reader) ([]sod.RuleEntry, error) {
	args := m.Called(r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sod.RuleEntry), args.Error(1)
}

func (m *MockParser) ReadAccess(r io.Reader) ([]sod.AccessEntry, error) {
	args := m.Called(r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sod.AccessEntry), args.Error(1)
}

// captureSink records published progress events.
type captureSink struct {
	mu     sync.Mutex
	events []ProgressEvent
	runIDs []uuid.UUID
}

func (c *captureSink) Publish(runID uuid.UUID, event ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.runIDs = append(c.runIDs, runID)
}

func (c *captureSink) stages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	stages := make([]string, len(c.events))
	for i, e := range c.events {
		stages[i] = e.Stage
	}
	return stages
}

func newRunRequest() *RunRequest {
	return &RunRequest{
		RuleBook:   strings.NewReader("rules"),
		UserAccess: strings.NewReader("access"),
	}
}

func TestService_Run(t *testing.T) {
	ctx := context.Background()

	rules := []sod.RuleEntry{{TCode1: "T1", TCode2: "T2", RiskFactor: "High"}}
	access := []sod.AccessEntry{
		{UserName: "userX", Role: "roleA", TCode: "T1"},
		{UserName: "userX", Role: "roleA", TCode: "T2"},
	}

	tests := []struct {
		name          string
		cfg           Config
		setupMocks    func(*MockParser)
		request       *RunRequest
		expectedError bool
		errorContains string
		validate      func(*testing.T, *Run, *captureSink)
	}{
		{
			name: "successful run",
			setupMocks: func(p *MockParser) {
				p.On("ReadRules", mock.Anything).Return(rules, nil)
				p.On("ReadAccess", mock.Anything).Return(access, nil)
			},
			request: newRunRequest(),
			validate: func(t *testing.T, run *Run, sink *captureSink) {
				assert.NotEqual(t, uuid.Nil, run.ID)
				assert.Equal(t, 1, run.Summary.ConflictPairs)
				assert.Equal(t, 1, run.Summary.TotalUsers)
				assert.Equal(t, 1, run.Summary.TotalRoles)
				assert.Equal(t, 1, run.Summary.UserViolations)
				assert.Equal(t, 1, run.Summary.RoleViolations)
				assert.Equal(t, []RiskCount{{RiskFactor: "High", Count: 1}}, run.Summary.UserRiskCounts)
				assert.Equal(t, []string{
					StageLoadingRules,
					StageProcessingRules,
					StageLoadingAccess,
					StageMapping,
					StageMatching,
					StageComplete,
				}, sink.stages())
			},
		},
		{
			name:          "nil request",
			setupMocks:    func(p *MockParser) {},
			request:       nil,
			expectedError: true,
			errorContains: "rule book and user access inputs are required",
		},
		{
			name: "rule book parse failure fails the whole run",
			setupMocks: func(p *MockParser) {
				p.On("ReadRules", mock.Anything).Return(nil, derrors.NewDataFormatError("rule book", "TCODE1"))
			},
			request:       newRunRequest(),
			expectedError: true,
			errorContains: "TCODE1",
			validate: func(t *testing.T, _ *Run, sink *captureSink) {
				assert.Equal(t, []string{StageLoadingRules, StageFailed}, sink.stages())
			},
		},
		{
			name: "access parse failure fails the whole run",
			setupMocks: func(p *MockParser) {
				p.On("ReadRules", mock.Anything).Return(rules, nil)
				p.On("ReadAccess", mock.Anything).Return(nil, derrors.NewDataFormatError("user access", "ROLE"))
			},
			request:       newRunRequest(),
			expectedError: true,
			errorContains: "ROLE",
		},
		{
			name: "access extract over the row limit",
			cfg:  Config{MaxAccessRows: 1},
			setupMocks: func(p *MockParser) {
				p.On("ReadRules", mock.Anything).Return(rules, nil)
				p.On("ReadAccess", mock.Anything).Return(access, nil)
			},
			request:       newRunRequest(),
			expectedError: true,
			errorContains: "row limit",
		},
		{
			name: "empty inputs complete with empty outputs",
			setupMocks: func(p *MockParser) {
				p.On("ReadRules", mock.Anything).Return([]sod.RuleEntry{}, nil)
				p.On("ReadAccess", mock.Anything).Return([]sod.AccessEntry{}, nil)
			},
			request: newRunRequest(),
			validate: func(t *testing.T, run *Run, _ *captureSink) {
				assert.Equal(t, 0, run.Summary.UserViolations)
				assert.Equal(t, 0, run.Summary.RoleViolations)
				assert.Empty(t, run.Result.UserViolations)
				assert.Empty(t, run.Result.RoleViolations)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := new(MockParser)
			sink := &captureSink{}
			tt.setupMocks(parser)

			svc := NewService(tt.cfg, parser, sink, nil)
			defer svc.Close()

			run, err := svc.Run(ctx, tt.request)

			if tt.expectedError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				if tt.validate != nil {
					tt.validate(t, nil, sink)
				}
			} else {
				require.NoError(t, err)
				if tt.validate != nil {
					tt.validate(t, run, sink)
				}

				// A completed run is retrievable until deleted.
				got, err := svc.Get(ctx, run.ID)
				require.NoError(t, err)
				assert.Equal(t, run.ID, got.ID)
			}

			parser.AssertExpectations(t)
		})
	}
}

func TestService_Run_ClientSuppliedRunID(t *testing.T) {
	ctx := context.Background()
	parser := new(MockParser)
	parser.On("ReadRules", mock.Anything).Return([]sod.RuleEntry{
		{TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
	}, nil)
	parser.On("ReadAccess", mock.Anything).Return([]sod.AccessEntry{
		{UserName: "userX", Role: "roleA", TCode: "T1"},
		{UserName: "userX", Role: "roleA", TCode: "T2"},
	}, nil)

	sink := &captureSink{}
	svc := NewService(Config{}, parser, sink, nil)
	defer svc.Close()

	runID := uuid.New()
	req := newRunRequest()
	req.RunID = runID

	run, err := svc.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)

	// Every progress event carries the caller's ID, so a subscription
	// opened before the upload sees the whole run.
	sink.mu.Lock()
	for _, id := range sink.runIDs {
		assert.Equal(t, runID, id)
	}
	sink.mu.Unlock()

	// Reusing a stored run's ID is rejected.
	dup := newRunRequest()
	dup.RunID = runID
	_, err = svc.Run(ctx, dup)
	require.Error(t, err)
	assert.True(t, derrors.IsType(err, derrors.ErrorTypeConflict))
}

func TestService_GetDeleteCharts(t *testing.T) {
	ctx := context.Background()
	parser := new(MockParser)
	parser.On("ReadRules", mock.Anything).Return([]sod.RuleEntry{
		{TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
		{TCode1: "T3", TCode2: "T4", RiskFactor: "Low"},
	}, nil)
	parser.On("ReadAccess", mock.Anything).Return([]sod.AccessEntry{
		{UserName: "amy", Role: "roleA", TCode: "T1"},
		{UserName: "amy", Role: "roleA", TCode: "T2"},
		{UserName: "amy", Role: "roleA", TCode: "T3"},
		{UserName: "amy", Role: "roleA", TCode: "T4"},
		{UserName: "zoe", Role: "roleB", TCode: "T1"},
		{UserName: "zoe", Role: "roleB", TCode: "T2"},
	}, nil)

	svc := NewService(Config{}, parser, nil, nil)
	defer svc.Close()

	run, err := svc.Run(ctx, newRunRequest())
	require.NoError(t, err)

	t.Run("charts rank by count then name", func(t *testing.T) {
		charts, err := svc.Charts(ctx, run.ID)
		require.NoError(t, err)

		require.Len(t, charts.TopUsers, 2)
		assert.Equal(t, RankEntry{Name: "amy", Violations: 2}, charts.TopUsers[0])
		assert.Equal(t, RankEntry{Name: "zoe", Violations: 1}, charts.TopUsers[1])

		// roleA and roleB tie on the (T1,T2) conflict count? roleA also
		// grants (T3,T4), so it ranks first.
		require.Len(t, charts.TopRoles, 2)
		assert.Equal(t, "roleA", charts.TopRoles[0].Name)

		assert.Equal(t, []RiskCount{
			{RiskFactor: "High", Count: 2},
			{RiskFactor: "Low", Count: 1},
		}, charts.UserRiskCounts)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := svc.Get(ctx, uuid.New())
		assert.True(t, derrors.IsType(err, derrors.ErrorTypeNotFound))

		_, err = svc.Charts(ctx, uuid.New())
		assert.True(t, derrors.IsType(err, derrors.ErrorTypeNotFound))
	})

	t.Run("delete removes the run", func(t *testing.T) {
		require.NoError(t, svc.Delete(ctx, run.ID))
		_, err := svc.Get(ctx, run.ID)
		assert.True(t, derrors.IsType(err, derrors.ErrorTypeNotFound))
		assert.True(t, derrors.IsType(svc.Delete(ctx, run.ID), derrors.ErrorTypeNotFound))
	})
}

func TestRunStore_TTL(t *testing.T) {
	store := newRunStore(50 * time.Millisecond)
	defer store.close()

	run := &Run{ID: uuid.New(), CompletedAt: time.Now().Add(-time.Minute)}
	store.put(run)

	// Expired runs are invisible even before the janitor sweeps.
	_, ok := store.get(run.ID)
	assert.False(t, ok)

	store.evictExpired(time.Now())
	assert.Equal(t, 0, store.len())

	fresh := &Run{ID: uuid.New(), CompletedAt: time.Now()}
	store.put(fresh)
	got, ok := store.get(fresh.ID)
	require.True(t, ok)
	assert.Equal(t, fresh.ID, got.ID)
}

func TestBuildChartData_TopNLimit(t *testing.T) {
	result := &sod.Result{}
	for i := 0; i < 15; i++ {
		name := string(rune('a' + i))
		result.UserViolations = append(result.UserViolations, sod.UserViolation{
			UserName: name, Role: "r", TCode1: "T1", TCode2: "T2", RiskFactor: "High",
		})
	}

	charts := BuildChartData(result)
	assert.Len(t, charts.TopUsers, 10)
	// All counts tie at one, so the alphabetically first ten survive.
	assert.Equal(t, "a", charts.TopUsers[0].Name)
	assert.Equal(t, "j", charts.TopUsers[9].Name)
}
