package sod

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name           string
		rules          []RuleEntry
		access         []AccessEntry
		wantUser       []UserViolation
		wantRole       []RoleViolation
	}{
		{
			name:  "conflict within one role of one user",
			rules: []RuleEntry{{TCode1: "T1", TCode2: "T2", RiskFactor: "High"}},
			access: []AccessEntry{
				{UserName: "userX", Role: "roleA", TCode: "T1"},
				{UserName: "userX", Role: "roleA", TCode: "T2"},
			},
			wantUser: []UserViolation{
				{UserName: "userX", Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
			},
			wantRole: []RoleViolation{
				{Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
			},
		},
		{
			name:  "conflict split across users and roles is not reported",
			rules: []RuleEntry{{TCode1: "T1", TCode2: "T2", RiskFactor: "High"}},
			access: []AccessEntry{
				{UserName: "userX", Role: "roleA", TCode: "T1"},
				{UserName: "userY", Role: "roleB", TCode: "T2"},
			},
			wantUser: []UserViolation{},
			wantRole: []RoleViolation{},
		},
		{
			name:  "conflict split across two roles of the same user is role-scoped only",
			rules: []RuleEntry{{TCode1: "T1", TCode2: "T2", RiskFactor: "Medium"}},
			access: []AccessEntry{
				{UserName: "userX", Role: "roleA", TCode: "T1"},
				{UserName: "userX", Role: "roleB", TCode: "T2"},
			},
			// User-level matching runs within a single role, so holding the
			// two tcodes through different roles produces nothing.
			wantUser: []UserViolation{},
			wantRole: []RoleViolation{},
		},
		{
			name:  "rule order is symmetric",
			rules: []RuleEntry{{TCode1: "T2", TCode2: "T1", RiskFactor: "Low"}},
			access: []AccessEntry{
				{UserName: "userX", Role: "roleA", TCode: "T1"},
				{UserName: "userX", Role: "roleA", TCode: "T2"},
			},
			wantUser: []UserViolation{
				{UserName: "userX", Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "Low"},
			},
			wantRole: []RoleViolation{
				{Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "Low"},
			},
		},
		{
			name:  "self pair in rules never matches a single tcode",
			rules: []RuleEntry{{TCode1: "T1", TCode2: "T1", RiskFactor: "High"}},
			access: []AccessEntry{
				{UserName: "userX", Role: "roleA", TCode: "T1"},
			},
			wantUser: []UserViolation{},
			wantRole: []RoleViolation{},
		},
		{
			name:  "empty rules yield empty outputs",
			rules: nil,
			access: []AccessEntry{
				{UserName: "userX", Role: "roleA", TCode: "T1"},
				{UserName: "userX", Role: "roleA", TCode: "T2"},
			},
			wantUser: []UserViolation{},
			wantRole: []RoleViolation{},
		},
		{
			name:     "empty access yields empty outputs",
			rules:    []RuleEntry{{TCode1: "T1", TCode2: "T2", RiskFactor: "High"}},
			access:   nil,
			wantUser: []UserViolation{},
			wantRole: []RoleViolation{},
		},
		{
			name:  "duplicate grants do not duplicate violations",
			rules: []RuleEntry{{TCode1: "T1", TCode2: "T2", RiskFactor: "High"}},
			access: []AccessEntry{
				{UserName: "userX", Role: "roleA", TCode: "T1"},
				{UserName: "userX", Role: "roleA", TCode: "T2"},
				{UserName: "userX", Role: "roleA", TCode: "t1 "},
				{UserName: "userX", Role: "roleA", TCode: "T2"},
			},
			wantUser: []UserViolation{
				{UserName: "userX", Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
			},
			wantRole: []RoleViolation{
				{Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
			},
		},
		{
			name:  "shared role reports each holder once and the role once",
			rules: []RuleEntry{{TCode1: "T1", TCode2: "T2", RiskFactor: "High"}},
			access: []AccessEntry{
				{UserName: "userA", Role: "roleA", TCode: "T1"},
				{UserName: "userA", Role: "roleA", TCode: "T2"},
				{UserName: "userB", Role: "roleA", TCode: "T1"},
				{UserName: "userB", Role: "roleA", TCode: "T2"},
			},
			wantUser: []UserViolation{
				{UserName: "userA", Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
				{UserName: "userB", Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
			},
			wantRole: []RoleViolation{
				{Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
			},
		},
		{
			name: "risk factor is copied verbatim",
			rules: []RuleEntry{
				{TCode1: "T1", TCode2: "T2", RiskFactor: "Critical!"},
			},
			access: []AccessEntry{
				{UserName: "userX", Role: "roleA", TCode: "T1"},
				{UserName: "userX", Role: "roleA", TCode: "T2"},
			},
			wantUser: []UserViolation{
				{UserName: "userX", Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "Critical!"},
			},
			wantRole: []RoleViolation{
				{Role: "roleA", TCode1: "T1", TCode2: "T2", RiskFactor: "Critical!"},
			},
		},
		{
			name:  "blank and NAN cells are skipped",
			rules: []RuleEntry{{TCode1: "T1", TCode2: "T2", RiskFactor: "High"}},
			access: []AccessEntry{
				{UserName: "", Role: "roleA", TCode: "T1"},
				{UserName: "userX", Role: "roleA", TCode: "NAN"},
				{UserName: "userX", Role: "roleA", TCode: "  "},
				{UserName: "userX", Role: "roleA", TCode: "T2"},
			},
			wantUser: []UserViolation{},
			wantRole: []RoleViolation{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := NewRuleBook(tt.rules)
			access := NewAccessMatrix(tt.access)

			result, err := Analyze(ctx, rules, access)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, result.UserViolations)
			assert.Equal(t, tt.wantRole, result.RoleViolations)
		})
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	ctx := context.Background()
	rules := NewRuleBook([]RuleEntry{
		{TCode1: "T1", TCode2: "T2", RiskFactor: "High"},
		{TCode1: "T3", TCode2: "T4", RiskFactor: "Low"},
		{TCode1: "T2", TCode2: "T5", RiskFactor: "Medium"},
	})
	access := NewAccessMatrix([]AccessEntry{
		{UserName: "zoe", Role: "roleB", TCode: "T5"},
		{UserName: "zoe", Role: "roleB", TCode: "T2"},
		{UserName: "amy", Role: "roleA", TCode: "T2"},
		{UserName: "amy", Role: "roleA", TCode: "T1"},
		{UserName: "amy", Role: "roleA", TCode: "T4"},
		{UserName: "amy", Role: "roleA", TCode: "T3"},
	})

	first, err := Analyze(ctx, rules, access)
	require.NoError(t, err)
	second, err := Analyze(ctx, rules, access)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// Sorted group iteration means amy's violations precede zoe's.
	require.Len(t, first.UserViolations, 3)
	assert.Equal(t, "amy", first.UserViolations[0].UserName)
	assert.Equal(t, "zoe", first.UserViolations[2].UserName)
	// Pairs are emitted in canonical order.
	for _, v := range first.UserViolations {
		assert.Less(t, v.TCode1, v.TCode2)
	}
}

func TestAnalyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rules := NewRuleBook([]RuleEntry{{TCode1: "T1", TCode2: "T2", RiskFactor: "High"}})
	access := NewAccessMatrix([]AccessEntry{
		{UserName: "userX", Role: "roleA", TCode: "T1"},
		{UserName: "userX", Role: "roleA", TCode: "T2"},
	})

	_, err := Analyze(ctx, rules, access)
	assert.ErrorIs(t, err, context.Canceled)
}
