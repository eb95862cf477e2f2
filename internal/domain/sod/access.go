package sod

import (
	"sort"
	"strings"
)

// AccessEntry is one (user, role, transaction code) grant from the user
// access extract. A user may hold many roles; a role may grant many tcodes.
type AccessEntry struct {
	UserName string `json:"user_name"`
	Role     string `json:"role"`
	TCode    string `json:"tcode"`
}

// AccessMatrix holds the grouped view of the access extract: the distinct
// tcode set per role, and per user the tcode set of each role they hold.
type AccessMatrix struct {
	userRoleTCodes map[string]map[string]map[string]struct{}
	roleTCodes     map[string]map[string]struct{}
	skipped        int
}

// NewAccessMatrix groups access entries by role and by user. Rows with a
// blank user, role, or tcode are skipped, not matched.
func NewAccessMatrix(entries []AccessEntry) *AccessMatrix {
	am := &AccessMatrix{
		userRoleTCodes: make(map[string]map[string]map[string]struct{}),
		roleTCodes:     make(map[string]map[string]struct{}),
	}
	for _, e := range entries {
		user := strings.TrimSpace(e.UserName)
		role := strings.TrimSpace(e.Role)
		tcode := NormalizeTCode(e.TCode)
		if user == "" || role == "" || tcode == "" {
			am.skipped++
			continue
		}

		roles, ok := am.userRoleTCodes[user]
		if !ok {
			roles = make(map[string]map[string]struct{})
			am.userRoleTCodes[user] = roles
		}
		tcodes, ok := roles[role]
		if !ok {
			tcodes = make(map[string]struct{})
			roles[role] = tcodes
		}
		tcodes[tcode] = struct{}{}

		rt, ok := am.roleTCodes[role]
		if !ok {
			rt = make(map[string]struct{})
			am.roleTCodes[role] = rt
		}
		rt[tcode] = struct{}{}
	}
	return am
}

// UserCount returns the number of distinct users with at least one valid grant.
func (am *AccessMatrix) UserCount() int {
	return len(am.userRoleTCodes)
}

// RoleCount returns the number of distinct roles with at least one valid grant.
func (am *AccessMatrix) RoleCount() int {
	return len(am.roleTCodes)
}

// SkippedRows returns the number of rows dropped for blank fields.
func (am *AccessMatrix) SkippedRows() int {
	return am.skipped
}

// sortedKeys returns map keys in ascending order so iteration is stable.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(set map[string]struct{}) []string {
	return sortedKeys(set)
}
