package sod

import "context"

// Result holds the two violation tables produced by one analysis run.
// Row order is deterministic for identical inputs.
type Result struct {
	UserViolations []UserViolation `json:"user_violations"`
	RoleViolations []RoleViolation `json:"role_violations"`
}

type userViolationKey struct {
	User string
	Role string
	Pair pairKey
}

type roleViolationKey struct {
	Role string
	Pair pairKey
}

// Analyze matches the access matrix against the rule book and returns the
// user-level and role-level violation tables.
//
// Role-level: every unordered pair of distinct tcodes granted by a role is
// checked against the conflict lookup. User-level: the same check runs per
// user within each single role the user holds; a conflict spread across two
// different roles of one user is not a user-level violation. Each pair check
// is a hash lookup, so the work per group is bounded by the group's distinct
// tcode count, never by the full table.
//
// Empty rules or an empty access matrix yield empty outputs, not an error.
// The context is checked between groups so a caller can abandon a run.
func Analyze(ctx context.Context, rules *RuleBook, access *AccessMatrix) (*Result, error) {
	result := &Result{
		UserViolations: []UserViolation{},
		RoleViolations: []RoleViolation{},
	}
	if rules == nil || access == nil || rules.Len() == 0 {
		return result, nil
	}

	seenUser := make(map[userViolationKey]struct{})
	seenRole := make(map[roleViolationKey]struct{})

	for _, user := range sortedKeys(access.userRoleTCodes) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		roles := access.userRoleTCodes[user]
		for _, role := range sortedKeys(roles) {
			tcodes := sortedSet(roles[role])
			for i := 0; i < len(tcodes); i++ {
				for j := i + 1; j < len(tcodes); j++ {
					risk, ok := rules.Risk(tcodes[i], tcodes[j])
					if !ok {
						continue
					}
					key := userViolationKey{User: user, Role: role, Pair: canonicalPair(tcodes[i], tcodes[j])}
					if _, dup := seenUser[key]; dup {
						continue
					}
					seenUser[key] = struct{}{}
					result.UserViolations = append(result.UserViolations, UserViolation{
						UserName:   user,
						Role:       role,
						TCode1:     key.Pair.Lo,
						TCode2:     key.Pair.Hi,
						RiskFactor: risk,
					})
				}
			}
		}
	}

	for _, role := range sortedKeys(access.roleTCodes) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tcodes := sortedSet(access.roleTCodes[role])
		for i := 0; i < len(tcodes); i++ {
			for j := i + 1; j < len(tcodes); j++ {
				risk, ok := rules.Risk(tcodes[i], tcodes[j])
				if !ok {
					continue
				}
				key := roleViolationKey{Role: role, Pair: canonicalPair(tcodes[i], tcodes[j])}
				if _, dup := seenRole[key]; dup {
					continue
				}
				seenRole[key] = struct{}{}
				result.RoleViolations = append(result.RoleViolations, RoleViolation{
					Role:       role,
					TCode1:     key.Pair.Lo,
					TCode2:     key.Pair.Hi,
					RiskFactor: risk,
				})
			}
		}
	}

	return result, nil
}
