package sod

import "strings"

// UserViolation is emitted when one role held by a user grants both sides of
// a conflicting tcode pair. The risk factor is copied verbatim from the
// matching rule.
type UserViolation struct {
	UserName   string `json:"user_name"`
	Role       string `json:"role"`
	TCode1     string `json:"tcode_1"`
	TCode2     string `json:"tcode_2"`
	RiskFactor string `json:"risk_factor"`
}

// RoleViolation is emitted when a role's granted tcode set contains both
// sides of a conflicting pair, regardless of who holds the role.
type RoleViolation struct {
	Role       string `json:"role"`
	TCode1     string `json:"tcode_1"`
	TCode2     string `json:"tcode_2"`
	RiskFactor string `json:"risk_factor"`
}

// RiskLevel buckets verbatim risk factor strings for aggregation. It never
// replaces the stored risk factor on a violation row.
type RiskLevel int

const (
	RiskLevelHigh RiskLevel = iota
	RiskLevelMedium
	RiskLevelLow
	RiskLevelOther
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLevelHigh:
		return "high"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelLow:
		return "low"
	default:
		return "other"
	}
}

// ClassifyRisk maps a verbatim risk factor onto a RiskLevel bucket.
func ClassifyRisk(riskFactor string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(riskFactor)) {
	case "high":
		return RiskLevelHigh
	case "medium":
		return RiskLevelMedium
	case "low":
		return RiskLevelLow
	default:
		return RiskLevelOther
	}
}
