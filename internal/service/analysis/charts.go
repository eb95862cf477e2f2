package analysis

import (
	"sort"

	"github.com/grcworks/sod-analyzer/internal/domain/sod"
)

// topN is how many users/roles the visualization endpoint ranks.
const topN = 10

// BuildChartData aggregates a result into the shapes the charts consume.
func BuildChartData(result *sod.Result) *ChartData {
	userNames := make([]string, len(result.UserViolations))
	userRisks := make([]string, len(result.UserViolations))
	for i, v := range result.UserViolations {
		userNames[i] = v.UserName
		userRisks[i] = v.RiskFactor
	}
	roleNames := make([]string, len(result.RoleViolations))
	roleRisks := make([]string, len(result.RoleViolations))
	for i, v := range result.RoleViolations {
		roleNames[i] = v.Role
		roleRisks[i] = v.RiskFactor
	}

	return &ChartData{
		UserRiskCounts: countRisks(userRisks),
		RoleRiskCounts: countRisks(roleRisks),
		TopUsers:       rankTop(userNames, topN),
		TopRoles:       rankTop(roleNames, topN),
	}
}

// countRisks tallies violations per verbatim risk factor, most frequent
// first, ties by risk factor ascending.
func countRisks(risks []string) []RiskCount {
	counts := make(map[string]int)
	for _, r := range risks {
		counts[r]++
	}
	out := make([]RiskCount, 0, len(counts))
	for risk, n := range counts {
		out = append(out, RiskCount{RiskFactor: risk, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RiskFactor < out[j].RiskFactor
	})
	return out
}

// rankTop returns the n most violated names, count descending, ties broken
// by name ascending.
func rankTop(names []string, n int) []RankEntry {
	counts := make(map[string]int)
	for _, name := range names {
		counts[name]++
	}
	out := make([]RankEntry, 0, len(counts))
	for name, c := range counts {
		out = append(out, RankEntry{Name: name, Violations: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Violations != out[j].Violations {
			return out[i].Violations > out[j].Violations
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
