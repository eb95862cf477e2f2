package sod

import "strings"

// RuleEntry is one forbidden pairing of transaction codes from the rule book.
// The pair is unordered: (T1, T2) and (T2, T1) describe the same conflict.
type RuleEntry struct {
	TCode1     string `json:"tcode_1"`
	TCode2     string `json:"tcode_2"`
	RiskFactor string `json:"risk_factor"`
}

// pairKey is the canonical form of an unordered tcode pair: Lo <= Hi.
type pairKey struct {
	Lo string
	Hi string
}

func canonicalPair(t1, t2 string) pairKey {
	if t1 > t2 {
		t1, t2 = t2, t1
	}
	return pairKey{Lo: t1, Hi: t2}
}

// RuleBook indexes conflicting tcode pairs for symmetric lookup.
type RuleBook struct {
	risks map[pairKey]string
}

// NewRuleBook builds a symmetric conflict lookup from rule entries.
// TCodes are normalized, self-pairs and blank cells are dropped, and the
// first occurrence of a pair wins on duplicates.
func NewRuleBook(entries []RuleEntry) *RuleBook {
	rb := &RuleBook{risks: make(map[pairKey]string, len(entries))}
	for _, e := range entries {
		t1 := NormalizeTCode(e.TCode1)
		t2 := NormalizeTCode(e.TCode2)
		if t1 == "" || t2 == "" || t1 == t2 {
			continue
		}
		key := canonicalPair(t1, t2)
		if _, exists := rb.risks[key]; !exists {
			rb.risks[key] = strings.TrimSpace(e.RiskFactor)
		}
	}
	return rb
}

// Risk returns the risk factor for a conflicting pair, in either order.
func (rb *RuleBook) Risk(t1, t2 string) (string, bool) {
	risk, ok := rb.risks[canonicalPair(t1, t2)]
	return risk, ok
}

// Len returns the number of distinct conflict pairs.
func (rb *RuleBook) Len() int {
	return len(rb.risks)
}

// NormalizeTCode trims and upper-cases a transaction code. Cells that held a
// missing value in the source spreadsheet round-trip as the literal "NAN" and
// are treated as empty.
func NormalizeTCode(tcode string) string {
	t := strings.ToUpper(strings.TrimSpace(tcode))
	if t == "NAN" {
		return ""
	}
	return t
}
