package pipeline

import (
	"fmt"
	"strings"
)

// MatchMode selects how a detection label is compared with the target class.
type MatchMode string

// Supported match modes.
const (
	MatchExact         MatchMode = "exact"
	MatchSubstring     MatchMode = "substring"
	MatchSubstringFold MatchMode = "substring-fold"
)

// ParseMatchMode validates a configured mode name. Empty means substring.
func ParseMatchMode(s string) (MatchMode, error) {
	switch m := MatchMode(strings.TrimSpace(s)); m {
	case "":
		return MatchSubstring, nil
	case MatchExact, MatchSubstring, MatchSubstringFold:
		return m, nil
	default:
		return "", fmt.Errorf("unknown match mode %q (want exact, substring or substring-fold)", s)
	}
}

// MatchPolicy decides which labels count as the target and when to stop.
type MatchPolicy struct {
	Mode MatchMode
	// Accumulate keeps the loop running for the whole budget after a match
	// and records the most confident one. The zero value stops at the first
	// matching label.
	Accumulate bool
}

// DefaultMatchPolicy stops at the first case-sensitive substring match.
func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{Mode: MatchSubstring}
}

// Matches reports whether label names the target class.
func (p MatchPolicy) Matches(label, target string) bool {
	if target == "" {
		return false
	}
	switch p.Mode {
	case MatchExact:
		return label == target
	case MatchSubstringFold:
		return strings.Contains(strings.ToLower(label), strings.ToLower(target))
	default:
		return strings.Contains(label, target)
	}
}
