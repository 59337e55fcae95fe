package qa

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/querycraft/querycraft/internal/agent/core"
)

// ValidateResultFile loads a saved analysis result and checks the canonical
// schema constraints hold.
func ValidateResultFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var result core.AnalysisResult
	if err := json.Unmarshal(b, &result); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return ValidateResult(result)
}

// ValidateResult checks the invariants every processed result must satisfy:
// sub_problems is present, ids are positive and unique, dependencies only
// reference earlier ids, and a simple verdict carries exactly one
// sub-problem of type simple.
func ValidateResult(result core.AnalysisResult) error {
	if result.OriginalQuery == "" {
		return fmt.Errorf("original_query missing")
	}
	if result.SubProblems == nil {
		return fmt.Errorf("sub_problems missing")
	}

	seen := map[int]bool{}
	for i, sub := range result.SubProblems {
		if sub.ID <= 0 {
			return fmt.Errorf("sub_problem %d: non-positive id %d", i, sub.ID)
		}
		if seen[sub.ID] {
			return fmt.Errorf("sub_problem %d: duplicate id %d", i, sub.ID)
		}
		if sub.Content == "" {
			return fmt.Errorf("sub_problem %d: empty content", i)
		}
		for _, dep := range sub.Dependencies {
			if dep <= 0 || dep >= sub.ID || !seen[dep] {
				return fmt.Errorf("sub_problem %d: invalid dependency %d", i, dep)
			}
		}
		seen[sub.ID] = true
	}

	if result.IsComplex != nil && !*result.IsComplex {
		if len(result.SubProblems) != 1 {
			return fmt.Errorf("simple verdict must carry exactly one sub_problem, got %d", len(result.SubProblems))
		}
		if result.SubProblems[0].Type != core.TypeSimple {
			return fmt.Errorf("simple verdict sub_problem has type %q", result.SubProblems[0].Type)
		}
	}
	return nil
}
