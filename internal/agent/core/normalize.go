package core

import (
	"strconv"
	"strings"
)

// NormalizeStats reports what the normalizer had to repair.
type NormalizeStats struct {
	DroppedDependencies int
	DroppedSubProblems  int
	CoercedVerdict      bool
	Synthesized         bool
}

// Normalize converts a loosely shaped extraction payload into the canonical
// result. It is total: any input, including nil, yields a schema-conformant
// result. Rules:
//   - a nil payload means extraction failed; the verdict stays unknown
//   - string verdicts "true"/"false" are coerced case-insensitively
//   - a complex verdict without sub-problems synthesizes one carrying the
//     original question
//   - a simple verdict always yields exactly one sub-problem of type simple
//   - dependencies may only reference earlier ids; everything else is stripped
func Normalize(query string, extracted map[string]interface{}) (AnalysisResult, NormalizeStats) {
	result := AnalysisResult{
		OriginalQuery: query,
		SubProblems:   []SubProblem{},
	}
	var stats NormalizeStats

	if extracted == nil {
		result.ComplexityAnalysis.Reason = "no structured result could be extracted"
		result.ComplexityAnalysis.Indicators = []string{}
		return result, stats
	}

	result.IsComplex, stats.CoercedVerdict = verdictOf(extracted["is_complex"])
	result.ComplexityAnalysis = analysisOf(extracted)

	subs, droppedSubs, droppedDeps := subProblemsOf(extracted["sub_problems"])
	stats.DroppedSubProblems = droppedSubs
	stats.DroppedDependencies = droppedDeps

	switch {
	case result.IsComplex == nil:
		result.SubProblems = subs
	case *result.IsComplex:
		if len(subs) == 0 {
			subs = []SubProblem{{
				ID:           1,
				Content:      query,
				Type:         TypeOriginalQuestion,
				Dependencies: []int{},
			}}
			stats.Synthesized = true
		}
		result.SubProblems = subs
	default:
		result.SubProblems = []SubProblem{{
			ID:           1,
			Content:      query,
			Type:         TypeSimple,
			Dependencies: []int{},
		}}
	}

	return result, stats
}

// verdictOf coerces the is_complex field into a tri-state verdict.
func verdictOf(v interface{}) (*bool, bool) {
	switch t := v.(type) {
	case bool:
		b := t
		return &b, false
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			b := true
			return &b, true
		case "false":
			b := false
			return &b, true
		}
	}
	return nil, false
}

func analysisOf(extracted map[string]interface{}) ComplexityAnalysis {
	analysis := ComplexityAnalysis{Indicators: []string{}}

	fields := extracted
	if nested, ok := extracted["complexity_analysis"].(map[string]interface{}); ok {
		fields = nested
	}
	if reason, ok := fields["reason"].(string); ok {
		analysis.Reason = reason
	}
	if raw, ok := fields["indicators"].([]interface{}); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				analysis.Indicators = append(analysis.Indicators, s)
			}
		}
	}
	return analysis
}

// subProblemsOf parses and validates the sub_problems field. Entries without
// usable content are dropped; dependency references that point forward, at
// the entry itself, or at unknown ids are stripped.
func subProblemsOf(v interface{}) ([]SubProblem, int, int) {
	raw, ok := v.([]interface{})
	if !ok {
		return []SubProblem{}, 0, 0
	}

	subs := []SubProblem{}
	seen := make(map[int]bool)
	droppedSubs := 0
	droppedDeps := 0

	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			droppedSubs++
			continue
		}
		content, _ := entry["content"].(string)
		if strings.TrimSpace(content) == "" {
			droppedSubs++
			continue
		}
		id, ok := intOf(entry["id"])
		if !ok || id <= 0 || seen[id] {
			droppedSubs++
			continue
		}

		sub := SubProblem{
			ID:           id,
			Content:      content,
			Dependencies: []int{},
		}
		if t, ok := entry["type"].(string); ok && strings.TrimSpace(t) != "" {
			sub.Type = t
		} else {
			sub.Type = TypeInformationLookup
		}

		if deps, ok := entry["dependencies"].([]interface{}); ok {
			for _, d := range deps {
				dep, ok := intOf(d)
				if !ok || dep <= 0 || dep >= id || !seen[dep] {
					droppedDeps++
					continue
				}
				sub.Dependencies = append(sub.Dependencies, dep)
			}
		}

		seen[id] = true
		subs = append(subs, sub)
	}

	return subs, droppedSubs, droppedDeps
}

// intOf coerces JSON numbers and numeric strings to int.
func intOf(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
