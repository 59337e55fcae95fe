package core

import (
	"testing"
)

func TestNormalizeNilPayloadKeepsVerdictUnknown(t *testing.T) {
	result, stats := Normalize("帮我找北京的酒店和机票", nil)

	if result.IsComplex != nil {
		t.Fatalf("expected unknown verdict, got %v", *result.IsComplex)
	}
	if result.SubProblems == nil || len(result.SubProblems) != 0 {
		t.Fatalf("expected empty non-nil sub_problems, got %#v", result.SubProblems)
	}
	if result.ComplexityAnalysis.Indicators == nil {
		t.Fatalf("indicators must not be nil")
	}
	if stats.Synthesized {
		t.Fatalf("nothing should be synthesized for a nil payload")
	}
}

func TestNormalizeSimpleYieldsSingleSimpleSubProblem(t *testing.T) {
	result, _ := Normalize("今天星期几？", map[string]interface{}{
		"is_complex": false,
		"sub_problems": []interface{}{
			map[string]interface{}{"id": float64(1), "content": "leftover", "type": "information-lookup"},
		},
	})

	if result.IsComplex == nil || *result.IsComplex {
		t.Fatalf("expected simple verdict, got %v", result.IsComplex)
	}
	if len(result.SubProblems) != 1 {
		t.Fatalf("expected exactly one sub-problem, got %d", len(result.SubProblems))
	}
	sub := result.SubProblems[0]
	if sub.ID != 1 || sub.Content != "今天星期几？" || sub.Type != TypeSimple {
		t.Fatalf("unexpected sub-problem: %#v", sub)
	}
	if sub.Dependencies == nil || len(sub.Dependencies) != 0 {
		t.Fatalf("dependencies must be an empty slice, got %#v", sub.Dependencies)
	}
}

func TestNormalizeComplexWithoutDecompositionSynthesizes(t *testing.T) {
	result, stats := Normalize("帮我找北京的酒店和机票", map[string]interface{}{
		"is_complex": true,
	})

	if !stats.Synthesized {
		t.Fatalf("expected synthesis for complex verdict without sub-problems")
	}
	if len(result.SubProblems) != 1 {
		t.Fatalf("expected one synthesized sub-problem, got %d", len(result.SubProblems))
	}
	sub := result.SubProblems[0]
	if sub.Type != TypeOriginalQuestion || sub.Content != "帮我找北京的酒店和机票" {
		t.Fatalf("unexpected synthesized sub-problem: %#v", sub)
	}
}

func TestNormalizeCoercesStringVerdicts(t *testing.T) {
	for raw, want := range map[string]bool{"true": true, "FALSE": false, " True ": true} {
		result, stats := Normalize("q", map[string]interface{}{"is_complex": raw})
		if result.IsComplex == nil || *result.IsComplex != want {
			t.Fatalf("verdict %q: expected %v, got %v", raw, want, result.IsComplex)
		}
		if !stats.CoercedVerdict {
			t.Fatalf("verdict %q should be marked as coerced", raw)
		}
	}

	result, _ := Normalize("q", map[string]interface{}{"is_complex": "maybe"})
	if result.IsComplex != nil {
		t.Fatalf("unparseable verdict should stay unknown, got %v", *result.IsComplex)
	}
}

func TestNormalizeStripsInvalidDependencies(t *testing.T) {
	result, stats := Normalize("q", map[string]interface{}{
		"is_complex": true,
		"sub_problems": []interface{}{
			map[string]interface{}{"id": float64(1), "content": "first", "dependencies": []interface{}{float64(1), float64(3)}},
			map[string]interface{}{"id": float64(2), "content": "second", "dependencies": []interface{}{float64(1), float64(2), float64(9)}},
		},
	})

	if len(result.SubProblems) != 2 {
		t.Fatalf("expected two sub-problems, got %d", len(result.SubProblems))
	}
	if len(result.SubProblems[0].Dependencies) != 0 {
		t.Fatalf("self and forward references must be stripped, got %v", result.SubProblems[0].Dependencies)
	}
	deps := result.SubProblems[1].Dependencies
	if len(deps) != 1 || deps[0] != 1 {
		t.Fatalf("expected only the backward reference to survive, got %v", deps)
	}
	if stats.DroppedDependencies != 4 {
		t.Fatalf("expected 4 dropped dependencies, got %d", stats.DroppedDependencies)
	}
}

func TestNormalizeDropsUnusableSubProblems(t *testing.T) {
	result, stats := Normalize("q", map[string]interface{}{
		"is_complex": true,
		"sub_problems": []interface{}{
			map[string]interface{}{"id": float64(1), "content": "keep"},
			map[string]interface{}{"id": float64(1), "content": "duplicate id"},
			map[string]interface{}{"id": float64(0), "content": "non-positive id"},
			map[string]interface{}{"id": float64(2), "content": "   "},
			"not even an object",
		},
	})

	if len(result.SubProblems) != 1 {
		t.Fatalf("expected one surviving sub-problem, got %d", len(result.SubProblems))
	}
	if stats.DroppedSubProblems != 4 {
		t.Fatalf("expected 4 dropped sub-problems, got %d", stats.DroppedSubProblems)
	}
}

func TestNormalizeCoercesNumericStringIDs(t *testing.T) {
	result, _ := Normalize("q", map[string]interface{}{
		"is_complex": true,
		"sub_problems": []interface{}{
			map[string]interface{}{"id": "1", "content": "a"},
			map[string]interface{}{"id": "2", "content": "b", "dependencies": []interface{}{"1"}},
		},
	})

	if len(result.SubProblems) != 2 {
		t.Fatalf("expected two sub-problems, got %d", len(result.SubProblems))
	}
	if result.SubProblems[1].ID != 2 || result.SubProblems[1].Dependencies[0] != 1 {
		t.Fatalf("numeric strings not coerced: %#v", result.SubProblems[1])
	}
}

func TestNormalizeDefaultsEmptyType(t *testing.T) {
	result, _ := Normalize("q", map[string]interface{}{
		"is_complex": true,
		"sub_problems": []interface{}{
			map[string]interface{}{"id": float64(1), "content": "a", "type": ""},
		},
	})
	if result.SubProblems[0].Type != TypeInformationLookup {
		t.Fatalf("expected default type, got %q", result.SubProblems[0].Type)
	}
}

func TestNormalizeReadsNestedComplexityAnalysis(t *testing.T) {
	result, _ := Normalize("q", map[string]interface{}{
		"is_complex": true,
		"complexity_analysis": map[string]interface{}{
			"reason":     "multiple intents",
			"indicators": []interface{}{"hotel", "flight"},
		},
	})
	if result.ComplexityAnalysis.Reason != "multiple intents" {
		t.Fatalf("reason not read: %#v", result.ComplexityAnalysis)
	}
	if len(result.ComplexityAnalysis.Indicators) != 2 {
		t.Fatalf("indicators not read: %#v", result.ComplexityAnalysis)
	}
}
