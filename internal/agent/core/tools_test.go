package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestComplexityToolParsesVerdict(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"is_complex": true, "reason": "two intents", "indicators": ["hotel", "flight"]}`,
	}}
	tool := NewComplexityTool(testConfig(), llm, testTelemetry())

	out, err := tool.Run(context.Background(), map[string]interface{}{"query": "帮我找北京的酒店和机票"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var verdict ComplexityVerdict
	if uerr := json.Unmarshal([]byte(out), &verdict); uerr != nil {
		t.Fatalf("output not JSON: %v", uerr)
	}
	if !verdict.IsComplex || verdict.Reason != "two intents" || len(verdict.Indicators) != 2 {
		t.Fatalf("unexpected verdict: %#v", verdict)
	}
}

func TestComplexityToolFallsBackToSimpleOnGarbage(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"I cannot answer in JSON, sorry."}}
	tool := NewComplexityTool(testConfig(), llm, testTelemetry())

	out, err := tool.Run(context.Background(), map[string]interface{}{"query": "今天星期几？"})
	if err != nil {
		t.Fatalf("parse failure must not error: %v", err)
	}
	var verdict ComplexityVerdict
	if uerr := json.Unmarshal([]byte(out), &verdict); uerr != nil {
		t.Fatalf("output not JSON: %v", uerr)
	}
	if verdict.IsComplex {
		t.Fatalf("fallback verdict must be simple")
	}
	if verdict.RawResponse == "" {
		t.Fatalf("fallback must carry the raw response")
	}
}

func TestComplexityToolRejectsEmptyQuery(t *testing.T) {
	tool := NewComplexityTool(testConfig(), &scriptedLLM{}, testTelemetry())

	_, err := tool.Run(context.Background(), map[string]interface{}{"query": "   "})
	var invalid *InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}

	_, err = tool.Run(context.Background(), map[string]interface{}{})
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError for missing query, got %v", err)
	}
}

func TestComplexityToolPropagatesTransportError(t *testing.T) {
	llm := &scriptedLLM{err: &TransportError{Op: "generate", Err: errors.New("connection refused")}}
	tool := NewComplexityTool(testConfig(), llm, testTelemetry())

	_, err := tool.Run(context.Background(), map[string]interface{}{"query": "q"})
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestDecomposeToolParsesSubProblems(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"sub_problems": [
			{"id": 1, "content": "查询北京的酒店", "type": "information-lookup", "dependencies": []},
			{"id": 2, "content": "查询去北京的机票", "type": "information-lookup", "dependencies": []},
			{"id": 3, "content": "根据预算推荐组合", "type": "recommendation", "dependencies": [1, 2]}
		]}`,
	}}
	tool := NewDecomposeTool(testConfig(), llm, testTelemetry())

	out, err := tool.Run(context.Background(), map[string]interface{}{"query": "帮我找北京的酒店和机票"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decomp Decomposition
	if uerr := json.Unmarshal([]byte(out), &decomp); uerr != nil {
		t.Fatalf("output not JSON: %v", uerr)
	}
	if len(decomp.SubProblems) != 3 {
		t.Fatalf("expected 3 sub-problems, got %d", len(decomp.SubProblems))
	}
	if got := decomp.SubProblems[2].Dependencies; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("dependencies not preserved: %v", got)
	}
}

func TestDecomposeToolFallsBackToOriginalQuestion(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"not json at all"}}
	tool := NewDecomposeTool(testConfig(), llm, testTelemetry())

	out, err := tool.Run(context.Background(), map[string]interface{}{"query": "帮我找北京的酒店和机票"})
	if err != nil {
		t.Fatalf("parse failure must not error: %v", err)
	}
	var decomp Decomposition
	if uerr := json.Unmarshal([]byte(out), &decomp); uerr != nil {
		t.Fatalf("output not JSON: %v", uerr)
	}
	if len(decomp.SubProblems) != 1 {
		t.Fatalf("expected single fallback sub-problem, got %d", len(decomp.SubProblems))
	}
	sub := decomp.SubProblems[0]
	if sub.ID != 1 || sub.Type != TypeOriginalQuestion || sub.Content != "帮我找北京的酒店和机票" {
		t.Fatalf("unexpected fallback sub-problem: %#v", sub)
	}
	if decomp.Note == "" {
		t.Fatalf("fallback must carry a note")
	}
}

func TestToolsUseConfiguredTemperatures(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.ClassifierTemp = 0.3
	cfg.Agent.DecomposerTemp = 0.5

	llm := &scriptedLLM{responses: []string{`{"is_complex": false}`}}
	if _, err := NewComplexityTool(cfg, llm, testTelemetry()).Run(context.Background(), map[string]interface{}{"query": "q"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewDecomposeTool(cfg, llm, testTelemetry()).Run(context.Background(), map[string]interface{}{"query": "q"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := llm.options[0]["temperature"]; got != 0.3 {
		t.Fatalf("classifier temperature: expected 0.3, got %v", got)
	}
	if got := llm.options[1]["temperature"]; got != 0.5 {
		t.Fatalf("decomposer temperature: expected 0.5, got %v", got)
	}
}

func TestNewToolsRegistersBothTools(t *testing.T) {
	tools := NewTools(testConfig(), &scriptedLLM{}, testTelemetry())
	if _, ok := tools["complexity_check"]; !ok {
		t.Fatalf("complexity_check missing")
	}
	if _, ok := tools["problem_decompose"]; !ok {
		t.Fatalf("problem_decompose missing")
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
}
