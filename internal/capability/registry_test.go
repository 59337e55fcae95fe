package capability

import "testing"

func minimalSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
	}
}

func mustSign(t *testing.T, tc ToolCard, secret string) ToolCard {
	t.Helper()
	if tc.InputSchema == nil {
		tc.InputSchema = minimalSchema()
	}
	if tc.OutputSchema == nil {
		tc.OutputSchema = minimalSchema()
	}
	checksum, err := ComputeChecksum(tc)
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	tc.Checksum = checksum
	sig, err := SignToolCard(tc, secret)
	if err != nil {
		t.Fatalf("SignToolCard: %v", err)
	}
	tc.Signature = sig
	return tc
}

func TestNewRegistryRejectsInvalidSignature(t *testing.T) {
	secret := "top-secret"
	tc := ToolCard{
		Name:         "complexity_check",
		Version:      "v1",
		Description:  "complexity classifier",
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
	}
	checksum, err := ComputeChecksum(tc)
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	tc.Checksum = checksum
	tc.Signature = "deadbeef"

	if _, err := NewRegistry([]ToolCard{tc}, secret, []string{"complexity_check"}); err == nil {
		t.Fatalf("expected signature validation to fail")
	}
}

func TestNewRegistryEnforcesRequiredTools(t *testing.T) {
	secret := "top-secret"
	complexity := mustSign(t, ToolCard{
		Name:        "complexity_check",
		Version:     "v1",
		Description: "complexity classifier",
	}, secret)

	cards := []ToolCard{complexity}
	if _, err := NewRegistry(cards, secret, []string{"complexity_check", "problem_decompose"}); err == nil {
		t.Fatalf("expected missing required tool to error")
	}
}

func TestNewRegistryDefaultsToAnalysisTools(t *testing.T) {
	if _, err := NewRegistry([]ToolCard{DefaultToolCards()[0]}, "", nil); err == nil {
		t.Fatalf("expected default required tools to include problem_decompose")
	}
	reg, err := NewRegistry(DefaultToolCards(), "", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := reg.Tool("problem_decompose"); !ok {
		t.Fatalf("expected problem_decompose to be registered")
	}
}

func TestNewRegistryPrefersLatestVersion(t *testing.T) {
	secret := "top-secret"
	old := mustSign(t, ToolCard{
		Name:    "complexity_check",
		Version: "v1",
	}, secret)
	newer := mustSign(t, ToolCard{
		Name:    "complexity_check",
		Version: "v1.1",
	}, secret)

	reg, err := NewRegistry([]ToolCard{old, newer}, secret, []string{"complexity_check"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tool, ok := reg.Tool("complexity_check")
	if !ok {
		t.Fatalf("expected complexity_check tool to exist")
	}
	if tool.Version != "v1.1" {
		t.Fatalf("expected latest version, got %s", tool.Version)
	}
}

func TestValidateArgs(t *testing.T) {
	reg, err := NewRegistry(DefaultToolCards(), "", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.ValidateArgs("complexity_check", map[string]interface{}{"query": "hello"}); err != nil {
		t.Fatalf("expected valid args, got %v", err)
	}
	if err := reg.ValidateArgs("complexity_check", map[string]interface{}{}); err == nil {
		t.Fatalf("expected missing query to error")
	}
	if err := reg.ValidateArgs("complexity_check", map[string]interface{}{"query": 7}); err == nil {
		t.Fatalf("expected non-string query to error")
	}
	if err := reg.ValidateArgs("nonexistent", map[string]interface{}{"query": "x"}); err == nil {
		t.Fatalf("expected unknown tool to error")
	}
}

func TestValidateToolCard(t *testing.T) {
	valid := ToolCard{
		Name:         "complexity_check",
		Version:      "v1",
		Description:  "complexity classifier",
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
	}
	if err := ValidateToolCard(valid); err != nil {
		t.Fatalf("expected valid tool card, got %v", err)
	}
	invalid := ToolCard{
		Name:         "",
		Version:      "v1",
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
	}
	if err := ValidateToolCard(invalid); err == nil {
		t.Fatalf("expected validation failure for missing name")
	}
	badSchema := ToolCard{
		Name:         "complexity_check",
		Version:      "v1",
		InputSchema:  map[string]interface{}{"type": 123},
		OutputSchema: minimalSchema(),
	}
	if err := ValidateToolCard(badSchema); err == nil {
		t.Fatalf("expected validation failure for invalid schema")
	}
}

func TestVerifyChecksum(t *testing.T) {
	card := ToolCard{
		Name:         "problem_decompose",
		Version:      "v1",
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
	}
	checksum, err := ComputeChecksum(card)
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	card.Checksum = checksum
	if err := VerifyChecksum(card); err != nil {
		t.Fatalf("expected checksum to validate, got %v", err)
	}
	card.Checksum = "deadbeef"
	if err := VerifyChecksum(card); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}
