package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/querycraft/querycraft/config"
	"github.com/querycraft/querycraft/internal/agent/telemetry"
	"github.com/querycraft/querycraft/internal/capability"
)

// scriptedLLM replays canned responses in order. The last response repeats
// once the script runs out.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	prompts   []string
	options   []map[string]interface{}
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	out, _, _, err := s.GenerateWithTokens(ctx, prompt, model, options)
	return out, err
}

func (s *scriptedLLM) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	s.options = append(s.options, options)
	s.calls++
	if s.err != nil {
		return "", 0, 0, s.err
	}
	if len(s.responses) == 0 {
		return "", 0, 0, errors.New("no scripted response")
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], 10, 20, nil
}

func (s *scriptedLLM) GetAvailableModels() []string { return []string{"stub-model"} }

func (s *scriptedLLM) GetModelInfo(model string) (ModelInfo, error) {
	return ModelInfo{Name: model, Provider: "stub"}, nil
}

func (s *scriptedLLM) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return float64(inputTokens+outputTokens) * 0.00001
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memorySink collects saved results in memory.
type memorySink struct {
	mu    sync.Mutex
	saved []AnalysisResult
}

func (m *memorySink) Save(ctx context.Context, result AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, result)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Agent = config.AgentConfig{}.Normalize()
	cfg.LLM.Routing = config.LLMRoutingConfig{Fallback: "stub-model"}
	return cfg
}

func testTelemetry() *telemetry.Telemetry {
	return telemetry.NewTelemetry(config.TelemetryConfig{})
}

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry(capability.DefaultToolCards(), "", nil)
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return reg
}
