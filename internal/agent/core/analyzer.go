package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/querycraft/querycraft/config"
	"github.com/querycraft/querycraft/internal/agent/telemetry"
	"github.com/querycraft/querycraft/internal/capability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var analyzerTracer trace.Tracer = otel.Tracer("querycraft/internal/agent/analyzer")

// Outcome labels recorded with every processed query.
const (
	outcomeCompleted = "completed"
	outcomeDegraded  = "degraded"
	outcomeFailed    = "failed"
)

// Analyzer coordinates the classification/decomposition pipeline.
// Process never returns an error: every failure mode degrades into data
// on the result itself.
type Analyzer struct {
	config      *config.Config
	logger      *log.Logger
	telemetry   *telemetry.Telemetry
	capRegistry *capability.Registry

	llmProvider LLMProvider
	tools       map[string]Tool
	loop        *ReactLoop
	sink        ResultSink

	// Processing state
	processing map[string]*ProcessingStatus
	cancels    map[string]context.CancelFunc
	mu         sync.RWMutex

	// Concurrency control
	semaphore chan struct{}
}

// NewAnalyzer creates a new analyzer instance
func NewAnalyzer(cfg *config.Config, logger *log.Logger, tel *telemetry.Telemetry, registry *capability.Registry, sink ResultSink) (*Analyzer, error) {
	llmProvider, err := NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return NewAnalyzerWithProvider(cfg, logger, tel, registry, sink, llmProvider), nil
}

// NewAnalyzerWithProvider creates an analyzer around an existing provider.
func NewAnalyzerWithProvider(cfg *config.Config, logger *log.Logger, tel *telemetry.Telemetry, registry *capability.Registry, sink ResultSink, llmProvider LLMProvider) *Analyzer {
	if logger == nil {
		logger = log.New(log.Writer(), "[ANALYZER] ", log.LstdFlags)
	}
	tools := NewTools(cfg, llmProvider, tel)

	agentModel := cfg.LLM.Routing.Agent
	if agentModel == "" {
		agentModel = cfg.LLM.Routing.Fallback
	}
	loop := NewReactLoop(cfg.Agent, llmProvider, agentModel, tools, registry, tel)

	return &Analyzer{
		config:      cfg,
		logger:      logger,
		telemetry:   tel,
		capRegistry: registry,
		llmProvider: llmProvider,
		tools:       tools,
		loop:        loop,
		sink:        sink,
		processing:  make(map[string]*ProcessingStatus),
		cancels:     make(map[string]context.CancelFunc),
		semaphore:   make(chan struct{}, cfg.Agent.MaxConcurrent),
	}
}

// LLM exposes the analyzer's underlying LLM provider.
func (a *Analyzer) LLM() LLMProvider {
	return a.llmProvider
}

// Process analyzes one query end to end and returns the canonical result.
func (a *Analyzer) Process(ctx context.Context, query string) AnalysisResult {
	startTime := time.Now()
	queryID := uuid.NewString()

	ctx, span := analyzerTracer.Start(ctx, "agent.process_query",
		trace.WithAttributes(
			attribute.String("query.id", queryID),
			attribute.String("agent.mode", a.config.Agent.Mode),
		))
	defer span.End()

	finish := func(result AnalysisResult, outcome string) AnalysisResult {
		result.ID = queryID
		result.OriginalQuery = query
		if result.SubProblems == nil {
			result.SubProblems = []SubProblem{}
		}
		if result.ComplexityAnalysis.Indicators == nil {
			result.ComplexityAnalysis.Indicators = []string{}
		}
		result.ProcessingTime = time.Since(startTime)
		result.CreatedAt = time.Now()

		if outcome == outcomeFailed {
			span.SetStatus(codes.Error, result.Error)
		} else {
			span.SetStatus(codes.Ok, outcome)
		}

		a.telemetry.RecordProcessingEvent(ctx, telemetry.ProcessingEvent{
			ID:             queryID,
			Query:          query,
			StartTime:      startTime,
			EndTime:        time.Now(),
			ProcessingTime: result.ProcessingTime,
			Success:        outcome == outcomeCompleted,
			Outcome:        outcome,
			Error:          result.Error,
			Cost:           result.CostEstimate,
			TokensUsed:     result.TokensUsed,
			LLMModelsUsed:  result.LLMModelsUsed,
		})

		if a.sink != nil {
			if err := a.sink.Save(ctx, result); err != nil {
				a.logger.Printf("warn: saving result %s failed: %v", queryID, err)
			}
		}
		return result
	}

	if strings.TrimSpace(query) == "" {
		return finish(AnalysisResult{Error: "query must not be empty"}, outcomeFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Agent.ProcessTimeout)
	defer cancel()

	status := &ProcessingStatus{
		QueryID:     queryID,
		Status:      "pending",
		CreatedAt:   time.Now(),
		LastUpdated: time.Now(),
	}
	a.mu.Lock()
	a.processing[queryID] = status
	a.cancels[queryID] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.processing, queryID)
		delete(a.cancels, queryID)
		a.mu.Unlock()
	}()

	// Acquire semaphore for concurrency control
	select {
	case a.semaphore <- struct{}{}:
		defer func() { <-a.semaphore }()
	case <-ctx.Done():
		return finish(AnalysisResult{Error: ctx.Err().Error()}, outcomeFailed)
	}

	a.logger.Printf("Starting analysis for query: %s", queryID)

	var result AnalysisResult
	var outcome string
	switch a.config.Agent.Mode {
	case "direct":
		result, outcome = a.processDirect(ctx, query, status)
	default:
		result, outcome = a.processReact(ctx, query, status)
	}

	a.updateStatus(status, outcome, 1.0, "")
	return finish(result, outcome)
}

// processReact runs the reasoning loop and recovers its final answer.
func (a *Analyzer) processReact(ctx context.Context, query string, status *ProcessingStatus) (AnalysisResult, string) {
	a.updateStatus(status, "reasoning", 0.1, "Running reasoning loop")

	out, steps, usage, err := a.loop.Run(ctx, query)

	result := AnalysisResult{
		TokensUsed:    usage.Total(),
		CostEstimate:  a.llmProvider.CalculateCost(usage.InputTokens, usage.OutputTokens, a.loop.model),
		LLMModelsUsed: []string{a.loop.model},
	}
	if a.config.Agent.TranscriptInResult {
		result.Transcript = steps
	}
	status.Iterations = len(steps)

	if err != nil {
		result.Error = err.Error()
		if errors.Is(err, ErrIterationBudget) {
			result.Transcript = steps
			return result, outcomeDegraded
		}
		return result, outcomeFailed
	}

	a.updateStatus(status, "extracting", 0.8, "Extracting final answer")
	extracted, exErr := ExtractJSON(out, a.config.Agent.FinalAnswerMarker)
	if exErr != nil {
		a.telemetry.RecordExtractionFailure()
		a.logger.Printf("extraction failed for %s: %v", status.QueryID, exErr)
		degraded, _ := Normalize(query, nil)
		degraded.TokensUsed = result.TokensUsed
		degraded.CostEstimate = result.CostEstimate
		degraded.LLMModelsUsed = result.LLMModelsUsed
		degraded.Transcript = result.Transcript
		degraded.RawOutput = out
		return degraded, outcomeDegraded
	}

	normalized, stats := Normalize(query, extracted)
	a.telemetry.RecordDroppedDependencies(stats.DroppedDependencies)
	if stats.Synthesized {
		a.logger.Printf("query %s: complex verdict without decomposition, synthesized sub-problem", status.QueryID)
	}
	normalized.TokensUsed = result.TokensUsed
	normalized.CostEstimate = result.CostEstimate
	normalized.LLMModelsUsed = result.LLMModelsUsed
	normalized.Transcript = result.Transcript
	return normalized, outcomeCompleted
}

// processDirect runs classification and decomposition as two plain tool
// calls without the reasoning loop.
func (a *Analyzer) processDirect(ctx context.Context, query string, status *ProcessingStatus) (AnalysisResult, string) {
	args := map[string]interface{}{"query": query}

	a.updateStatus(status, "classifying", 0.2, "Checking complexity")
	verdictJSON, err := a.tools["complexity_check"].Run(ctx, args)
	if err != nil {
		return AnalysisResult{Error: err.Error()}, outcomeFailed
	}
	var verdict ComplexityVerdict
	if uerr := json.Unmarshal([]byte(verdictJSON), &verdict); uerr != nil {
		return AnalysisResult{Error: fmt.Sprintf("verdict unmarshal: %v", uerr)}, outcomeFailed
	}

	payload := map[string]interface{}{
		"is_complex": verdict.IsComplex,
		"complexity_analysis": map[string]interface{}{
			"reason":     verdict.Reason,
			"indicators": toInterfaceSlice(verdict.Indicators),
		},
	}

	if verdict.IsComplex {
		a.updateStatus(status, "decomposing", 0.6, "Decomposing query")
		decompJSON, err := a.tools["problem_decompose"].Run(ctx, args)
		if err != nil {
			return AnalysisResult{Error: err.Error()}, outcomeFailed
		}
		var decomp Decomposition
		if uerr := json.Unmarshal([]byte(decompJSON), &decomp); uerr != nil {
			return AnalysisResult{Error: fmt.Sprintf("decomposition unmarshal: %v", uerr)}, outcomeFailed
		}
		payload["sub_problems"] = subProblemsPayload(decomp.SubProblems)
	}

	result, stats := Normalize(query, payload)
	a.telemetry.RecordDroppedDependencies(stats.DroppedDependencies)
	result.RawOutput = verdict.RawResponse
	return result, outcomeCompleted
}

// GetStatus returns the current status of an in-flight query
func (a *Analyzer) GetStatus(queryID string) (ProcessingStatus, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status, exists := a.processing[queryID]
	if !exists {
		return ProcessingStatus{}, fmt.Errorf("no processing found for query: %s", queryID)
	}
	return *status, nil
}

// CancelProcessing cancels ongoing processing
func (a *Analyzer) CancelProcessing(queryID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cancel, exists := a.cancels[queryID]
	if !exists {
		return fmt.Errorf("no processing found for query: %s", queryID)
	}
	cancel()
	if status, ok := a.processing[queryID]; ok {
		status.Status = "cancelled"
		status.LastUpdated = time.Now()
	}
	a.logger.Printf("Cancelled processing for query: %s", queryID)
	return nil
}

func (a *Analyzer) updateStatus(status *ProcessingStatus, state string, progress float64, step string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status.Status = state
	status.Progress = progress
	status.CurrentStep = step
	status.ElapsedTime = time.Since(status.CreatedAt)
	status.LastUpdated = time.Now()
}

func toInterfaceSlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func subProblemsPayload(subs []SubProblem) []interface{} {
	out := make([]interface{}, 0, len(subs))
	for _, s := range subs {
		deps := make([]interface{}, len(s.Dependencies))
		for i, d := range s.Dependencies {
			deps[i] = float64(d)
		}
		out = append(out, map[string]interface{}{
			"id":           float64(s.ID),
			"content":      s.Content,
			"type":         s.Type,
			"dependencies": deps,
		})
	}
	return out
}
