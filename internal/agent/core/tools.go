package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/querycraft/querycraft/config"
	"github.com/querycraft/querycraft/internal/agent/telemetry"
)

const complexityPrompt = `You are a query complexity classifier.

Decide whether the following user question is complex. A question is complex
when any of these hold:
1. It contains multiple distinct intents or goals.
2. It asks to compare or rank several options.
3. It needs multi-step reasoning with intermediate conclusions.
4. It carries conditional or interdependent constraints.
5. It requires gathering information from several distinct domains.

Question: %s

Respond ONLY with strict JSON:
{"is_complex": true|false, "reason": string, "indicators": [string]}`

const decomposePrompt = `You are a query decomposition assistant.

Break the following complex question into ordered sub-questions. Each
sub-question must be answerable on its own once its dependencies are
answered. Use increasing integer ids starting at 1; dependencies may only
reference smaller ids. Allowed types: information-lookup,
comparative-analysis, inferential-reasoning, recommendation.

Question: %s

Respond ONLY with strict JSON:
{"sub_problems": [{"id": number, "content": string, "type": string, "dependencies": [number]}]}`

// queryArg pulls the single required argument out of a tool args map.
func queryArg(args map[string]interface{}) (string, error) {
	q, _ := args["query"].(string)
	if strings.TrimSpace(q) == "" {
		return "", &InvalidInputError{Field: "query", Reason: "must be a non-empty string"}
	}
	return q, nil
}

func queryInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	}
}

// ComplexityTool classifies a query as simple or complex.
type ComplexityTool struct {
	config    *config.Config
	llm       LLMProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewComplexityTool creates the complexity_check tool
func NewComplexityTool(cfg *config.Config, llm LLMProvider, tel *telemetry.Telemetry) *ComplexityTool {
	return &ComplexityTool{
		config:    cfg,
		llm:       llm,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[COMPLEXITY] ", log.LstdFlags),
	}
}

func (t *ComplexityTool) Name() string { return "complexity_check" }

func (t *ComplexityTool) Description() string {
	return "Classifies a user question as simple or complex and explains why"
}

func (t *ComplexityTool) InputSchema() map[string]interface{} { return queryInputSchema() }

// Run classifies the query. Parse failures degrade to a simple verdict with
// the raw response attached; only invalid input or transport failures error.
func (t *ComplexityTool) Run(ctx context.Context, args map[string]interface{}) (string, error) {
	query, err := queryArg(args)
	if err != nil {
		return "", err
	}

	startTime := time.Now()
	model := t.routedModel()
	prompt := fmt.Sprintf(complexityPrompt, query)

	out, inTok, outTok, err := t.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": t.config.Agent.ClassifierTemp,
	})
	if err != nil {
		return "", err
	}

	verdict := ComplexityVerdict{}
	if uerr := json.Unmarshal([]byte(out), &verdict); uerr != nil {
		t.logger.Printf("verdict parse failed, defaulting to simple: %v", uerr)
		verdict = ComplexityVerdict{
			IsComplex:   false,
			Reason:      "failed to parse model response, treating as simple",
			Indicators:  []string{},
			RawResponse: out,
		}
	}
	if verdict.Indicators == nil {
		verdict.Indicators = []string{}
	}

	t.recordEvent(ctx, startTime, model, inTok, outTok)

	payload, merr := json.Marshal(verdict)
	if merr != nil {
		return "", fmt.Errorf("marshal verdict: %w", merr)
	}
	return string(payload), nil
}

func (t *ComplexityTool) routedModel() string {
	model := t.config.LLM.Routing.Classification
	if model == "" {
		model = t.config.LLM.Routing.Fallback
	}
	return model
}

func (t *ComplexityTool) recordEvent(ctx context.Context, startTime time.Time, model string, inTok, outTok int64) {
	t.telemetry.RecordToolEvent(ctx, telemetry.ToolEvent{
		ID:         uuid.NewString(),
		Tool:       t.Name(),
		StartTime:  startTime,
		EndTime:    time.Now(),
		Duration:   time.Since(startTime),
		Success:    true,
		Cost:       t.llm.CalculateCost(inTok, outTok, model),
		TokensUsed: inTok + outTok,
		ModelUsed:  model,
	})
}

// DecomposeTool breaks a complex query into dependent sub-questions.
type DecomposeTool struct {
	config    *config.Config
	llm       LLMProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewDecomposeTool creates the problem_decompose tool
func NewDecomposeTool(cfg *config.Config, llm LLMProvider, tel *telemetry.Telemetry) *DecomposeTool {
	return &DecomposeTool{
		config:    cfg,
		llm:       llm,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[DECOMPOSE] ", log.LstdFlags),
	}
}

func (t *DecomposeTool) Name() string { return "problem_decompose" }

func (t *DecomposeTool) Description() string {
	return "Decomposes a complex question into ordered, dependent sub-questions"
}

func (t *DecomposeTool) InputSchema() map[string]interface{} { return queryInputSchema() }

// Run decomposes the query. Parse failures degrade to a single sub-problem
// carrying the original question.
func (t *DecomposeTool) Run(ctx context.Context, args map[string]interface{}) (string, error) {
	query, err := queryArg(args)
	if err != nil {
		return "", err
	}

	startTime := time.Now()
	model := t.routedModel()
	prompt := fmt.Sprintf(decomposePrompt, query)

	out, inTok, outTok, err := t.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": t.config.Agent.DecomposerTemp,
	})
	if err != nil {
		return "", err
	}

	decomp := Decomposition{}
	if uerr := json.Unmarshal([]byte(out), &decomp); uerr != nil || len(decomp.SubProblems) == 0 {
		t.logger.Printf("decomposition parse failed, returning original question: %v", uerr)
		decomp = Decomposition{
			SubProblems: []SubProblem{{
				ID:           1,
				Content:      query,
				Type:         TypeOriginalQuestion,
				Dependencies: []int{},
			}},
			Note:        "decomposition failed, returning the original question",
			RawResponse: out,
		}
	}
	for i := range decomp.SubProblems {
		if decomp.SubProblems[i].Dependencies == nil {
			decomp.SubProblems[i].Dependencies = []int{}
		}
	}

	t.telemetry.RecordToolEvent(ctx, telemetry.ToolEvent{
		ID:         uuid.NewString(),
		Tool:       t.Name(),
		StartTime:  startTime,
		EndTime:    time.Now(),
		Duration:   time.Since(startTime),
		Success:    true,
		Cost:       t.llm.CalculateCost(inTok, outTok, model),
		TokensUsed: inTok + outTok,
		ModelUsed:  model,
	})

	payload, merr := json.Marshal(decomp)
	if merr != nil {
		return "", fmt.Errorf("marshal decomposition: %w", merr)
	}
	return string(payload), nil
}

func (t *DecomposeTool) routedModel() string {
	model := t.config.LLM.Routing.Decomposition
	if model == "" {
		model = t.config.LLM.Routing.Fallback
	}
	return model
}

// NewTools builds the capability tools available to the reasoning loop.
func NewTools(cfg *config.Config, llm LLMProvider, tel *telemetry.Telemetry) map[string]Tool {
	tools := make(map[string]Tool)
	complexity := NewComplexityTool(cfg, llm, tel)
	decompose := NewDecomposeTool(cfg, llm, tel)
	tools[complexity.Name()] = complexity
	tools[decompose.Name()] = decompose
	return tools
}
