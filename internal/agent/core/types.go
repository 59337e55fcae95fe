package core

import (
	"context"
	"time"
)

// Sub-problem types produced by decomposition.
const (
	TypeInformationLookup    = "information-lookup"
	TypeComparativeAnalysis  = "comparative-analysis"
	TypeInferentialReasoning = "inferential-reasoning"
	TypeRecommendation       = "recommendation"
	TypeOriginalQuestion     = "original-question"
	TypeSimple               = "simple"
)

// SubProblem is a single unit of work produced by decomposing a complex query.
// Dependencies reference the IDs of sub-problems that must be answered first.
type SubProblem struct {
	ID           int    `json:"id"`
	Content      string `json:"content"`
	Type         string `json:"type"`
	Dependencies []int  `json:"dependencies"`
}

// ComplexityAnalysis explains a complexity verdict.
type ComplexityAnalysis struct {
	Reason     string   `json:"reason"`
	Indicators []string `json:"indicators"`
}

// ComplexityVerdict is the direct output of the complexity_check tool.
type ComplexityVerdict struct {
	IsComplex   bool     `json:"is_complex"`
	Reason      string   `json:"reason"`
	Indicators  []string `json:"indicators"`
	RawResponse string   `json:"raw_response,omitempty"`
}

// Decomposition is the direct output of the problem_decompose tool.
type Decomposition struct {
	SubProblems []SubProblem `json:"sub_problems"`
	Note        string       `json:"note,omitempty"`
	RawResponse string       `json:"raw_response,omitempty"`
}

// AnalysisResult is the canonical outcome of processing one query.
// IsComplex is tri-state: nil means the verdict could not be determined.
type AnalysisResult struct {
	ID                 string             `json:"id,omitempty"`
	OriginalQuery      string             `json:"original_query"`
	IsComplex          *bool              `json:"is_complex"`
	SubProblems        []SubProblem       `json:"sub_problems"`
	ComplexityAnalysis ComplexityAnalysis `json:"complexity_analysis"`
	RawOutput          string             `json:"raw_output,omitempty"`
	Error              string             `json:"error,omitempty"`
	Transcript         []LoopStep         `json:"transcript,omitempty"`
	ProcessingTime     time.Duration      `json:"processing_time,omitempty"`
	TokensUsed         int64              `json:"tokens_used,omitempty"`
	CostEstimate       float64            `json:"cost_estimate,omitempty"`
	LLMModelsUsed      []string           `json:"llm_models_used,omitempty"`
	CreatedAt          time.Time          `json:"created_at,omitempty"`
}

// LoopStep is one thought/action/observation round of the reasoning loop.
type LoopStep struct {
	Thought     string `json:"thought,omitempty"`
	Action      string `json:"action,omitempty"`
	ActionInput string `json:"action_input,omitempty"`
	Observation string `json:"observation,omitempty"`
}

// ProcessingStatus represents the status of processing a query
type ProcessingStatus struct {
	QueryID     string        `json:"query_id"`
	Status      string        `json:"status"`   // pending, reasoning, classifying, decomposing, completed, failed
	Progress    float64       `json:"progress"` // 0.0 to 1.0
	CurrentStep string        `json:"current_step,omitempty"`
	Iterations  int           `json:"iterations"`
	ElapsedTime time.Duration `json:"elapsed_time"`
	Error       string        `json:"error,omitempty"`
	LastUpdated time.Time     `json:"last_updated"`
	CreatedAt   time.Time     `json:"created_at"`
}

// AnalyzerInterface defines the contract for the query analyzer
type AnalyzerInterface interface {
	// Process analyzes a query and returns the canonical result.
	// Degradation is data: it never returns an error.
	Process(ctx context.Context, query string) AnalysisResult

	// GetStatus returns the current status of an in-flight query
	GetStatus(queryID string) (ProcessingStatus, error)

	// CancelProcessing cancels ongoing processing
	CancelProcessing(queryID string) error
}

// Tool is a capability the reasoning loop can invoke.
type Tool interface {
	// Name returns the registry name of the tool
	Name() string

	// Description returns a one-line description for the tool catalog
	Description() string

	// InputSchema returns the JSON schema of the tool arguments
	InputSchema() map[string]interface{}

	// Run executes the tool and returns a JSON-formatted observation
	Run(ctx context.Context, args map[string]interface{}) (string, error)
}

// LLMProvider interface defines the contract for LLM providers
type LLMProvider interface {
	// Generate generates text using the LLM
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns token usage
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// GetAvailableModels returns available models
	GetAvailableModels() []string

	// GetModelInfo returns information about a specific model
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost calculates the cost for a given number of tokens
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// ModelInfo contains information about an LLM model
type ModelInfo struct {
	Name            string   `json:"name"`
	Provider        string   `json:"provider"`
	MaxTokens       int      `json:"max_tokens"`
	CostPer1KInput  float64  `json:"cost_per_1k_input"`
	CostPer1KOutput float64  `json:"cost_per_1k_output"`
	Capabilities    []string `json:"capabilities"`
	Description     string   `json:"description"`
}

// ResultSink persists finished analysis results.
type ResultSink interface {
	Save(ctx context.Context, result AnalysisResult) error
}
