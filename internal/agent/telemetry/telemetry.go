package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/querycraft/querycraft/config"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycraft_queries_total",
		Help: "Processed queries by outcome.",
	}, []string{"outcome"})

	processingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "querycraft_processing_seconds",
		Help:    "End-to-end query processing time.",
		Buckets: prometheus.DefBuckets,
	})

	extractionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querycraft_extraction_failures_total",
		Help: "Final answers without a parseable JSON payload.",
	})

	droppedDependenciesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querycraft_dropped_dependencies_total",
		Help: "Sub-problem dependency references stripped during normalization.",
	})

	iterationBudgetTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querycraft_iteration_budget_exceeded_total",
		Help: "Reasoning loops stopped at the iteration cap.",
	})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querycraft_llm_tokens_total",
		Help: "LLM tokens consumed per model.",
	}, []string{"model"})
)

// Telemetry provides monitoring and cost tracking
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds various performance metrics
type Metrics struct {
	// Processing metrics
	TotalQueries          int64
	SuccessfulQueries     int64
	DegradedQueries       int64
	FailedQueries         int64
	AverageProcessingTime time.Duration

	// Recovery metrics
	ExtractionFailures      int64
	DroppedDependencies     int64
	IterationBudgetExceeded int64

	// Tool metrics
	ToolExecutions   map[string]int64
	ToolSuccessRates map[string]float64
	ToolAverageTimes map[string]time.Duration

	// LLM metrics
	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64
}

// CostTracker tracks costs across models and operations
type CostTracker struct {
	ModelCosts  map[string]float64 // model -> cost
	TotalCost   float64
	TotalTokens int64
}

// ProcessingEvent represents a single query processing event
type ProcessingEvent struct {
	ID             string
	Query          string
	StartTime      time.Time
	EndTime        time.Time
	ProcessingTime time.Duration
	Success        bool
	Outcome        string // completed, degraded, failed
	Error          string
	Cost           float64
	TokensUsed     int64
	ToolsUsed      []string
	LLMModelsUsed  []string
}

// ToolEvent represents a tool execution event
type ToolEvent struct {
	ID         string
	Tool       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Success    bool
	Error      string
	Cost       float64
	TokensUsed int64
	ModelUsed  string
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(config config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: config,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			ToolExecutions:   make(map[string]int64),
			ToolSuccessRates: make(map[string]float64),
			ToolAverageTimes: make(map[string]time.Duration),
			LLMRequests:      make(map[string]int64),
			LLMTokensUsed:    make(map[string]int64),
		},
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
		},
	}
}

// RecordProcessingEvent records a complete query processing event
func (t *Telemetry) RecordProcessingEvent(ctx context.Context, event ProcessingEvent) {
	if !t.config.Enabled {
		return
	}

	outcome := event.Outcome
	if outcome == "" {
		if event.Success {
			outcome = "completed"
		} else {
			outcome = "failed"
		}
	}
	queriesTotal.WithLabelValues(outcome).Inc()
	processingSeconds.Observe(event.ProcessingTime.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalQueries++
	switch outcome {
	case "completed":
		t.metrics.SuccessfulQueries++
	case "degraded":
		t.metrics.DegradedQueries++
	default:
		t.metrics.FailedQueries++
	}

	// Update average processing time
	if t.metrics.TotalQueries == 1 {
		t.metrics.AverageProcessingTime = event.ProcessingTime
	} else {
		total := t.metrics.AverageProcessingTime * time.Duration(t.metrics.TotalQueries-1)
		t.metrics.AverageProcessingTime = (total + event.ProcessingTime) / time.Duration(t.metrics.TotalQueries)
	}

	for _, tool := range event.ToolsUsed {
		t.metrics.ToolExecutions[tool]++
	}
	for _, model := range event.LLMModelsUsed {
		t.metrics.LLMRequests[model]++
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	t.logger.Printf("Processing Event: ID=%s, Outcome=%s, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.ID, outcome, event.ProcessingTime, event.Cost, event.TokensUsed)
}

// RecordToolEvent records a tool execution event
func (t *Telemetry) RecordToolEvent(ctx context.Context, event ToolEvent) {
	if !t.config.Enabled {
		return
	}

	if event.ModelUsed != "" {
		llmTokensTotal.WithLabelValues(event.ModelUsed).Add(float64(event.TokensUsed))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.ToolExecutions[event.Tool]++

	// Update success rate
	currentSuccess := t.metrics.ToolSuccessRates[event.Tool] * float64(t.metrics.ToolExecutions[event.Tool]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.ToolSuccessRates[event.Tool] = currentSuccess / float64(t.metrics.ToolExecutions[event.Tool])

	// Update average time
	currentExecutions := t.metrics.ToolExecutions[event.Tool]
	currentAvg := t.metrics.ToolAverageTimes[event.Tool]
	if currentExecutions == 1 {
		t.metrics.ToolAverageTimes[event.Tool] = event.Duration
	} else {
		total := currentAvg * time.Duration(currentExecutions-1)
		t.metrics.ToolAverageTimes[event.Tool] = (total + event.Duration) / time.Duration(currentExecutions)
	}

	t.metrics.LLMRequests[event.ModelUsed]++
	t.metrics.LLMTokensUsed[event.ModelUsed] += event.TokensUsed

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed
	t.costTracker.ModelCosts[event.ModelUsed] += event.Cost

	t.logger.Printf("Tool Event: Tool=%s, Success=%t, Duration=%v, Cost=$%.4f",
		event.Tool, event.Success, event.Duration, event.Cost)
}

// RecordExtractionFailure counts a final answer that had no parseable JSON
func (t *Telemetry) RecordExtractionFailure() {
	if !t.config.Enabled {
		return
	}
	extractionFailuresTotal.Inc()
	t.mu.Lock()
	t.metrics.ExtractionFailures++
	t.mu.Unlock()
}

// RecordDroppedDependencies counts dependency references stripped by the normalizer
func (t *Telemetry) RecordDroppedDependencies(n int) {
	if !t.config.Enabled || n <= 0 {
		return
	}
	droppedDependenciesTotal.Add(float64(n))
	t.mu.Lock()
	t.metrics.DroppedDependencies += int64(n)
	t.mu.Unlock()
}

// RecordIterationBudgetExceeded counts loops stopped at the iteration cap
func (t *Telemetry) RecordIterationBudgetExceeded() {
	if !t.config.Enabled {
		return
	}
	iterationBudgetTotal.Inc()
	t.mu.Lock()
	t.metrics.IterationBudgetExceeded++
	t.mu.Unlock()
}

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Create a deep copy to avoid race conditions
	metrics := *t.metrics
	metrics.ToolExecutions = make(map[string]int64)
	metrics.ToolSuccessRates = make(map[string]float64)
	metrics.ToolAverageTimes = make(map[string]time.Duration)
	metrics.LLMRequests = make(map[string]int64)
	metrics.LLMTokensUsed = make(map[string]int64)

	for k, v := range t.metrics.ToolExecutions {
		metrics.ToolExecutions[k] = v
	}
	for k, v := range t.metrics.ToolSuccessRates {
		metrics.ToolSuccessRates[k] = v
	}
	for k, v := range t.metrics.ToolAverageTimes {
		metrics.ToolAverageTimes[k] = v
	}
	for k, v := range t.metrics.LLMRequests {
		metrics.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		metrics.LLMTokensUsed[k] = v
	}

	return metrics
}

// GetCostSummary returns current cost summary
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		ModelCosts:  make(map[string]float64),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	return summary
}

// CostSummary provides a summary of costs
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
}

// Shutdown gracefully shuts down the telemetry system
func (t *Telemetry) Shutdown() {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	if metrics.TotalQueries == 0 {
		return
	}
	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Queries: %d", metrics.TotalQueries)
	t.logger.Printf("  Success Rate: %.2f%%", float64(metrics.SuccessfulQueries)/float64(metrics.TotalQueries)*100)
	t.logger.Printf("  Average Processing Time: %v", metrics.AverageProcessingTime)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}

// GetPerformanceReport returns a detailed performance report
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	if metrics.TotalQueries == 0 {
		return "no queries processed yet"
	}

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Overall Metrics:
  Total Queries: %d
  Completed: %d (%.2f%%)
  Degraded: %d
  Failed: %d
  Extraction Failures: %d
  Dropped Dependencies: %d
  Iteration Budget Exceeded: %d
  Average Processing Time: %v
  Total Cost: $%.4f
  Total Tokens: %d

Tool Performance:
`, metrics.TotalQueries, metrics.SuccessfulQueries,
		float64(metrics.SuccessfulQueries)/float64(metrics.TotalQueries)*100,
		metrics.DegradedQueries, metrics.FailedQueries,
		metrics.ExtractionFailures, metrics.DroppedDependencies, metrics.IterationBudgetExceeded,
		metrics.AverageProcessingTime, costs.TotalCost, costs.TotalTokens)

	for tool, executions := range metrics.ToolExecutions {
		successRate := metrics.ToolSuccessRates[tool]
		avgTime := metrics.ToolAverageTimes[tool]
		report += fmt.Sprintf("  %s: %d executions, %.2f%% success, %v avg time\n",
			tool, executions, successRate*100, avgTime)
	}

	report += "\nLLM Usage:\n"
	for model, requests := range metrics.LLMRequests {
		tokens := metrics.LLMTokensUsed[model]
		cost := costs.ModelCosts[model]
		report += fmt.Sprintf("  %s: %d requests, %d tokens, $%.4f\n",
			model, requests, tokens, cost)
	}

	return report
}
