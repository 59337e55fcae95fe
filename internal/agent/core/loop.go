package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/querycraft/querycraft/config"
	"github.com/querycraft/querycraft/internal/agent/telemetry"
	"github.com/querycraft/querycraft/internal/capability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var loopTracer trace.Tracer = otel.Tracer("querycraft/internal/agent/loop")

// loopState models the phases of one reasoning round.
type loopState int

const (
	stateThinking loopState = iota
	stateActing
	stateObserving
	stateFinal
)

func (s loopState) String() string {
	switch s {
	case stateThinking:
		return "thinking"
	case stateActing:
		return "acting"
	case stateObserving:
		return "observing"
	case stateFinal:
		return "final"
	}
	return "unknown"
}

// ReactLoop drives the think/act/observe cycle until the model emits the
// final answer marker or the iteration budget runs out.
type ReactLoop struct {
	config    config.AgentConfig
	llm       LLMProvider
	model     string
	tools     map[string]Tool
	registry  *capability.Registry
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewReactLoop creates a reasoning loop over the given tools
func NewReactLoop(cfg config.AgentConfig, llm LLMProvider, model string, tools map[string]Tool, registry *capability.Registry, tel *telemetry.Telemetry) *ReactLoop {
	return &ReactLoop{
		config:    cfg,
		llm:       llm,
		model:     model,
		tools:     tools,
		registry:  registry,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[LOOP] ", log.LstdFlags),
	}
}

// LoopUsage accumulates token consumption across loop iterations.
type LoopUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns the combined token count.
func (u LoopUsage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Run executes the loop for one query. It returns the raw model text that
// contained the final answer marker, the transcript, and token usage.
// A TransportError aborts immediately; hitting the iteration cap returns
// ErrIterationBudget with the transcript preserved.
func (l *ReactLoop) Run(ctx context.Context, query string) (string, []LoopStep, LoopUsage, error) {
	ctx, span := loopTracer.Start(ctx, "agent.react_loop",
		trace.WithAttributes(attribute.Int("loop.max_iterations", l.config.MaxIterations)))
	defer span.End()

	var (
		steps     []LoopStep
		usage     LoopUsage
		step      LoopStep
		finalText string
	)
	state := stateThinking
	iteration := 0

	for state != stateFinal {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", steps, usage, err
		}

		switch state {
		case stateThinking:
			if iteration >= l.config.MaxIterations {
				l.telemetry.RecordIterationBudgetExceeded()
				span.SetStatus(codes.Error, ErrIterationBudget.Error())
				return "", steps, usage, fmt.Errorf("%w after %d iterations", ErrIterationBudget, l.config.MaxIterations)
			}
			iteration++

			out, inTok, outTok, err := l.llm.GenerateWithTokens(ctx, l.buildPrompt(query, steps), l.model, map[string]interface{}{
				"temperature": l.config.AgentTemp,
			})
			usage.InputTokens += inTok
			usage.OutputTokens += outTok
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return "", steps, usage, err
			}

			// Final-marker check takes precedence over action parsing.
			if strings.Contains(out, l.config.FinalAnswerMarker) {
				steps = append(steps, LoopStep{Thought: thoughtOf(out)})
				finalText = out
				state = stateFinal
				continue
			}

			step = LoopStep{Thought: thoughtOf(out)}
			action, input, perr := parseAction(out)
			if perr != nil {
				step.Observation = observationFor(perr)
				steps = append(steps, step)
				l.logger.Printf("iteration %d: %v", iteration, perr)
				continue
			}
			step.Action = action
			step.ActionInput = input
			state = stateActing

		case stateActing:
			span.AddEvent("loop.action", trace.WithAttributes(
				attribute.Int("loop.iteration", iteration),
				attribute.String("loop.tool", step.Action),
			))
			observation, err := l.invoke(ctx, step.Action, step.ActionInput)
			if err != nil {
				var transport *TransportError
				if errors.As(err, &transport) {
					steps = append(steps, step)
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return "", steps, usage, err
				}
				observation = observationFor(err)
				l.logger.Printf("iteration %d: tool %s: %v", iteration, step.Action, err)
			}
			step.Observation = observation
			state = stateObserving

		case stateObserving:
			steps = append(steps, step)
			step = LoopStep{}
			state = stateThinking
		}
	}

	span.SetAttributes(attribute.Int("loop.iterations_used", iteration))
	span.SetStatus(codes.Ok, "completed")
	return finalText, steps, usage, nil
}

// invoke validates and runs one tool request. All request-shape problems
// come back as ToolInvocationError so the loop can feed them to the model.
func (l *ReactLoop) invoke(ctx context.Context, action, input string) (string, error) {
	tool, ok := l.tools[action]
	if !ok {
		return "", &ToolInvocationError{Tool: action, Reason: "unknown tool"}
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", &ToolInvocationError{Tool: action, Reason: fmt.Sprintf("action input is not valid JSON: %v", err)}
	}
	if err := l.registry.ValidateArgs(action, args); err != nil {
		return "", &ToolInvocationError{Tool: action, Reason: err.Error()}
	}

	out, err := tool.Run(ctx, args)
	if err != nil {
		var transport *TransportError
		if errors.As(err, &transport) {
			return "", err
		}
		return "", &ToolInvocationError{Tool: action, Reason: err.Error()}
	}
	return out, nil
}

// buildPrompt renders the tool catalog, protocol instructions and transcript.
func (l *ReactLoop) buildPrompt(query string, steps []LoopStep) string {
	var b strings.Builder
	b.WriteString("You are an agent that decides whether a user question is complex and, if so, decomposes it into sub-questions.\n\n")
	b.WriteString("Available tools:\n")
	for _, name := range l.sortedToolNames() {
		b.WriteString(fmt.Sprintf("- %s: %s\n", name, l.tools[name].Description()))
	}
	b.WriteString(fmt.Sprintf(`
Use this exact format:
Thought: your reasoning about what to do next
Action: the tool name
Action Input: the tool arguments as a JSON object, e.g. {"query": "..."}

After a tool runs you will see its result as an Observation. When you have
enough information, stop calling tools and answer with:
%s {"is_complex": true|false, "sub_problems": [...], "complexity_analysis": {"reason": string, "indicators": [string]}}

Question: %s
`, l.config.FinalAnswerMarker, query))

	for _, step := range steps {
		if step.Thought != "" {
			b.WriteString("\nThought: " + step.Thought)
		}
		if step.Action != "" {
			b.WriteString("\nAction: " + step.Action)
			b.WriteString("\nAction Input: " + step.ActionInput)
		}
		if step.Observation != "" {
			b.WriteString("\nObservation: " + step.Observation)
		}
	}
	b.WriteString("\nThought:")
	return b.String()
}

func (l *ReactLoop) sortedToolNames() []string {
	names := make([]string, 0, len(l.tools))
	for name := range l.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseAction extracts the Action / Action Input pair from a model turn.
func parseAction(out string) (string, string, error) {
	action := lineAfter(out, "Action:")
	if action == "" {
		return "", "", &ToolInvocationError{Reason: "no Action or final answer in model output"}
	}
	input := lineAfter(out, "Action Input:")
	if input == "" {
		return "", "", &ToolInvocationError{Tool: action, Reason: "missing Action Input"}
	}
	return action, input, nil
}

// lineAfter returns the trimmed remainder of the first line starting with prefix.
func lineAfter(text, prefix string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

// thoughtOf extracts the model's thought text for the transcript.
func thoughtOf(out string) string {
	if t := lineAfter(out, "Thought:"); t != "" {
		return t
	}
	return strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
}

// observationFor renders a loop-internal error as a model-facing observation.
func observationFor(err error) string {
	return "Error: " + err.Error()
}
