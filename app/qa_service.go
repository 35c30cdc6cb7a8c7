package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"deanalyse/adapters/llm"
	"deanalyse/ai"
	"deanalyse/domain/session"
	"deanalyse/internal/metrics"
	"deanalyse/models"
	"deanalyse/ports"

	"go.uber.org/zap"
)

// NoDataMessage is returned, without any model call, when nothing has been uploaded
const NoDataMessage = "I don't have any data loaded yet. Please upload a file first so I can analyze it."

// QAState is a step of the question answering protocol
type QAState string

const (
	StateNoContext     QAState = "no_context"
	StateAwaitingPlan  QAState = "awaiting_plan"
	StateDirectAnswer  QAState = "direct_answer"
	StateCodeGenerated QAState = "code_generated"
	StateExecuted      QAState = "executed"
	StateSynthesized   QAState = "synthesized"
	StateDone          QAState = "done"
	StateErrorFallback QAState = "error_fallback"
)

const (
	executionAvailableNote   = "Code execution is available: the code you return will be run against every row of the dataset."
	executionUnavailableNote = "Code execution is unavailable for this dataset. Answer from the summary alone and do not return code."
	noRowsExecutionError     = "code execution is unavailable: the dataset rows were not retained"
	emptyField               = "(none)"
)

// fencedCode matches the first ```go, ```golang or bare ``` block
var fencedCode = regexp.MustCompile("(?s)```(?:go|golang)?[ \t]*\r?\n(.*?)```")

// Answer is the outcome of one question. Trace lists every state visited.
type Answer struct {
	Text     string                 `json:"response"`
	State    QAState                `json:"state"`
	Trace    []QAState              `json:"trace"`
	Code     string                 `json:"code,omitempty"`
	Executed *ports.ExecutionResult `json:"execution,omitempty"`
}

func (a *Answer) enter(state QAState) {
	a.State = state
	a.Trace = append(a.Trace, state)
}

// outcome is the terminal label used for metrics and logs
func (a *Answer) outcome() QAState {
	for i := len(a.Trace) - 1; i >= 0; i-- {
		if a.Trace[i] != StateDone {
			return a.Trace[i]
		}
	}
	return a.State
}

// QAService answers questions about an uploaded dataset. The model first sees
// only the schema and may either answer or return code; code runs in the
// sandbox and its output is handed back to the model for the final answer.
type QAService struct {
	llm      ports.LLMClient
	prompts  *ai.PromptManager
	executor ports.CodeExecutor
	usage    ports.UsageRecorder
	metrics  metrics.Backend
	logger   *zap.Logger

	PlanningMaxTokens int
	AnswerMaxTokens   int
	PlanningTemp      float64
	AnswerTemp        float64
}

// NewQAService creates the orchestrator. executor may be nil, in which case
// every question is answered from the schema alone.
func NewQAService(client ports.LLMClient, prompts *ai.PromptManager, executor ports.CodeExecutor, usage ports.UsageRecorder, m metrics.Backend, logger *zap.Logger) *QAService {
	if usage == nil {
		usage = ports.NopUsageRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QAService{
		llm:               client,
		prompts:           prompts,
		executor:          executor,
		usage:             usage,
		metrics:           metrics.OrNop(m),
		logger:            logger.Named("qa"),
		PlanningMaxTokens: 1000,
		AnswerMaxTokens:   500,
		PlanningTemp:      0.2,
		AnswerTemp:        0.7,
	}
}

// Ask answers query against entry. Model and sandbox failures never surface
// as errors; they end in a fallback answer. An error is returned only when ctx
// is done.
func (s *QAService) Ask(ctx context.Context, entry *session.Entry, query string) (*Answer, error) {
	answer := &Answer{}
	defer func() {
		s.metrics.IncCounter(metrics.QueryTotal, 1, metrics.Labels{"state": string(answer.outcome())})
	}()

	if entry == nil || entry.Profile == nil {
		answer.enter(StateNoContext)
		answer.Text = NoDataMessage
		answer.enter(StateDone)
		return answer, nil
	}

	query = ai.SanitizeUserText(query)
	schema := ai.SchemaText(entry.Profile)
	canExecute := entry.HasRows() && s.executor != nil

	if s.llm == nil {
		answer.enter(StateErrorFallback)
		answer.Text = llm.MsgMisconfigured
		answer.enter(StateDone)
		return answer, nil
	}

	answer.enter(StateAwaitingPlan)
	note := executionUnavailableNote
	if canExecute {
		note = executionAvailableNote
	}
	plan, err := s.complete(ctx, entry.ID, models.OpQAPlanning,
		ai.PromptPlanningSystem, map[string]string{"EXECUTION_NOTE": note},
		ai.PromptPlanningUser, map[string]string{"SCHEMA": schema, "QUERY": query},
		s.PlanningMaxTokens, s.PlanningTemp)
	if err != nil {
		return s.fallback(ctx, answer, entry, schema, query, err)
	}

	code, ok := extractCode(plan)
	if !ok {
		answer.enter(StateDirectAnswer)
		answer.Text = strings.TrimSpace(plan)
		answer.enter(StateDone)
		s.logger.Debug("answered from schema", zap.String("session_id", entry.ID))
		return answer, nil
	}

	answer.enter(StateCodeGenerated)
	answer.Code = code

	result, err := s.execute(ctx, entry, code, canExecute)
	if err != nil {
		return nil, err
	}
	answer.Executed = result
	answer.enter(StateExecuted)
	if result.Failed() {
		s.logger.Info("generated code failed",
			zap.String("session_id", entry.ID),
			zap.String("error", result.Error))
	}

	text, err := s.complete(ctx, entry.ID, models.OpQASynthesis,
		ai.PromptSynthesisSystem, nil,
		ai.PromptSynthesisUser, map[string]string{
			"SCHEMA": schema,
			"QUERY":  query,
			"CODE":   code,
			"RESULT": orNone(ai.SanitizeContextText(result.Result)),
			"STDOUT": orNone(ai.SanitizeContextText(result.Stdout)),
			"ERROR":  orNone(result.Error),
		},
		s.AnswerMaxTokens, s.AnswerTemp)
	if err != nil {
		return s.fallback(ctx, answer, entry, schema, query, err)
	}

	answer.enter(StateSynthesized)
	answer.Text = strings.TrimSpace(text)
	answer.enter(StateDone)
	return answer, nil
}

// execute runs code in the sandbox. A run that cannot happen is reported as
// an execution error so the model can explain it.
func (s *QAService) execute(ctx context.Context, entry *session.Entry, code string, canExecute bool) (*ports.ExecutionResult, error) {
	if !canExecute {
		return &ports.ExecutionResult{Error: noRowsExecutionError}, nil
	}
	result, err := s.executor.Execute(ctx, ports.ExecutionRequest{Code: code, Frame: entry.Frame})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return &ports.ExecutionResult{Error: err.Error()}, nil
	}
	return result, nil
}

// fallback makes one schema-only attempt and, failing that, returns the fixed
// message for the class of the last error.
func (s *QAService) fallback(ctx context.Context, answer *Answer, entry *session.Entry, schema, query string, cause error) (*Answer, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	answer.enter(StateErrorFallback)
	s.logger.Warn("model call failed, retrying with schema only",
		zap.String("session_id", entry.ID),
		zap.Stringer("class", llm.Classify(cause)),
		zap.Error(cause))

	text, err := s.complete(ctx, entry.ID, models.OpQAFallback,
		ai.PromptDirectSystem, nil,
		ai.PromptDirectUser, map[string]string{"SCHEMA": schema, "QUERY": query},
		s.AnswerMaxTokens, s.AnswerTemp)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Error("fallback call failed",
			zap.String("session_id", entry.ID),
			zap.Stringer("class", llm.Classify(err)),
			zap.Error(err))
		answer.Text = llm.SafeMessage(err)
	} else {
		answer.Text = strings.TrimSpace(text)
	}
	answer.enter(StateDone)
	return answer, nil
}

// complete renders both templates, calls the model and records usage
func (s *QAService) complete(ctx context.Context, sessionID, operation, systemName string, systemVars map[string]string, userName string, userVars map[string]string, maxTokens int, temperature float64) (string, error) {
	system, err := s.prompts.RenderPrompt(systemName, systemVars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", systemName, err)
	}
	prompt, err := s.prompts.RenderPrompt(userName, userVars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", userName, err)
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, ports.LLMRequest{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	var usage *ports.UsageData
	if resp != nil {
		usage = resp.Usage
	}
	s.usage.RecordCall(ctx, sessionID, operation, usage, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// extractCode returns the body of the first Go or unlabelled fenced block
func extractCode(content string) (string, bool) {
	m := fencedCode.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	code := strings.TrimSpace(m[1])
	return code, code != ""
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyField
	}
	return s
}
