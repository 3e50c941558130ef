// Package agent drives one query at a time through the planning/execution
// state machine: ask the model for a decision, run tools, recover from
// failures, stop with an answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gaialab/gaia/errors"
	"github.com/gaialab/gaia/llm"
	"github.com/gaialab/gaia/logging"
	"github.com/gaialab/gaia/parser"
	"github.com/gaialab/gaia/session"
	"github.com/gaialab/gaia/tools"
	"github.com/rs/zerolog"
)

// DefaultMaxSteps bounds LLM turns per query when the caller sets none.
const DefaultMaxSteps = 10

// Callbacks let an interaction mode (terminal, server) observe the loop.
// Any field may be nil.
type Callbacks struct {
	OnAssistantMessage func(message string)
	OnToolCall         func(name string, args map[string]any)
	OnToolResult       func(name string, result string, err error)
	OnStreamChunk      func(chunk llm.Chunk)
	OnWarning          func(warning string)
}

// Options configures an Agent.
type Options struct {
	// SystemPrompt is prepended to the standing instructions. Empty uses
	// the default role line.
	SystemPrompt string
	// MaxSteps bounds LLM turns per query.
	MaxSteps int
	// DirectTools may run on the first turn without a plan.
	DirectTools []string
}

// Result is the outcome of one query.
type Result struct {
	Answer string
	Status Status
	// Err carries the backend failure when Status is StatusLLMError.
	Err error
	// Steps is the number of LLM turns consumed.
	Steps int
	// Entries is the query's audit trail.
	Entries []session.Entry
}

// Agent executes queries. One query occupies the loop exclusively from
// start to completion; an Agent is not safe for concurrent queries.
type Agent struct {
	client   llm.Client
	registry *tools.Registry
	sess     *session.Session
	opts     Options
	log      zerolog.Logger
}

// New builds an agent over an inference backend, a tool registry and a
// session. Registration into the registry happens before this call, at
// composition time.
func New(client llm.Client, registry *tools.Registry, sess *session.Session, opts Options) (*Agent, error) {
	if client == nil {
		return nil, errors.New("agent requires an LLM client")
	}
	if registry == nil {
		return nil, errors.New("agent requires a tool registry")
	}
	if sess == nil {
		return nil, errors.New("agent requires a session")
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	return &Agent{
		client:   client,
		registry: registry,
		sess:     sess,
		opts:     opts,
		log:      logging.Component("agent"),
	}, nil
}

// Session exposes the conversation log.
func (a *Agent) Session() *session.Session { return a.sess }

// query carries the mutable per-query state.
type query struct {
	cb       Callbacks
	system   string
	steps    int
	state    State
	plan     []parser.PlanStep
	cursor   int
	pending  *parser.PlanStep // direct-execution step
	answer   string
	outputs  []string // stored (truncated) tool outputs, for recovery recaps
	lastSig  string
	runLen   int
	askedFor string // tool we already demanded a plan for
	start    int    // session entry index at query start
}

// Query runs one user request to completion, step limit, or backend
// failure. Tool failures never abort the query; they feed error recovery.
// A backend failure ends the query with StatusLLMError and the cause in
// Result.Err; the returned error is reserved for caller mistakes and
// context cancellation.
func (a *Agent) Query(ctx context.Context, input string, cb Callbacks) (*Result, error) {
	catalog, err := a.registry.DescriptorJSON()
	if err != nil {
		return nil, err
	}

	q := &query{
		cb:     cb,
		system: systemPrompt(a.opts.SystemPrompt, catalog),
		state:  StatePlanning,
		start:  len(a.sess.Entries),
	}
	a.sess.AppendText(session.RoleUser, input)

	for q.state != StateCompletion {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var res *Result
		var err error
		switch q.state {
		case StatePlanning:
			res, err = a.planningTurn(ctx, q)
		case StateDirectExecution:
			a.directTurn(ctx, q)
		case StateExecutingPlan:
			a.planStepTurn(ctx, q)
		case StateErrorRecovery:
			// handled inline by the execution turns
			q.state = StatePlanning
		}
		if err != nil || res != nil {
			return res, err
		}
	}

	if q.answer == "" {
		if res, err := a.synthesize(ctx, q); err != nil || res != nil {
			return res, err
		}
	}

	return a.finish(q, StatusCompleted), nil
}

func (a *Agent) finish(q *query, status Status) *Result {
	entries := make([]session.Entry, len(a.sess.Entries)-q.start)
	copy(entries, a.sess.Entries[q.start:])
	a.sess.Append(session.Entry{
		Role:    session.RoleSystem,
		Content: fmt.Sprintf("query %s after %d steps", status, q.steps),
		Meta:    map[string]any{"steps": q.steps, "status": status.String()},
	})
	a.log.Info().Str("status", status.String()).Int("steps", q.steps).Msg("query finished")
	return &Result{Answer: q.answer, Status: status, Steps: q.steps, Entries: entries}
}

// requestDecision performs one LLM turn, streaming when an observer is
// attached, and appends the raw reply to the conversation.
func (a *Agent) requestDecision(ctx context.Context, q *query) (string, error) {
	var text string
	var err error
	if q.cb.OnStreamChunk != nil {
		text, err = a.client.SendStream(ctx, a.sess.Entries, q.system, func(c llm.Chunk) error {
			q.cb.OnStreamChunk(c)
			return nil
		})
	} else {
		text, err = a.client.Send(ctx, a.sess.Entries, q.system)
	}
	if err != nil {
		return "", err
	}
	a.sess.AppendText(session.RoleAssistant, text)
	return text, nil
}

// planningTurn requests and routes one decision. It returns a non-nil
// Result (or error) only when the query must end here.
func (a *Agent) planningTurn(ctx context.Context, q *query) (*Result, error) {
	if q.steps >= a.opts.MaxSteps {
		a.warn(q, fmt.Sprintf("step limit of %d reached without an answer", a.opts.MaxSteps))
		return a.finish(q, StatusIncomplete), nil
	}
	q.steps++

	text, err := a.requestDecision(ctx, q)
	if err != nil {
		a.log.Error().Err(err).Msg("inference backend unreachable")
		res := a.finish(q, StatusLLMError)
		res.Err = err
		return res, nil
	}

	decision, perr := parser.Parse(text)
	if perr != nil {
		if vErr, ok := perr.(*parser.ValidationError); ok {
			// Structurally fine, semantically incomplete: re-prompt.
			a.warn(q, vErr.Error())
			a.sess.AppendText(session.RoleSystem, "Your response was invalid: "+vErr.Error()+" Respond again following the JSON format.")
			return nil, nil
		}
		// ParseError: decision is the raw-text fallback answer.
		a.log.Debug().Msg("model output not parseable, treating as answer")
	}

	if decision.Thought != "" && q.cb.OnAssistantMessage != nil {
		q.cb.OnAssistantMessage(decision.Thought)
	}

	switch decision.Kind {
	case parser.KindAnswer:
		q.answer = decision.Answer
		q.state = StateCompletion

	case parser.KindPlanOnly:
		q.plan = decision.Plan
		q.cursor = 0
		q.state = StateExecutingPlan

	case parser.KindToolCall:
		step := parser.PlanStep{Tool: decision.Tool, Args: decision.Args}
		switch {
		case len(decision.Plan) > 0:
			q.plan = decision.Plan
			if q.plan[0].Tool != decision.Tool {
				// The embedded call runs first, then the plan.
				q.plan = append([]parser.PlanStep{step}, q.plan...)
			}
			q.cursor = 0
			q.state = StateExecutingPlan
		case q.steps == 1 && a.isDirectTool(decision.Tool):
			q.pending = &step
			q.state = StateDirectExecution
		case q.askedFor == decision.Tool:
			// Second bare request for the same tool: accept it as a
			// single-step plan instead of arguing.
			q.plan = []parser.PlanStep{step}
			q.cursor = 0
			q.state = StateExecutingPlan
		default:
			q.askedFor = decision.Tool
			a.sess.AppendText(session.RoleSystem, needsPlanPrompt(decision.Tool))
		}
	}
	return nil, nil
}

func (a *Agent) isDirectTool(name string) bool {
	for _, t := range a.opts.DirectTools {
		if t == name {
			return true
		}
	}
	return false
}

// directTurn executes the allow-listed first-turn tool call, then hands
// control back to planning.
func (a *Agent) directTurn(ctx context.Context, q *query) {
	step := *q.pending
	q.pending = nil
	if a.executeStep(ctx, q, step) {
		q.state = StatePlanning
	}
}

// planStepTurn executes the plan's current step without consulting the
// model.
func (a *Agent) planStepTurn(ctx context.Context, q *query) {
	if q.cursor >= len(q.plan) {
		q.state = StateCompletion
		return
	}
	step := q.plan[q.cursor]
	if a.executeStep(ctx, q, step) {
		q.cursor++
	}
}

// executeStep dispatches one tool call. Returns true on success. On
// failure it moves the machine to error recovery; on a detected loop it
// completes the query with a synthesized answer.
func (a *Agent) executeStep(ctx context.Context, q *query, step parser.PlanStep) bool {
	sig := callSignature(step)
	if sig == q.lastSig && q.runLen >= 2 {
		last := ""
		if len(q.outputs) > 0 {
			last = q.outputs[len(q.outputs)-1]
		}
		a.warn(q, fmt.Sprintf("tool %q requested with identical arguments a third time; terminating", step.Tool))
		q.answer = loopStopAnswer(step.Tool, last)
		q.state = StateCompletion
		return false
	}
	if sig == q.lastSig {
		q.runLen++
	} else {
		q.lastSig = sig
		q.runLen = 1
	}

	if q.cb.OnToolCall != nil {
		q.cb.OnToolCall(step.Tool, step.Args)
	}

	began := time.Now()
	res := a.registry.Execute(ctx, step.Tool, step.Args)
	elapsed := time.Since(began)

	if q.cb.OnToolResult != nil {
		q.cb.OnToolResult(step.Tool, res.Content, res.Err)
	}

	if !res.OK() {
		a.log.Warn().Str("tool", step.Tool).Err(res.Err).Msg("tool failed")
		a.recover(q, step, res.Err)
		return false
	}

	a.sess.Append(session.Entry{
		Role:    session.RoleTool,
		Content: fmt.Sprintf("Tool %s result:\n%s", step.Tool, res.Stored),
		Meta: map[string]any{
			"tool":        step.Tool,
			"duration_ms": elapsed.Milliseconds(),
			"truncated":   len(res.Stored) != len(res.Content),
		},
	})
	q.outputs = append(q.outputs, res.Stored)
	a.log.Debug().Str("tool", step.Tool).Dur("elapsed", elapsed).Msg("tool succeeded")
	return true
}

// recover appends the recovery prompt, discards the plan and re-enters
// planning.
func (a *Agent) recover(q *query, failed parser.PlanStep, err error) {
	a.sess.AppendText(session.RoleSystem, recoveryPrompt(failed, err.Error(), q.plan, q.outputs))
	q.plan = nil
	q.cursor = 0
	q.state = StateErrorRecovery
}

// synthesize requests the final answer after a plan ran out of steps with
// nothing recorded. The raw-text parse fallback guarantees some answer.
func (a *Agent) synthesize(ctx context.Context, q *query) (*Result, error) {
	if q.steps >= a.opts.MaxSteps {
		return a.finish(q, StatusIncomplete), nil
	}
	q.steps++

	a.sess.AppendText(session.RoleSystem, synthesisPrompt)
	text, err := a.requestDecision(ctx, q)
	if err != nil {
		res := a.finish(q, StatusLLMError)
		res.Err = err
		return res, nil
	}

	decision, _ := parser.Parse(text)
	if decision.Kind == parser.KindAnswer && decision.Answer != "" {
		q.answer = decision.Answer
	} else if len(q.outputs) > 0 {
		q.answer = q.outputs[len(q.outputs)-1]
	} else {
		q.answer = text
	}
	return nil, nil
}

func (a *Agent) warn(q *query, msg string) {
	if q.cb.OnWarning != nil {
		q.cb.OnWarning(msg)
	}
	a.log.Warn().Msg(msg)
}

// callSignature serializes a call deterministically (JSON object keys are
// sorted) for the repeated-call guard.
func callSignature(step parser.PlanStep) string {
	args, err := json.Marshal(step.Args)
	if err != nil {
		args = []byte(fmt.Sprintf("%v", step.Args))
	}
	return step.Tool + "(" + string(args) + ")"
}
