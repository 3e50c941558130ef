package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/gaialab/gaia/llm"
	"github.com/gaialab/gaia/session"
	"github.com/gaialab/gaia/tools"
)

// testTool records its invocations and replays a scripted handler.
type testTool struct {
	name   string
	params []tools.ParamSpec
	fn     func(args map[string]any) (string, error)
	calls  []map[string]any
}

func (t *testTool) Name() string                  { return t.name }
func (t *testTool) Description() string           { return "test tool " + t.name }
func (t *testTool) Parameters() []tools.ParamSpec { return t.params }

func (t *testTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	t.calls = append(t.calls, args)
	if t.fn != nil {
		return t.fn(args)
	}
	return "ok", nil
}

// failingClient simulates an unreachable backend.
type failingClient struct{ err error }

func (f *failingClient) Send(ctx context.Context, entries []session.Entry, systemPrompt string) (string, error) {
	return "", f.err
}

func (f *failingClient) SendStream(ctx context.Context, entries []session.Entry, systemPrompt string, onChunk func(llm.Chunk) error) (string, error) {
	return "", f.err
}

func newTestAgent(t *testing.T, client llm.Client, opts Options, testTools ...tools.Tool) *Agent {
	t.Helper()
	t.Chdir(t.TempDir())
	sess, err := session.New("test")
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	reg := tools.NewRegistry()
	for _, tool := range testTools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	a, err := New(client, reg, sess, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func hasSystemEntry(entries []session.Entry, substr string) bool {
	for _, e := range entries {
		if e.Role == session.RoleSystem && strings.Contains(e.Content, substr) {
			return true
		}
	}
	return false
}

func TestNewValidatesDependencies(t *testing.T) {
	reg := tools.NewRegistry()
	sess := &session.Session{}
	if _, err := New(nil, reg, sess, Options{}); err == nil {
		t.Error("nil client must be rejected")
	}
	if _, err := New(&llm.MockClient{}, nil, sess, Options{}); err == nil {
		t.Error("nil registry must be rejected")
	}
	if _, err := New(&llm.MockClient{}, reg, nil, Options{}); err == nil {
		t.Error("nil session must be rejected")
	}
}

func TestDirectAnswer(t *testing.T) {
	client := &llm.MockClient{Responses: []string{
		"```json\n{\"thought\":\"easy\",\"answer\":\"42\"}\n```",
	}}
	a := newTestAgent(t, client, Options{})

	res, err := a.Query(context.Background(), "what is six times seven?", Callbacks{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %v", res.Status)
	}
	if res.Answer != "42" {
		t.Errorf("expected 42, got %q", res.Answer)
	}
	if res.Steps != 1 {
		t.Errorf("expected 1 step, got %d", res.Steps)
	}
	if len(res.Entries) == 0 || res.Entries[0].Role != session.RoleUser {
		t.Errorf("audit trail should start with the user entry: %+v", res.Entries)
	}
}

func TestPlanExecutionThenSynthesis(t *testing.T) {
	echo := &testTool{name: "echo", fn: func(args map[string]any) (string, error) {
		return args["text"].(string), nil
	}}
	client := &llm.MockClient{Responses: []string{
		`{"thought":"two steps","plan":[{"tool":"echo","tool_args":{"text":"a"}},{"tool":"echo","tool_args":{"text":"b"}}]}`,
		`{"answer":"both echoed"}`,
	}}
	a := newTestAgent(t, client, Options{}, echo)

	var toolCalls []string
	var thoughts []string
	res, err := a.Query(context.Background(), "echo twice", Callbacks{
		OnToolCall:         func(name string, args map[string]any) { toolCalls = append(toolCalls, name) },
		OnAssistantMessage: func(msg string) { thoughts = append(thoughts, msg) },
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Status != StatusCompleted || res.Answer != "both echoed" {
		t.Fatalf("unexpected outcome: %v %q", res.Status, res.Answer)
	}
	if len(echo.calls) != 2 {
		t.Errorf("expected 2 tool executions, got %d", len(echo.calls))
	}
	if res.Steps != 2 {
		t.Errorf("plan steps are not LLM turns; expected 2 steps, got %d", res.Steps)
	}
	if len(toolCalls) != 2 {
		t.Errorf("OnToolCall should fire per execution: %v", toolCalls)
	}
	if len(thoughts) == 0 || thoughts[0] != "two steps" {
		t.Errorf("OnAssistantMessage should relay the thought: %v", thoughts)
	}

	toolEntries := 0
	for _, e := range res.Entries {
		if e.Role == session.RoleTool {
			toolEntries++
			if e.Meta["tool"] != "echo" {
				t.Errorf("tool entry missing metadata: %+v", e.Meta)
			}
		}
	}
	if toolEntries != 2 {
		t.Errorf("expected 2 tool entries in the audit trail, got %d", toolEntries)
	}
}

func TestToolFailureTriggersRecovery(t *testing.T) {
	boom := &testTool{name: "boom", fn: func(args map[string]any) (string, error) {
		return "", fmt.Errorf("device unavailable")
	}}
	echo := &testTool{name: "echo"}
	client := &llm.MockClient{Responses: []string{
		`{"plan":[{"tool":"boom","tool_args":{}},{"tool":"echo","tool_args":{"text":"never"}}]}`,
		`{"answer":"gave up"}`,
	}}
	a := newTestAgent(t, client, Options{}, boom, echo)

	res, err := a.Query(context.Background(), "try it", Callbacks{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Status != StatusCompleted || res.Answer != "gave up" {
		t.Fatalf("unexpected outcome: %v %q", res.Status, res.Answer)
	}
	if len(boom.calls) != 1 {
		t.Errorf("failing tool should run once, got %d", len(boom.calls))
	}
	if len(echo.calls) != 0 {
		t.Errorf("remaining plan steps must be discarded after a failure, echo ran %d times", len(echo.calls))
	}
	if !hasSystemEntry(res.Entries, `Tool "boom" failed`) {
		t.Error("recovery prompt missing from the conversation")
	}
	if !hasSystemEntry(res.Entries, "device unavailable") {
		t.Error("recovery prompt should carry the tool error")
	}
}

func TestRepeatedIdenticalCallsStop(t *testing.T) {
	spin := &testTool{name: "spin", fn: func(args map[string]any) (string, error) {
		return "same output", nil
	}}
	step := `{"tool":"spin","tool_args":{"n":1}}`
	client := &llm.MockClient{Responses: []string{
		`{"plan":[` + step + `,` + step + `,` + step + `]}`,
	}}
	a := newTestAgent(t, client, Options{}, spin)

	var warnings []string
	res, err := a.Query(context.Background(), "spin forever", Callbacks{
		OnWarning: func(w string) { warnings = append(warnings, w) },
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("the loop guard must complete the query, got %v", res.Status)
	}
	if len(spin.calls) != 2 {
		t.Errorf("third identical call must not execute, got %d executions", len(spin.calls))
	}
	if !strings.Contains(res.Answer, "repeated identical calls") {
		t.Errorf("expected the synthesized stop answer, got %q", res.Answer)
	}
	if !strings.Contains(res.Answer, "same output") {
		t.Errorf("stop answer should carry the last result, got %q", res.Answer)
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "identical arguments") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a loop warning, got %v", warnings)
	}
}

func TestDifferentArgumentsDoNotTripGuard(t *testing.T) {
	count := &testTool{name: "count", fn: func(args map[string]any) (string, error) {
		return fmt.Sprintf("%v", args["n"]), nil
	}}
	client := &llm.MockClient{Responses: []string{
		`{"plan":[{"tool":"count","tool_args":{"n":1}},{"tool":"count","tool_args":{"n":2}},{"tool":"count","tool_args":{"n":3}}]}`,
		`{"answer":"counted"}`,
	}}
	a := newTestAgent(t, client, Options{}, count)

	res, err := a.Query(context.Background(), "count", Callbacks{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(count.calls) != 3 {
		t.Errorf("distinct calls must all run, got %d", len(count.calls))
	}
	if res.Answer != "counted" {
		t.Errorf("unexpected answer %q", res.Answer)
	}
}

func TestStepLimit(t *testing.T) {
	client := &llm.MockClient{Responses: []string{
		`{"thought":"still thinking"}`,
		`{"thought":"still thinking"}`,
		`{"thought":"still thinking"}`,
	}}
	a := newTestAgent(t, client, Options{MaxSteps: 3})

	var warnings []string
	res, err := a.Query(context.Background(), "hard question", Callbacks{
		OnWarning: func(w string) { warnings = append(warnings, w) },
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Status != StatusIncomplete {
		t.Fatalf("expected incomplete at the step limit, got %v", res.Status)
	}
	if res.Steps != 3 {
		t.Errorf("expected 3 consumed steps, got %d", res.Steps)
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "step limit") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a step-limit warning, got %v", warnings)
	}
}

func TestInvalidDecisionReprompted(t *testing.T) {
	client := &llm.MockClient{Responses: []string{
		`{"tool":"echo"}`, // tool without tool_args
		`{"answer":"fixed"}`,
	}}
	a := newTestAgent(t, client, Options{}, &testTool{name: "echo"})

	res, err := a.Query(context.Background(), "go", Callbacks{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Answer != "fixed" {
		t.Errorf("expected the re-prompted answer, got %q", res.Answer)
	}
	if !hasSystemEntry(res.Entries, "Your response was invalid") {
		t.Error("validation failures must be re-prompted via a system entry")
	}
}

func TestDirectExecutionAllowList(t *testing.T) {
	lookup := &testTool{name: "lookup", fn: func(args map[string]any) (string, error) {
		return "found it", nil
	}}
	client := &llm.MockClient{Responses: []string{
		`{"tool":"lookup","tool_args":{"q":"x"}}`,
		`{"answer":"done"}`,
	}}
	a := newTestAgent(t, client, Options{DirectTools: []string{"lookup"}}, lookup)

	res, err := a.Query(context.Background(), "look up x", Callbacks{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Status != StatusCompleted || res.Answer != "done" {
		t.Fatalf("unexpected outcome: %v %q", res.Status, res.Answer)
	}
	if len(lookup.calls) != 1 {
		t.Errorf("allow-listed tool should run directly, got %d executions", len(lookup.calls))
	}
	if hasSystemEntry(res.Entries, "without a plan") {
		t.Error("allow-listed first-turn calls must not be asked for a plan")
	}
}

func TestBareToolCallAskedForPlan(t *testing.T) {
	lookup := &testTool{name: "lookup"}
	client := &llm.MockClient{Responses: []string{
		`{"tool":"lookup","tool_args":{"q":"x"}}`,
		`{"tool":"lookup","tool_args":{"q":"x"}}`, // insists; accepted as a one-step plan
		`{"answer":"done"}`,
	}}
	a := newTestAgent(t, client, Options{}, lookup)

	res, err := a.Query(context.Background(), "look up x", Callbacks{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Answer != "done" {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if !hasSystemEntry(res.Entries, "without a plan") {
		t.Error("the first bare call should be asked to plan")
	}
	if len(lookup.calls) != 1 {
		t.Errorf("the repeated request should execute once, got %d", len(lookup.calls))
	}
}

func TestEmbeddedCallRunsBeforePlan(t *testing.T) {
	var order []string
	mk := func(name string) *testTool {
		return &testTool{name: name, fn: func(args map[string]any) (string, error) {
			order = append(order, name)
			return name, nil
		}}
	}
	first, second := mk("first"), mk("second")
	client := &llm.MockClient{Responses: []string{
		`{"tool":"first","tool_args":{},"plan":[{"tool":"second","tool_args":{}}]}`,
		`{"answer":"ordered"}`,
	}}
	a := newTestAgent(t, client, Options{}, first, second)

	res, err := a.Query(context.Background(), "go", Callbacks{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Answer != "ordered" {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("embedded call must run before the plan: %v", order)
	}
}

func TestBackendFailureEndsQuery(t *testing.T) {
	cause := &llm.ConnectionError{Backend: "test", Err: fmt.Errorf("connection refused")}
	a := newTestAgent(t, &failingClient{err: cause}, Options{})

	res, err := a.Query(context.Background(), "anything", Callbacks{})
	if err != nil {
		t.Fatalf("backend failures are results, not errors: %v", err)
	}
	if res.Status != StatusLLMError {
		t.Fatalf("expected llm_error, got %v", res.Status)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "connection refused") {
		t.Errorf("the cause must travel in Result.Err: %v", res.Err)
	}
}

func TestUnparseableOutputBecomesAnswer(t *testing.T) {
	prose := "I cannot produce JSON right now, but the answer is Paris."
	client := &llm.MockClient{Responses: []string{prose}}
	a := newTestAgent(t, client, Options{})

	res, err := a.Query(context.Background(), "capital of France?", Callbacks{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Status != StatusCompleted || res.Answer != prose {
		t.Errorf("raw text should be surfaced as the answer: %v %q", res.Status, res.Answer)
	}
}

func TestSynthesisFallsBackToLastOutput(t *testing.T) {
	echo := &testTool{name: "echo", fn: func(args map[string]any) (string, error) {
		return "payload", nil
	}}
	client := &llm.MockClient{Responses: []string{
		`{"plan":[{"tool":"echo","tool_args":{}}]}`,
		`{"plan":[{"tool":"echo","tool_args":{}}]}`, // synthesis turn yields no answer
	}}
	a := newTestAgent(t, client, Options{}, echo)

	res, err := a.Query(context.Background(), "go", Callbacks{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Answer != "payload" {
		t.Errorf("expected the last tool output as the answer, got %q", res.Answer)
	}
}

func TestQueryHonorsContextCancellation(t *testing.T) {
	a := newTestAgent(t, &llm.MockClient{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Query(ctx, "anything", Callbacks{}); err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}
}
