package llm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rahul/toolflow/internal/observability"
	"github.com/rahul/toolflow/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type scriptedModel struct {
	replies []*llms.ContentChoice
	seen    [][]llms.MessageContent
	options []llms.CallOptions
}

func (s *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	s.seen = append(s.seen, append([]llms.MessageContent(nil), messages...))
	var co llms.CallOptions
	for _, opt := range opts {
		opt(&co)
	}
	s.options = append(s.options, co)
	if len(s.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{next}}, nil
}

func (s *scriptedModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, opts...)
}

type recordingExecutor struct {
	calls []string
	users []string
	out   any
	err   error
}

func (r *recordingExecutor) Execute(_ context.Context, userID, tool, _ string) (any, error) {
	r.calls = append(r.calls, tool)
	r.users = append(r.users, userID)
	return r.out, r.err
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{ID: id, Type: "function", FunctionCall: &llms.FunctionCall{Name: name, Arguments: args}}
}

func linearTools() tools.Set {
	set := tools.NewSet()
	set.Add(tools.Definition{Name: "LINEAR_CREATE_LINEAR_ISSUE", Description: "create an issue"})
	return set
}

func TestGenerateWithTools_ReturnsToolCallResult(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentChoice{
		{ToolCalls: []llms.ToolCall{toolCall("c1", "LINEAR_CREATE_LINEAR_ISSUE", `{"title":"bug"}`)}},
		{Content: "Created issue ENG-1"},
	}}
	exec := &recordingExecutor{out: map[string]any{"successful": true, "data": map[string]any{"id": "ENG-1"}}}
	m := NewModel(model, exec, nil)

	resp, err := m.GenerateWithTools(context.Background(), ToolRequest{
		Prompt: "file a bug",
		UserID: "user-1",
		Tools:  linearTools(),
	})
	require.NoError(t, err)

	res, ok := resp.(ToolCallResult)
	require.True(t, ok)
	assert.Equal(t, "Created issue ENG-1", res.Text)
	require.Len(t, res.Calls, 1)
	assert.Equal(t, "LINEAR_CREATE_LINEAR_ISSUE", res.Calls[0].ToolName)
	require.Len(t, res.Results, 1)
	assert.True(t, IsSuccessful(res.Results[0].Result))
	assert.Equal(t, []string{"user-1"}, exec.users)

	// The second turn sees the assistant call and the tool response.
	require.Len(t, model.seen, 2)
	assert.Len(t, model.seen[1], 3)
	assert.Equal(t, llms.ChatMessageTypeTool, model.seen[1][2].Role)
}

func TestGenerateWithTools_TextOnlyWhenNoCalls(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentChoice{{Content: "nothing to do"}}}
	m := NewModel(model, &recordingExecutor{}, nil)

	resp, err := m.GenerateWithTools(context.Background(), ToolRequest{Prompt: "hi", Tools: linearTools()})
	require.NoError(t, err)
	assert.Equal(t, TextOnly{Text: "nothing to do"}, resp)
}

func TestGenerateWithTools_UnknownToolAndExecutorError(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentChoice{
		{ToolCalls: []llms.ToolCall{
			toolCall("c1", "NOT_OFFERED", `{}`),
			toolCall("c2", "LINEAR_CREATE_LINEAR_ISSUE", `{}`),
		}},
		{Content: ""},
	}}
	exec := &recordingExecutor{err: errors.New("rate limited")}
	m := NewModel(model, exec, nil)

	resp, err := m.GenerateWithTools(context.Background(), ToolRequest{Prompt: "go", Tools: linearTools()})
	require.NoError(t, err)

	res := resp.(ToolCallResult)
	require.Len(t, res.Results, 2)
	assert.False(t, IsSuccessful(res.Results[0].Result))
	assert.Equal(t, "rate limited", res.Results[1].Result.(map[string]any)["error"])
	assert.Equal(t, []string{"LINEAR_CREATE_LINEAR_ISSUE"}, exec.calls)
	assert.Contains(t, ResultText(res), "tool NOT_OFFERED not found")
}

func TestGenerateWithTools_StopsAtMaxSteps(t *testing.T) {
	var replies []*llms.ContentChoice
	for i := 0; i < 5; i++ {
		replies = append(replies, &llms.ContentChoice{ToolCalls: []llms.ToolCall{toolCall("c", "LINEAR_CREATE_LINEAR_ISSUE", `{}`)}})
	}
	model := &scriptedModel{replies: replies}
	exec := &recordingExecutor{out: map[string]any{"successful": true}}
	m := NewModel(model, exec, nil)
	m.MaxSteps = 3

	resp, err := m.GenerateWithTools(context.Background(), ToolRequest{Prompt: "loop", Tools: linearTools()})
	require.NoError(t, err)
	assert.Len(t, resp.(ToolCallResult).Calls, 3)
	assert.Len(t, model.replies, 2)
}

func TestGenerateObject_DecodesFencedJSON(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentChoice{{Content: "```json\n{\"hasDependencies\":true,\"useCase\":\"find channel\"}\n```"}}}
	m := NewModel(model, nil, nil)

	var out struct {
		HasDependencies bool   `json:"hasDependencies"`
		UseCase         string `json:"useCase"`
	}
	err := m.GenerateObject(context.Background(), "analyze", &out, WithSchema(map[string]any{"type": "object"}))
	require.NoError(t, err)
	assert.True(t, out.HasDependencies)
	assert.Equal(t, "find channel", out.UseCase)

	prompt := model.seen[0][0].Parts[0].(llms.TextContent).Text
	assert.Contains(t, prompt, "matching this schema")
}

func TestGenerate_PropagatesError(t *testing.T) {
	m := NewModel(&scriptedModel{}, nil, nil)
	_, err := m.Generate(context.Background(), "hello")
	assert.Error(t, err)
}

func TestResultText_FallsBackToFirstResult(t *testing.T) {
	r := ToolCallResult{Results: []ToolResult{{Result: "plain"}}}
	assert.Equal(t, "plain", ResultText(r))
	assert.Equal(t, "", ResultText(ToolCallResult{}))
}

func TestDecodeObject_SurroundingProse(t *testing.T) {
	var out map[string]any
	require.NoError(t, DecodeObject(`Sure! {"a":1} hope that helps`, &out))
	assert.Equal(t, float64(1), out["a"])
	assert.Error(t, DecodeObject("no json here", &out))
}

func TestGenerateWithTools_ZeroTemperatureIsSent(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentChoice{{Content: "done"}}}
	m := NewModel(model, nil, nil)

	_, err := m.GenerateWithTools(context.Background(), ToolRequest{Prompt: "p", Tools: linearTools()})
	require.NoError(t, err)

	require.Len(t, model.options, 1)
	assert.Zero(t, model.options[0].Temperature)
	assert.Equal(t, "auto", model.options[0].ToolChoice)
}

func TestGenerate_DefaultAndExplicitTemperature(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentChoice{{Content: "a"}, {Content: "b"}}}
	m := NewModel(model, nil, nil)

	_, err := m.Generate(context.Background(), "p")
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), "p", WithTemperature(0))
	require.NoError(t, err)

	require.Len(t, model.options, 2)
	assert.Equal(t, 0.7, model.options[0].Temperature)
	assert.Zero(t, model.options[1].Temperature)
}

func TestGenerateWithTools_EventsCarryTask(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentChoice{
		{ToolCalls: []llms.ToolCall{toolCall("c1", "LINEAR_CREATE_LINEAR_ISSUE", `{}`)}},
		{Content: "ok"},
		{Content: "narrated"},
	}}
	var logs bytes.Buffer
	m := NewModel(model, &recordingExecutor{out: map[string]any{"successful": true}}, observability.NewLoggerTo(&logs, ""))

	_, err := m.GenerateWithTools(context.Background(), ToolRequest{
		Prompt: "file it",
		UserID: "default",
		ChatID: "42",
		TaskID: "task-9",
		Tools:  linearTools(),
	})
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), "narrate", WithTask("42", "task-9"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 5)
	for _, line := range lines {
		assert.Contains(t, line, `"chat_id":"42"`)
		assert.Contains(t, line, `"task_id":"task-9"`)
	}
	assert.Contains(t, lines[1], `"type":"tool_call"`)
	assert.Contains(t, lines[2], `"type":"tool_result"`)
}
