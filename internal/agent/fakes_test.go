package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rahul/toolflow/internal/composio"
	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/llm"
	"github.com/rahul/toolflow/internal/resolver"
	"github.com/rahul/toolflow/internal/store"
	"github.com/rahul/toolflow/internal/workflow"
	"github.com/tmc/langchaingo/llms"
)

// scriptedModel returns its responses in order, repeating the last one.
type scriptedModel struct {
	responses []*llms.ContentResponse
	calls     [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls = append(m.calls, messages)
	if len(m.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func chooseAction(action Action) *llms.ContentResponse {
	args, _ := json.Marshal(map[string]string{"action": string(action), "reason": "test"})
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:   "call-1",
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      "choose_action",
				Arguments: string(args),
			},
		}},
	}}}
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

// fakeGenerator answers GenerateObject by matching a prompt substring.
type fakeGenerator struct {
	mu      sync.Mutex
	objects map[string]string
	text    string
	textErr error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ ...llm.Option) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.textErr != nil {
		return nil, f.textErr
	}
	return llm.TextOnly{Text: f.text}, nil
}

func (f *fakeGenerator) GenerateObject(_ context.Context, prompt string, out any, _ ...llm.Option) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	for marker, obj := range f.objects {
		if strings.Contains(prompt, marker) {
			return json.Unmarshal([]byte(obj), out)
		}
	}
	return errors.New("no canned object")
}

// fakeService is an in-memory ToolkitService.
type fakeService struct {
	multiUser   bool
	connections []composio.Connection
	toolkits    []string
	redirect    string

	deleted   []string
	initiated []string
	retrieved []string
}

func (f *fakeService) EffectiveUserID(entityID string) string {
	if !f.multiUser {
		return "default"
	}
	return entityID
}

func (f *fakeService) MultiUserMode() bool { return f.multiUser }

func (f *fakeService) GetConnectedApps(context.Context, string) []string {
	var apps []string
	for _, c := range f.connections {
		if c.Status == composio.StatusActive {
			apps = append(apps, c.Toolkit.Slug)
		}
	}
	return apps
}

func (f *fakeService) ListConnections(_ context.Context, p composio.ListConnectionsParams) ([]composio.Connection, error) {
	var out []composio.Connection
	for _, c := range f.connections {
		if len(p.ToolkitSlugs) > 0 && c.Toolkit.Slug != p.ToolkitSlugs[0] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeService) DeleteConnection(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) InitiateConnection(_ context.Context, _, toolkit string) (*composio.ConnectionRequest, error) {
	f.initiated = append(f.initiated, toolkit)
	return &composio.ConnectionRequest{RedirectURL: f.redirect, Status: composio.StatusInitiated}, nil
}

func (f *fakeService) RetrieveToolkits(_ context.Context, _, category string) ([]string, error) {
	f.retrieved = append(f.retrieved, category)
	return f.toolkits, nil
}

func connection(id, toolkit, status string) composio.Connection {
	c := composio.Connection{ID: id, Status: status}
	c.Toolkit.Slug = toolkit
	return c
}

// fakeRunner emits its texts and returns err.
type fakeRunner struct {
	texts    []string
	err      error
	requests []workflow.Request
}

func (f *fakeRunner) Handle(ctx context.Context, req workflow.Request, emit workflow.Callback) (workflow.Report, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return workflow.Report{}, f.err
	}
	for i, text := range f.texts {
		if err := emit(ctx, workflow.Emission{GroupIndex: i, Text: text}); err != nil {
			return workflow.Report{}, err
		}
	}
	return workflow.Report{State: workflow.StateDone}, nil
}

// memoryStore keeps messages and snapshots in memory.
type memoryStore struct {
	messages   map[string][]store.Message
	executions []history.Record
	mappings   []resolver.Mapping
}

func newMemoryStore() *memoryStore {
	return &memoryStore{messages: make(map[string][]store.Message)}
}

func (m *memoryStore) AddMessage(_ context.Context, chatID, role, content string) error {
	m.messages[chatID] = append(m.messages[chatID], store.Message{Role: role, Content: content, Timestamp: time.Now()})
	return nil
}

func (m *memoryStore) GetHistory(_ context.Context, chatID string, limit int) ([]store.Message, error) {
	msgs := m.messages[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *memoryStore) SaveExecutions(_ context.Context, records []history.Record) error {
	m.executions = records
	return nil
}

func (m *memoryStore) LoadExecutions(context.Context) ([]history.Record, error) {
	return m.executions, nil
}

func (m *memoryStore) SaveMappings(_ context.Context, mappings []resolver.Mapping) error {
	m.mappings = mappings
	return nil
}

func (m *memoryStore) LoadMappings(context.Context) ([]resolver.Mapping, error) {
	return m.mappings, nil
}

// collector gathers emitted texts.
type collector struct{ texts []string }

func (c *collector) emit(_ context.Context, text string) error {
	c.texts = append(c.texts, text)
	return nil
}
