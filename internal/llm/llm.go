// Package llm wraps text, structured and tool-calling generation behind small
// interfaces the workflow can fake in tests.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rahul/toolflow/internal/tools"
)

// Response is either TextOnly or ToolCallResult.
type Response interface {
	isResponse()
}

// TextOnly is a plain text answer.
type TextOnly struct {
	Text string
}

// ToolCall is one call the model issued.
type ToolCall struct {
	ID        string
	ToolName  string
	Arguments string
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Result     any
}

// ToolCallResult is an answer produced after one or more tool calls.
type ToolCallResult struct {
	Text    string
	Calls   []ToolCall
	Results []ToolResult
}

func (TextOnly) isResponse()       {}
func (ToolCallResult) isResponse() {}

// ToolChoice mirrors the provider's tool_choice setting.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

type options struct {
	Temperature float64
	MaxTokens   int
	Schema      map[string]any
	ChatID      string
	TaskID      string
}

type Option func(*options)

func WithTemperature(t float64) Option {
	return func(o *options) { o.Temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(o *options) { o.MaxTokens = n }
}

// WithSchema describes the expected JSON object for GenerateObject.
func WithSchema(schema map[string]any) Option {
	return func(o *options) { o.Schema = schema }
}

// WithTask tags the logged events of a call with the chat and task it serves.
func WithTask(chatID, taskID string) Option {
	return func(o *options) {
		o.ChatID = chatID
		o.TaskID = taskID
	}
}

func buildOptions(opts []Option) options {
	o := options{Temperature: 0.7}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Generator produces text or a JSON object from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ...Option) (Response, error)
	GenerateObject(ctx context.Context, prompt string, out any, opts ...Option) error
}

// ToolRequest is one tool-calling invocation. Temperature is sent as given,
// so zero means deterministic sampling rather than a default.
type ToolRequest struct {
	Prompt      string
	UserID      string
	Tools       tools.Set
	ToolChoice  ToolChoice
	Temperature float64

	// ChatID and TaskID tag the logged llm and tool events.
	ChatID string
	TaskID string
}

// ToolCaller lets the model call the offered tools.
type ToolCaller interface {
	GenerateWithTools(ctx context.Context, req ToolRequest) (Response, error)
}

// Text extracts the answer text of any response variant.
func Text(r Response) string {
	switch v := r.(type) {
	case TextOnly:
		return v.Text
	case ToolCallResult:
		return v.Text
	}
	return ""
}

// ResultText is the text of a response, falling back to the first tool
// result when the model produced no prose.
func ResultText(r Response) string {
	switch v := r.(type) {
	case TextOnly:
		return v.Text
	case ToolCallResult:
		if strings.TrimSpace(v.Text) != "" {
			return v.Text
		}
		if len(v.Results) > 0 {
			if s, ok := v.Results[0].Result.(string); ok {
				return s
			}
			data, err := json.Marshal(v.Results[0].Result)
			if err == nil {
				return string(data)
			}
		}
	}
	return ""
}

// IsSuccessful reports whether a tool result payload explicitly marks itself
// successful.
func IsSuccessful(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	b, ok := m["successful"].(bool)
	return ok && b
}

// DecodeObject parses a model's JSON answer, tolerating markdown fences and
// surrounding prose.
func DecodeObject(text string, out any) error {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return json.Unmarshal([]byte(s), out)
}
