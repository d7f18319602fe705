package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/rahul/toolflow/internal/observability"
	"github.com/tmc/langchaingo/llms"
)

// DefaultMaxSteps bounds the tool-calling loop.
const DefaultMaxSteps = 10

// ToolExecutor runs a tool the model asked for.
type ToolExecutor interface {
	Execute(ctx context.Context, userID, tool, arguments string) (any, error)
}

// Model adapts a langchaingo model to Generator and ToolCaller.
type Model struct {
	LLM      llms.Model
	Executor ToolExecutor
	Logger   *observability.Logger
	MaxSteps int
}

func NewModel(model llms.Model, executor ToolExecutor, logger *observability.Logger) *Model {
	return &Model{LLM: model, Executor: executor, Logger: logger, MaxSteps: DefaultMaxSteps}
}

func (m *Model) Generate(ctx context.Context, prompt string, opts ...Option) (Response, error) {
	o := buildOptions(opts)
	resp, err := m.LLM.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, callOptions(o)...)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: empty response")
	}
	m.Logger.LogLLM(o.ChatID, o.TaskID, prompt, resp.Choices[0].Content, nil)
	return TextOnly{Text: resp.Choices[0].Content}, nil
}

func (m *Model) GenerateObject(ctx context.Context, prompt string, out any, opts ...Option) error {
	o := buildOptions(opts)
	if o.Schema != nil {
		schema, err := json.Marshal(o.Schema)
		if err != nil {
			return fmt.Errorf("llm: encode schema: %w", err)
		}
		prompt = fmt.Sprintf("%s\n\nRespond with a single JSON object matching this schema:\n%s", prompt, schema)
	}

	callOpts := append(callOptions(o), llms.WithJSONMode())
	resp, err := m.LLM.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, callOpts...)
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return errors.New("llm: empty response")
	}
	m.Logger.LogLLM(o.ChatID, o.TaskID, prompt, resp.Choices[0].Content, nil)
	if err := DecodeObject(resp.Choices[0].Content, out); err != nil {
		return fmt.Errorf("llm: decode object: %w", err)
	}
	return nil
}

// GenerateWithTools runs the reason/act loop: the model calls tools, sees the
// results and continues until it answers without calling anything.
func (m *Model) GenerateWithTools(ctx context.Context, req ToolRequest) (Response, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}

	o := buildOptions([]Option{WithTemperature(req.Temperature)})
	callOpts := callOptions(o)
	if len(req.Tools) > 0 {
		choice := req.ToolChoice
		if choice == "" {
			choice = ToolChoiceAuto
		}
		callOpts = append(callOpts, llms.WithTools(req.Tools.LLMTools()), llms.WithToolChoice(string(choice)))
	}

	maxSteps := m.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	var (
		calls   []ToolCall
		results []ToolResult
		final   string
	)
	for i := 0; i < maxSteps; i++ {
		resp, err := m.LLM.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("llm: empty response")
		}
		choice := resp.Choices[0]
		m.Logger.LogLLM(req.logChat(), req.TaskID, req.Prompt, choice.Content, choice.ToolCalls)

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		if len(choice.ToolCalls) == 0 {
			final = choice.Content
			break
		}

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			name, args := tc.FunctionCall.Name, tc.FunctionCall.Arguments
			calls = append(calls, ToolCall{ID: tc.ID, ToolName: name, Arguments: args})

			result := m.runTool(ctx, req, i+1, name, args)
			results = append(results, ToolResult{ToolCallID: tc.ID, ToolName: name, Result: result})

			content, err := json.Marshal(result)
			if err != nil {
				content = []byte(fmt.Sprintf("%v", result))
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       name,
						Content:    string(content),
					},
				},
			})
		}
	}

	if len(calls) == 0 {
		return TextOnly{Text: final}, nil
	}
	return ToolCallResult{Text: final, Calls: calls, Results: results}, nil
}

func (m *Model) runTool(ctx context.Context, req ToolRequest, step int, name, args string) any {
	if _, ok := req.Tools.Get(name); !ok {
		return failure(fmt.Sprintf("tool %s not found", name))
	}
	if m.Executor == nil {
		return failure("no tool executor configured")
	}
	log.Printf("[Step %d] Executing tool %s with args: %s", step, name, args)
	m.Logger.LogToolCall(req.logChat(), req.TaskID, name, args)
	res, err := m.Executor.Execute(ctx, req.UserID, name, args)
	if err != nil {
		log.Printf("[Step %d] Tool %s failed: %v", step, name, err)
		res = failure(err.Error())
	}
	m.Logger.LogToolResult(req.logChat(), req.TaskID, name, IsSuccessful(res))
	return res
}

func (r ToolRequest) logChat() string {
	if r.ChatID != "" {
		return r.ChatID
	}
	return r.UserID
}

func failure(msg string) map[string]any {
	return map[string]any{"successful": false, "error": msg}
}

func callOptions(o options) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(o.Temperature)}
	if o.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(o.MaxTokens))
	}
	return opts
}
