package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/toolflow/internal/store"
	"github.com/tmc/langchaingo/llms"
)

// Agent handles one incoming chat message. Replies are sent through emit,
// possibly several times for one message.
type Agent interface {
	Handle(ctx context.Context, chatID, input string, emit Emit) error
}

type Action string

const (
	ActionUseTools      Action = "use_tools"
	ActionConnect       Action = "connect_toolkit"
	ActionDisconnect    Action = "disconnect_toolkit"
	ActionListConnected Action = "list_connected"
	ActionBrowse        Action = "browse_toolkits"
	ActionChat          Action = "chat"
)

var allActions = []Action{ActionUseTools, ActionConnect, ActionDisconnect, ActionListConnected, ActionBrowse, ActionChat}

// Decision is the router's choice for a message. Reply is set when the model
// answered in text instead of choosing an action.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
	Reply  string `json:"-"`
}

// Conversations is the part of the store the router needs.
type Conversations interface {
	AddMessage(ctx context.Context, chatID, role, content string) error
	GetHistory(ctx context.Context, chatID string, limit int) ([]store.Message, error)
}

// Router picks an action per message and dispatches to Actions.
type Router struct {
	Model   llms.Model
	Actions *Actions
	History Conversations
	Prompts *PromptManager
	// RecentExchanges is how many user/agent pairs form the conversation
	// context.
	RecentExchanges int
}

func NewRouter(model llms.Model, actions *Actions, history Conversations, prompts *PromptManager, recentExchanges int) *Router {
	return &Router{
		Model:           model,
		Actions:         actions,
		History:         history,
		Prompts:         prompts,
		RecentExchanges: recentExchanges,
	}
}

func (r *Router) Handle(ctx context.Context, chatID, input string, emit Emit) error {
	turn := Turn{ChatID: chatID, Input: input}

	history, err := r.History.GetHistory(ctx, chatID, r.RecentExchanges*2)
	if err != nil {
		log.Printf("[Router] Failed to load history for %s: %v", chatID, err)
	}
	turn.ConversationContext = formatConversation(history)

	if r.Prompts != nil {
		style, err := r.Prompts.ResponseStyle()
		if err != nil {
			log.Printf("Warning: Failed to load response style: %v", err)
		}
		turn.ResponseStyle = style
	}

	decision, err := r.decide(ctx, turn)
	if err != nil {
		return fmt.Errorf("routing error: %v", err)
	}
	log.Printf("[Router] %s -> %s (%s)", chatID, decision.Action, decision.Reason)

	// Replies are recorded as one AI message so the next turn sees them.
	var replies []string
	record := func(ctx context.Context, text string) error {
		replies = append(replies, text)
		return emit(ctx, text)
	}

	switch decision.Action {
	case ActionUseTools:
		err = r.Actions.UseTools(ctx, turn, record)
	case ActionConnect:
		err = r.Actions.Connect(ctx, turn, record)
	case ActionDisconnect:
		err = r.Actions.Disconnect(ctx, turn, record)
	case ActionListConnected:
		err = r.Actions.ListConnected(ctx, turn, record)
	case ActionBrowse:
		err = r.Actions.Browse(ctx, turn, record)
	default:
		reply := decision.Reply
		if reply == "" {
			reply, err = r.chat(ctx, turn)
		}
		if err == nil {
			err = record(ctx, reply)
		}
	}

	r.save(ctx, chatID, store.RoleHuman, input)
	if len(replies) > 0 {
		r.save(ctx, chatID, store.RoleAI, strings.Join(replies, "\n\n"))
	}
	return err
}

func (r *Router) save(ctx context.Context, chatID, role, content string) {
	if err := r.History.AddMessage(ctx, chatID, role, content); err != nil {
		log.Printf("[Router] Failed to save %s message for %s: %v", role, chatID, err)
	}
}

func (r *Router) decide(ctx context.Context, turn Turn) (Decision, error) {
	routerPrompt := defaultRouterPrompt
	if r.Prompts != nil {
		p, err := r.Prompts.RouterPrompt()
		if err != nil {
			return Decision{}, err
		}
		routerPrompt = p
	}
	system := routerPrompt
	if turn.ResponseStyle != "" {
		system = turn.ResponseStyle + "\n\n" + routerPrompt
	}
	user := turn.Input
	if turn.ConversationContext != "" {
		user = turn.ConversationContext + "\n\nLatest message: " + turn.Input
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	resp, err := r.Model.GenerateContent(ctx, messages, llms.WithTools(routerTools()))
	if err != nil {
		return Decision{}, err
	}
	if len(resp.Choices) == 0 {
		return Decision{}, fmt.Errorf("router returned no choices")
	}
	choice := resp.Choices[0]

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != "choose_action" {
			continue
		}
		var d Decision
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &d); err != nil {
			return Decision{}, fmt.Errorf("failed to parse choose_action arguments: %v", err)
		}
		if !knownAction(d.Action) {
			log.Printf("[Router] Unknown action %q, treating as chat", d.Action)
			d.Action = ActionChat
		}
		return d, nil
	}

	if choice.Content != "" {
		return Decision{Action: ActionChat, Reason: "direct reply", Reply: choice.Content}, nil
	}
	return Decision{}, fmt.Errorf("router failed to provide an action or text response")
}

func (r *Router) chat(ctx context.Context, turn Turn) (string, error) {
	var messages []llms.MessageContent
	if turn.ResponseStyle != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, turn.ResponseStyle))
	}
	prompt := turn.Input
	if turn.ConversationContext != "" {
		prompt = turn.ConversationContext + "\n\nUser: " + turn.Input
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	resp, err := r.Model.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "I'm not sure how to help with that.", nil
	}
	return resp.Choices[0].Content, nil
}

func routerTools() []llms.Tool {
	enum := make([]string, len(allActions))
	for i, a := range allActions {
		enum[i] = string(a)
	}
	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        "choose_action",
				Description: "Choose how to handle the latest user message.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action": map[string]any{
							"type": "string",
							"enum": enum,
						},
						"reason": map[string]any{
							"type": "string",
						},
					},
					"required": []string{"action"},
				},
			},
		},
	}
}

func knownAction(a Action) bool {
	for _, k := range allActions {
		if k == a {
			return true
		}
	}
	return false
}

func formatConversation(messages []store.Message) string {
	if len(messages) == 0 {
		return ""
	}
	lines := []string{"Recent conversation:"}
	for _, m := range messages {
		who := "User"
		if m.Role == store.RoleAI {
			who = "Agent"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", who, m.Content))
	}
	return strings.Join(lines, "\n")
}
