package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/rahul/toolflow/internal/composio"
	"github.com/rahul/toolflow/internal/governance"
	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/llm"
	"github.com/rahul/toolflow/internal/resolver"
	"github.com/rahul/toolflow/internal/workflow"
)

// ToolkitService is the remote API surface the actions use.
// *composio.Service implements it.
type ToolkitService interface {
	EffectiveUserID(entityID string) string
	MultiUserMode() bool
	GetConnectedApps(ctx context.Context, entityID string) []string
	ListConnections(ctx context.Context, p composio.ListConnectionsParams) ([]composio.Connection, error)
	DeleteConnection(ctx context.Context, id string) error
	InitiateConnection(ctx context.Context, userID, toolkit string) (*composio.ConnectionRequest, error)
	RetrieveToolkits(ctx context.Context, userID, category string) ([]string, error)
}

// WorkflowRunner runs the multi-step toolkit workflow.
type WorkflowRunner interface {
	Handle(ctx context.Context, req workflow.Request, emit workflow.Callback) (workflow.Report, error)
}

type Temperatures struct {
	ConnectionExtraction float64
	ConnectionResponse   float64
	RemovalResponse      float64
}

// Turn is one user message with the context built for it.
type Turn struct {
	ChatID              string
	Input               string
	ConversationContext string
	ResponseStyle       string
}

// Emit sends one message back to the chat.
type Emit func(ctx context.Context, text string) error

const singleUserNotice = "Connecting and disconnecting toolkits is managed by the administrator in single-user mode."

// Actions implements every routed action.
type Actions struct {
	Service  ToolkitService
	Workflow WorkflowRunner
	Gen      llm.Generator
	Resolver *resolver.Resolver
	History  *history.Store
	Policy   *governance.ToolkitPolicy
	Temps    Temperatures
	// RecentExecutions is how many past executions per toolkit enrich a
	// workflow request.
	RecentExecutions int
}

// UseTools runs the workflow. Each group's response is emitted as it finishes.
func (a *Actions) UseTools(ctx context.Context, turn Turn, emit Emit) error {
	convo := turn.ConversationContext
	if recent := a.recentExecutions(turn.ChatID); recent != "" {
		convo = strings.TrimSpace(convo + "\n\n" + recent)
	}

	_, err := a.Workflow.Handle(ctx, workflow.Request{
		EntityID:            turn.ChatID,
		Text:                turn.Input,
		ConversationContext: convo,
		ResponseStyle:       turn.ResponseStyle,
	}, func(ctx context.Context, e workflow.Emission) error {
		return emit(ctx, e.Text)
	})
	if err == nil {
		return nil
	}

	var notConnected *workflow.ToolkitNotConnectedError
	switch {
	case errors.As(err, &notConnected):
		return emit(ctx, fmt.Sprintf("These toolkits aren't connected yet: %s. Connect them first and try again.", strings.Join(notConnected.Toolkits, ", ")))
	case errors.Is(err, workflow.ErrNoConnectedApps):
		return emit(ctx, "You don't have any connected toolkits yet. Ask me to connect one first.")
	case errors.Is(err, workflow.ErrExtractionFailed):
		return emit(ctx, "I couldn't tell which apps and actions you need. Could you rephrase the request?")
	}
	return err
}

func (a *Actions) recentExecutions(entityID string) string {
	if a.History == nil || a.RecentExecutions <= 0 {
		return ""
	}
	recent := a.History.Recent(entityID, a.RecentExecutions)
	if len(recent) == 0 {
		return ""
	}
	toolkits := make([]string, 0, len(recent))
	for t := range recent {
		toolkits = append(toolkits, t)
	}
	sort.Strings(toolkits)

	var b strings.Builder
	b.WriteString("Recent tool results:")
	for _, t := range toolkits {
		for _, e := range recent[t] {
			fmt.Fprintf(&b, "\n- %s: %s (%d results)", t, e.UseCase, len(e.Results))
		}
	}
	return b.String()
}

func (a *Actions) ListConnected(ctx context.Context, turn Turn, emit Emit) error {
	apps := a.Service.GetConnectedApps(ctx, turn.ChatID)
	if len(apps) == 0 {
		return emit(ctx, "No toolkits are connected yet.")
	}
	sort.Strings(apps)
	return emit(ctx, "Connected toolkits:\n"+bulletList(apps))
}

func (a *Actions) Browse(ctx context.Context, turn Turn, emit Emit) error {
	var out struct {
		Category string `json:"category"`
	}
	prompt := fmt.Sprintf("Extract the toolkit category the user is interested in, or an empty string for all toolkits.\n\nMessage: %q\n\nJSON: {\"category\": \"...\"}", turn.Input)
	if err := a.Gen.GenerateObject(ctx, prompt, &out, llm.WithTemperature(a.Temps.ConnectionExtraction)); err != nil {
		log.Printf("[Agent] Category extraction failed, listing all: %v", err)
	}

	found, err := a.Service.RetrieveToolkits(ctx, a.Service.EffectiveUserID(turn.ChatID), out.Category)
	if err != nil {
		return fmt.Errorf("retrieve toolkits: %w", err)
	}
	if a.Resolver != nil && out.Category == "" {
		a.Resolver.UpdateAvailableToolkits(found)
	}
	found = a.permitted(ctx, found)
	if len(found) == 0 {
		return emit(ctx, "I couldn't find any toolkits for that.")
	}
	header := "Available toolkits:"
	if out.Category != "" {
		header = fmt.Sprintf("Toolkits for %s:", out.Category)
	}
	return emit(ctx, header+"\n"+bulletList(found))
}

func (a *Actions) Connect(ctx context.Context, turn Turn, emit Emit) error {
	if !a.Service.MultiUserMode() {
		return emit(ctx, singleUserNotice)
	}
	toolkit, err := a.resolveToolkit(ctx, turn)
	if err != nil {
		return err
	}
	if toolkit == "" {
		return emit(ctx, "I couldn't work out which toolkit you want to connect. Which one did you mean?")
	}
	if res := a.evaluate(ctx, turn.ChatID, toolkit); !res.Allowed() {
		return emit(ctx, res.Reason)
	}

	userID := a.Service.EffectiveUserID(turn.ChatID)
	conns, err := a.Service.ListConnections(ctx, composio.ListConnectionsParams{
		UserIDs:      []string{userID},
		ToolkitSlugs: []string{toolkit},
	})
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	for _, c := range conns {
		if c.Status == composio.StatusActive {
			return emit(ctx, fmt.Sprintf("%s is already connected.", toolkit))
		}
	}
	for _, c := range conns {
		if err := a.Service.DeleteConnection(ctx, c.ID); err != nil {
			log.Printf("[Agent] Failed to remove stale %s connection %s: %v", toolkit, c.ID, err)
		}
	}

	req, err := a.Service.InitiateConnection(ctx, userID, toolkit)
	if err != nil {
		return fmt.Errorf("initiate connection: %w", err)
	}
	fallback := fmt.Sprintf("Open this link to connect %s: %s", toolkit, req.RedirectURL)
	if req.RedirectURL == "" {
		fallback = fmt.Sprintf("Connection to %s: %s", toolkit, firstNonEmpty(req.Message, req.Instruction, req.Status))
	}
	prompt := fmt.Sprintf("%s\n\nTell the user in one or two sentences how to finish connecting %s. Always include this link verbatim: %s\nStatus: %s\nMessage: %s",
		turn.ResponseStyle, toolkit, req.RedirectURL, req.Status, req.Message)
	return emit(ctx, a.phrase(ctx, prompt, a.Temps.ConnectionResponse, fallback, req.RedirectURL))
}

func (a *Actions) Disconnect(ctx context.Context, turn Turn, emit Emit) error {
	if !a.Service.MultiUserMode() {
		return emit(ctx, singleUserNotice)
	}
	toolkit, err := a.extractToolkitName(ctx, turn)
	if err != nil {
		return err
	}
	if toolkit == "" {
		return emit(ctx, "Which toolkit should I disconnect?")
	}
	if res := a.evaluate(ctx, turn.ChatID, toolkit); !res.Allowed() {
		return emit(ctx, res.Reason)
	}

	conns, err := a.Service.ListConnections(ctx, composio.ListConnectionsParams{
		UserIDs:      []string{a.Service.EffectiveUserID(turn.ChatID)},
		ToolkitSlugs: []string{toolkit},
	})
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	if len(conns) == 0 {
		return emit(ctx, fmt.Sprintf("%s isn't connected.", toolkit))
	}

	removed := 0
	for _, c := range conns {
		if err := a.Service.DeleteConnection(ctx, c.ID); err != nil {
			log.Printf("[Agent] Failed to delete %s connection %s: %v", toolkit, c.ID, err)
			continue
		}
		removed++
	}
	if a.History != nil && removed > 0 {
		a.History.ClearToolkit(turn.ChatID, toolkit)
	}

	fallback := fmt.Sprintf("Disconnected %s (%d of %d connections removed).", toolkit, removed, len(conns))
	prompt := fmt.Sprintf("%s\n\nTell the user in one sentence that %d of %d %s connections were removed.",
		turn.ResponseStyle, removed, len(conns), toolkit)
	return emit(ctx, a.phrase(ctx, prompt, a.Temps.RemovalResponse, fallback, ""))
}

// resolveToolkit turns the user's wording into a canonical toolkit slug.
// With an allow-list the model picks from it directly. Otherwise the cache is
// consulted before the remote list.
func (a *Actions) resolveToolkit(ctx context.Context, turn Turn) (string, error) {
	if allowed := a.allowList(); len(allowed) > 0 {
		pick, _, err := a.selectToolkit(ctx, turn.Input, allowed)
		return pick, err
	}

	name, err := a.extractToolkitName(ctx, turn)
	if err != nil || name == "" {
		return "", err
	}
	if a.Resolver == nil {
		return name, nil
	}
	if m, ok := a.Resolver.GetMapping(name); ok {
		return m.ResolvedToolkit, nil
	}

	available := a.Resolver.AvailableToolkits()
	if len(available) == 0 {
		found, err := a.Service.RetrieveToolkits(ctx, a.Service.EffectiveUserID(turn.ChatID), "")
		if err != nil {
			log.Printf("[Agent] Toolkit list unavailable, using %q as given: %v", name, err)
			return name, nil
		}
		a.Resolver.UpdateAvailableToolkits(found)
		available = a.Resolver.AvailableToolkits()
	}

	for _, t := range available {
		if resolver.Normalize(t) == resolver.Normalize(name) {
			a.Resolver.StoreMapping(resolver.Mapping{SearchTerm: name, ResolvedToolkit: t, Confidence: resolver.ConfidenceHigh})
			return t, nil
		}
	}

	pick, confidence, err := a.selectToolkit(ctx, name, available)
	if err != nil || pick == "" {
		return pick, err
	}
	a.Resolver.StoreMapping(resolver.Mapping{SearchTerm: name, ResolvedToolkit: pick, Confidence: confidence})
	return pick, nil
}

func (a *Actions) extractToolkitName(ctx context.Context, turn Turn) (string, error) {
	var out struct {
		Toolkit string `json:"toolkit"`
	}
	prompt := fmt.Sprintf("%s\n\nExtract the name of the app or toolkit the user refers to.\n\nMessage: %q\n\nJSON: {\"toolkit\": \"name or empty string\"}",
		turn.ConversationContext, turn.Input)
	if err := a.Gen.GenerateObject(ctx, prompt, &out, llm.WithTemperature(a.Temps.ConnectionExtraction)); err != nil {
		return "", fmt.Errorf("extract toolkit name: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(out.Toolkit)), nil
}

// selectToolkit asks the model to pick one of candidates. An answer outside
// the list counts as no match.
func (a *Actions) selectToolkit(ctx context.Context, query string, candidates []string) (string, resolver.Confidence, error) {
	var out struct {
		SelectedToolkit *string `json:"selectedToolkit"`
		Confidence      string  `json:"confidence"`
	}
	prompt := fmt.Sprintf("Select the toolkit matching the request from the list.\n\nRequest: %q\n\nAvailable toolkits:\n%s\n\nJSON: {\"selectedToolkit\": \"exact name from list or null\", \"confidence\": \"high|medium|low\"}",
		query, bulletList(candidates))
	if err := a.Gen.GenerateObject(ctx, prompt, &out, llm.WithTemperature(a.Temps.ConnectionExtraction)); err != nil {
		return "", "", fmt.Errorf("select toolkit: %w", err)
	}
	if out.SelectedToolkit == nil {
		return "", "", nil
	}
	for _, c := range candidates {
		if strings.EqualFold(c, *out.SelectedToolkit) {
			conf := resolver.Confidence(strings.ToLower(out.Confidence))
			switch conf {
			case resolver.ConfidenceHigh, resolver.ConfidenceMedium, resolver.ConfidenceLow:
			default:
				conf = resolver.ConfidenceLow
			}
			return c, conf, nil
		}
	}
	return "", "", nil
}

func (a *Actions) allowList() []string {
	if a.Policy == nil {
		return nil
	}
	allowed := a.Policy.Allowed()
	sort.Strings(allowed)
	return allowed
}

func (a *Actions) evaluate(ctx context.Context, chatID, toolkit string) governance.Result {
	if a.Policy == nil {
		return governance.Result{Effect: governance.EffectAllow}
	}
	res, err := a.Policy.Evaluate(ctx, governance.Request{Toolkit: toolkit, ChatID: chatID})
	if err != nil {
		return governance.Result{Effect: governance.EffectDeny, Reason: err.Error()}
	}
	return res
}

func (a *Actions) permitted(ctx context.Context, toolkits []string) []string {
	var out []string
	for _, t := range toolkits {
		if a.evaluate(ctx, "", t).Allowed() {
			out = append(out, t)
		}
	}
	return out
}

// phrase asks the model for a reply and falls back when it fails or drops
// mustContain.
func (a *Actions) phrase(ctx context.Context, prompt string, temperature float64, fallback, mustContain string) string {
	resp, err := a.Gen.Generate(ctx, strings.TrimSpace(prompt), llm.WithTemperature(temperature))
	if err != nil {
		log.Printf("[Agent] Response generation failed: %v", err)
		return fallback
	}
	text := strings.TrimSpace(llm.Text(resp))
	if text == "" || (mustContain != "" && !strings.Contains(text, mustContain)) {
		return fallback
	}
	return text
}

func bulletList(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
