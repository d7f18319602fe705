package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rahul/toolflow/internal/tools"
)

func extractionPrompt(connected []string, conversationContext, request string) string {
	var b strings.Builder
	b.WriteString("Extract ALL toolkits and use cases from the request. Always return an array.\n\n")
	fmt.Fprintf(&b, "Request: %q\n", request)
	if conversationContext != "" {
		fmt.Fprintf(&b, "Context: %s\n", conversationContext)
	}
	fmt.Fprintf(&b, "Apps: %s\n\n", strings.Join(connected, ", "))
	b.WriteString(`Rules:
1. Keep the order the user wants things done in. If the same app is needed again later, list it again at that position.
2. Use short generic actions: "create issue", "send message", "list files", "update page".
3. Never put specific details into use_case.

JSON format:
{"toolkits": [{"name": "app_name", "use_case": "action resource"}], "reasoning": "one sentence"}

Example:
"Track bug in Linear and tell the team on Slack" -> {"toolkits": [{"name": "linear", "use_case": "create issue"}, {"name": "slack", "use_case": "send message"}]}

Return JSON only.`)
	return b.String()
}

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"toolkits": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":     map[string]any{"type": "string"},
					"use_case": map[string]any{"type": "string"},
				},
				"required": []string{"name", "use_case"},
			},
		},
		"reasoning": map[string]any{"type": "string"},
	},
	"required": []string{"toolkits"},
}

type stepPromptInput struct {
	inv      Invocation
	group    *PreparedGroup
	index    int
	total    int
	previous []PreviousStepResult
}

func stepPrompt(in stepPromptInput) string {
	var b strings.Builder
	if in.inv.ResponseStyle != "" {
		fmt.Fprintf(&b, "Style: %s\n\n", in.inv.ResponseStyle)
	}
	if in.inv.ConversationContext != "" {
		fmt.Fprintf(&b, "%s\n\n", in.inv.ConversationContext)
	}
	fmt.Fprintf(&b, "Original user request: %q\n\n", in.inv.Request)

	if prev := formatPreviousSteps(in.previous); prev != "" {
		fmt.Fprintf(&b, "Previous step results:\n%s\n\n", prev)
	}
	if execs := formatPreviousExecutions(in.group.PreviousExecutions); execs != "" {
		fmt.Fprintf(&b, "Recent %s executions that may contain relevant data:\n%s\n\n", in.group.Toolkit, execs)
	}
	if deps := formatDependencies(in.group); deps != "" {
		fmt.Fprintf(&b, "Tool dependencies (run prerequisites first when inputs are missing):\n%s\n\n", deps)
	}
	if p := in.group.Plan; p != nil && len(p.Steps) > 0 {
		b.WriteString("Suggested plan:\n")
		for i, s := range p.Steps {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, s.Intent, s.Tool)
		}
		if p.CriticalInstructions != "" {
			fmt.Fprintf(&b, "Critical: %s\n", p.CriticalInstructions)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Step %d of %d: use %s to %s.\n\n", in.index+1, in.total, in.group.Toolkit, strings.Join(in.group.UseCases, ", then "))
	b.WriteString("Use the provided tools to complete this step. Reference IDs and names from previous results when needed. ")
	b.WriteString("Reply with the key outcome in one or two short sentences, including links when relevant.")
	return b.String()
}

func formatDependencies(g *PreparedGroup) string {
	var lines []string
	for _, dg := range g.DependencyGraphs {
		for _, p := range dg.ParentTools {
			req := "optional"
			if p.Required {
				req = "required"
			}
			lines = append(lines, fmt.Sprintf("- %s needs %s (%s): %s", dg.ToolName, p.ToolName, req, p.Reason))
		}
	}
	return strings.Join(lines, "\n")
}

func narrationPrompt(inv Invocation, done ToolkitGroup, next ToolkitGroup, result string) string {
	var b strings.Builder
	if inv.ResponseStyle != "" {
		fmt.Fprintf(&b, "Style: %s\n\n", inv.ResponseStyle)
	}
	fmt.Fprintf(&b, "User request: %q\n", inv.Request)
	fmt.Fprintf(&b, "Just finished: %s (%s). Result: %s\n", done.Toolkit, strings.Join(done.UseCases, ", "), truncateText(result, 200))
	fmt.Fprintf(&b, "Next: %s (%s)\n\n", next.Toolkit, strings.Join(next.UseCases, ", "))
	b.WriteString("Write ONE short sentence (max 15 words) telling the user what is done and what comes next. Match the user's language.")
	return b.String()
}

func dependencyAnalysisPrompt(inv Invocation, held tools.Set) string {
	data, err := json.MarshalIndent(held, "", "  ")
	if err != nil {
		data = []byte(strings.Join(held.Names(), ", "))
	}
	var b strings.Builder
	b.WriteString("Create a use case from tool parameter descriptions.\n\n")
	fmt.Fprintf(&b, "Request: %s\n", inv.Request)
	if inv.ConversationContext != "" {
		fmt.Fprintf(&b, "Context: %s\n", inv.ConversationContext)
	}
	fmt.Fprintf(&b, "\nCurrent tools:\n%s\n\n", data)
	b.WriteString(`For each _id, _ref or _key parameter that is required and not provided by the user or the context, add the lookup to the use case.
Use resource names, not "ID" ("List users", not "List user IDs").
If everything is already provided there are no dependencies.

Return JSON: {"hasDependencies": boolean, "useCase": "complete sentence"}`)
	return b.String()
}

var dependencyAnalysisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"hasDependencies": map[string]any{"type": "boolean"},
		"useCase":         map[string]any{"type": "string"},
	},
	"required": []string{"hasDependencies"},
}
