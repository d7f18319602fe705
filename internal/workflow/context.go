package workflow

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rahul/toolflow/internal/history"
)

const (
	maxIntermediateText = 500
	maxContextJSON      = 1000
)

var markup = bluemonday.StrictPolicy()

// truncateText cuts s to n runes.
func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// sanitizeValue strips HTML from every string in a decoded JSON value. Tool
// payloads from mail and docs toolkits routinely carry markup.
func sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		if !strings.Contains(t, "<") {
			return t
		}
		return html.UnescapeString(markup.Sanitize(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sanitizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val)
		}
		return out
	}
	return v
}

// compactJSON renders v for a prompt, sanitized and cut to n bytes.
func compactJSON(v any, n int) string {
	data, err := json.Marshal(sanitizeValue(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	if len(data) <= n {
		return string(data)
	}
	return strings.ToValidUTF8(string(data[:n]), "") + "..."
}

func formatPreviousSteps(steps []PreviousStepResult) string {
	if len(steps) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "Step %d (%s - %s): %s\n", i+1, s.Group, s.UseCase, s.ResponseText)
		if len(s.ToolResults) > 0 {
			fmt.Fprintf(&b, "Data: %s\n", compactJSON(s.ToolResults, maxContextJSON))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatPreviousExecutions(execs []history.ToolExecution) string {
	if len(execs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range execs {
		fmt.Fprintf(&b, "- %s\n  Results: %s\n", e.UseCase, compactJSON(e.Results, maxContextJSON))
	}
	return strings.TrimRight(b.String(), "\n")
}
