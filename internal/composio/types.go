package composio

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Meta tools executed through the generic execute endpoint.
const (
	ToolSearchTools        = "COMPOSIO_SEARCH_TOOLS"
	ToolDependencyGraph    = "COMPOSIO_GET_DEPENDENCY_GRAPH"
	ToolRetrieveToolkits   = "COMPOSIO_RETRIEVE_TOOLKITS"
	ToolInitiateConnection = "COMPOSIO_INITIATE_CONNECTION"
	ToolCreatePlan         = "COMPOSIO_CREATE_PLAN"
)

// Connection statuses reported by the connected accounts API.
const (
	StatusActive    = "ACTIVE"
	StatusInitiated = "INITIATED"
	StatusFailed    = "FAILED"
)

// ExecuteResult is the envelope every tool execution returns.
type ExecuteResult struct {
	Data       json.RawMessage `json:"data"`
	Successful bool            `json:"successful"`
	Error      string          `json:"error,omitempty"`
	LogID      string          `json:"log_id,omitempty"`
}

// Payload returns the result as a generic object, the shape the model and
// the history store see.
func (r *ExecuteResult) Payload() map[string]any {
	out := map[string]any{"successful": r.Successful}
	if len(r.Data) > 0 {
		var data any
		if err := json.Unmarshal(r.Data, &data); err == nil {
			out["data"] = data
		}
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// SearchResult is the data of COMPOSIO_SEARCH_TOOLS.
type SearchResult struct {
	MainToolSlugs []string      `json:"main_tool_slugs"`
	Results       []SearchMatch `json:"results"`
	Reasoning     string        `json:"reasoning,omitempty"`
	TimeInfo      *TimeInfo     `json:"time_info,omitempty"`
}

type SearchMatch struct {
	Tool        string `json:"tool"`
	ToolSlug    string `json:"tool_slug,omitempty"`
	Toolkit     string `json:"toolkit,omitempty"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order,omitempty"`
}

type TimeInfo struct {
	CurrentTime  string `json:"current_time"`
	EpochSeconds int64  `json:"current_time_epoch_in_seconds"`
}

// ToolIDs returns the ranked primary tool identifiers of a search.
func (s *SearchResult) ToolIDs() []string {
	if len(s.MainToolSlugs) > 0 {
		return s.MainToolSlugs
	}
	var ids []string
	for _, m := range s.Results {
		id := m.ToolSlug
		if id == "" {
			id = m.Tool
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// DependencyTool is a prerequisite tool that supplies missing inputs.
type DependencyTool struct {
	ToolName    string `json:"tool_name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Reason      string `json:"reason"`
}

type DependencyGraph struct {
	ToolName    string           `json:"tool_name"`
	ParentTools []DependencyTool `json:"parent_tools"`
}

type WorkflowStep struct {
	StepID         string   `json:"step_id"`
	Name           string   `json:"name"`
	Intent         string   `json:"intent"`
	Tool           string   `json:"tool"`
	Dependencies   []string `json:"dependencies"`
	Parallelizable bool     `json:"parallelizable"`
}

type WorkflowPlan struct {
	Steps                []WorkflowStep `json:"workflow_steps"`
	EdgeCaseHandling     []string       `json:"edge_case_handling,omitempty"`
	CriticalInstructions string         `json:"critical_instructions,omitempty"`
}

// Connection is a connected account.
type Connection struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Toolkit struct {
		Slug string `json:"slug"`
	} `json:"toolkit"`
}

// ConnectionRequest is the response data of COMPOSIO_INITIATE_CONNECTION.
type ConnectionRequest struct {
	ConnectionID string `json:"connection_id"`
	Instruction  string `json:"instruction"`
	Message      string `json:"message"`
	RedirectURL  string `json:"redirect_url"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

type ListConnectionsParams struct {
	UserIDs      []string
	ToolkitSlugs []string
	Statuses     []string
}

// APIError is a non-2xx response or an unsuccessful meta tool execution.
type APIError struct {
	StatusCode int
	Tool       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("composio %s: status %d: %s", e.Tool, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("composio: status %d: %s", e.StatusCode, e.Message)
}

// IsServerError reports whether the error is server class and worth a retry.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 || strings.Contains(e.Message, "500")
}
