// Package composio is a thin client for the Composio tool-execution API.
package composio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rahul/toolflow/internal/tools"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://backend.composio.dev"

type Options struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client talks to the remote API. Every request waits on a shared limiter.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Client{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, opts.Burst),
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ExecuteTool runs any tool, including the meta tools, for a user.
func (c *Client) ExecuteTool(ctx context.Context, userID, slug string, args map[string]any) (*ExecuteResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	body := map[string]any{
		"user_id":   userID,
		"arguments": args,
	}
	var res ExecuteResult
	if err := c.do(ctx, http.MethodPost, "/api/v3/tools/execute/"+url.PathEscape(slug), nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Execute runs a model issued tool call with raw JSON arguments and returns
// the generic payload.
func (c *Client) Execute(ctx context.Context, userID, slug, arguments string) (any, error) {
	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", slug, err)
		}
	}
	res, err := c.ExecuteTool(ctx, userID, slug, args)
	if err != nil {
		return nil, err
	}
	return res.Payload(), nil
}

func (c *Client) executeMeta(ctx context.Context, userID, tool string, args map[string]any, out any) error {
	res, err := c.ExecuteTool(ctx, userID, tool, args)
	if err != nil {
		return err
	}
	if !res.Successful {
		return &APIError{StatusCode: http.StatusOK, Tool: tool, Message: res.Error}
	}
	if out == nil || len(res.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", tool, err)
	}
	return nil
}

func (c *Client) SearchTools(ctx context.Context, userID, useCase string, toolkits []string) (*SearchResult, error) {
	var out SearchResult
	err := c.executeMeta(ctx, userID, ToolSearchTools, map[string]any{
		"use_case": useCase,
		"toolkits": toolkits,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetToolDependencyGraph makes a single attempt; retries are the caller's.
func (c *Client) GetToolDependencyGraph(ctx context.Context, userID, tool string) (*DependencyGraph, error) {
	var out DependencyGraph
	err := c.executeMeta(ctx, userID, ToolDependencyGraph, map[string]any{"tool_name": tool}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RetrieveToolkits(ctx context.Context, userID, category string) ([]string, error) {
	var out struct {
		Apps []string `json:"apps"`
	}
	if err := c.executeMeta(ctx, userID, ToolRetrieveToolkits, map[string]any{"category": category}, &out); err != nil {
		return nil, err
	}
	return out.Apps, nil
}

func (c *Client) InitiateConnection(ctx context.Context, userID, toolkit string) (*ConnectionRequest, error) {
	var out struct {
		ResponseData *ConnectionRequest `json:"response_data"`
	}
	err := c.executeMeta(ctx, userID, ToolInitiateConnection, map[string]any{"toolkit": strings.ToLower(toolkit)}, &out)
	if err != nil {
		return nil, err
	}
	if out.ResponseData == nil {
		return nil, &APIError{StatusCode: http.StatusOK, Tool: ToolInitiateConnection, Message: "missing response_data"}
	}
	return out.ResponseData, nil
}

func (c *Client) CreatePlan(ctx context.Context, userID, useCase, toolkit string) (*WorkflowPlan, error) {
	var out struct {
		WorkflowInstructions struct {
			Plan *WorkflowPlan `json:"plan"`
		} `json:"workflow_instructions"`
	}
	err := c.executeMeta(ctx, userID, ToolCreatePlan, map[string]any{
		"use_case": useCase,
		"toolkits": []string{toolkit},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.WorkflowInstructions.Plan, nil
}

type toolItem struct {
	Slug            string         `json:"slug"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	InputParameters map[string]any `json:"input_parameters"`
	Toolkit         struct {
		Slug string `json:"slug"`
	} `json:"toolkit"`
}

// GetTools fetches full definitions for slugs in one request.
func (c *Client) GetTools(ctx context.Context, userID string, slugs []string) (tools.Set, error) {
	set := tools.NewSet()
	if len(slugs) == 0 {
		return set, nil
	}
	q := url.Values{}
	q.Set("tool_slugs", strings.Join(slugs, ","))
	q.Set("limit", fmt.Sprint(len(slugs)))
	if userID != "" {
		q.Set("user_id", userID)
	}

	var out struct {
		Items []toolItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/tools", q, nil, &out); err != nil {
		return nil, err
	}
	for _, it := range out.Items {
		desc := it.Description
		if desc == "" {
			desc = it.Name
		}
		set.Add(tools.Definition{
			Name:        it.Slug,
			Description: desc,
			Toolkit:     it.Toolkit.Slug,
			Parameters:  it.InputParameters,
		})
	}
	return set, nil
}

func (c *Client) ListConnections(ctx context.Context, p ListConnectionsParams) ([]Connection, error) {
	q := url.Values{}
	for _, id := range p.UserIDs {
		q.Add("user_ids", id)
	}
	for _, tk := range p.ToolkitSlugs {
		q.Add("toolkit_slugs", strings.ToLower(tk))
	}
	for _, st := range p.Statuses {
		q.Add("statuses", st)
	}
	var out struct {
		Items []Connection `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/connected_accounts", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) DeleteConnection(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v3/connected_accounts/"+url.PathEscape(id), nil, nil, nil)
}
