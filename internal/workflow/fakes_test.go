package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rahul/toolflow/internal/composio"
	"github.com/rahul/toolflow/internal/llm"
	"github.com/rahul/toolflow/internal/tools"
)

// fakeGenerator serves canned objects in order and a fixed text.
type fakeGenerator struct {
	mu        sync.Mutex
	objects   []string
	objectErr error
	text      string
	textErr   error
	prompts   []string
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
	if f.objectErr != nil {
		return f.objectErr
	}
	if len(f.objects) == 0 {
		return errors.New("no canned object")
	}
	next := f.objects[0]
	if len(f.objects) > 1 {
		f.objects = f.objects[1:]
	}
	return json.Unmarshal([]byte(next), out)
}

// fakeCaller answers tool requests through respond and records them.
type fakeCaller struct {
	mu       sync.Mutex
	requests []llm.ToolRequest
	respond  func(n int, req llm.ToolRequest) (llm.Response, error)
}

func (f *fakeCaller) GenerateWithTools(_ context.Context, req llm.ToolRequest) (llm.Response, error) {
	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(n, req)
}

// fakeAPI is an in-memory ToolAPI.
type fakeAPI struct {
	mu sync.Mutex

	search    map[string][]string
	searchErr error
	graphs    map[string]*composio.DependencyGraph
	graphErrs map[string][]error
	toolsErr  error
	plan      *composio.WorkflowPlan

	// beforeSearch runs outside the lock ahead of every search.
	beforeSearch func(useCase string) error

	searches   []string
	graphCalls map[string]int
	fetched    [][]string
	planCalls  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		search:     make(map[string][]string),
		graphs:     make(map[string]*composio.DependencyGraph),
		graphErrs:  make(map[string][]error),
		graphCalls: make(map[string]int),
	}
}

func (f *fakeAPI) SearchTools(_ context.Context, _ string, useCase string, _ []string) (*composio.SearchResult, error) {
	if f.beforeSearch != nil {
		if err := f.beforeSearch(useCase); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, useCase)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &composio.SearchResult{MainToolSlugs: f.search[useCase]}, nil
}

func (f *fakeAPI) GetToolDependencyGraph(_ context.Context, _ string, tool string) (*composio.DependencyGraph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graphCalls[tool]++
	if errs := f.graphErrs[tool]; len(errs) > 0 {
		f.graphErrs[tool] = errs[1:]
		return nil, errs[0]
	}
	if g, ok := f.graphs[tool]; ok {
		return g, nil
	}
	return &composio.DependencyGraph{ToolName: tool}, nil
}

func (f *fakeAPI) GetTools(_ context.Context, _ string, slugs []string) (tools.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, append([]string(nil), slugs...))
	if f.toolsErr != nil {
		return nil, f.toolsErr
	}
	set := tools.NewSet()
	for _, s := range slugs {
		set.Add(tools.Definition{Name: s, Description: "does " + s})
	}
	return set, nil
}

func (f *fakeAPI) CreatePlan(_ context.Context, _, _, _ string) (*composio.WorkflowPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	return f.plan, nil
}

type fakeApps struct {
	connected []string
}

func (f fakeApps) EffectiveUserID(entityID string) string { return "user-" + entityID }

func (f fakeApps) GetConnectedApps(context.Context, string) []string { return f.connected }

// barrier holds each arrival until n callers have arrived. Callers that wait
// past the timeout get an error, so work done one call at a time fails.
type barrier struct {
	n       int32
	arrived atomic.Int32
	all     chan struct{}
	timeout time.Duration
}

func newBarrier(n int) *barrier {
	return &barrier{n: int32(n), all: make(chan struct{}), timeout: 2 * time.Second}
}

func (b *barrier) wait() error {
	if b.arrived.Add(1) == b.n {
		close(b.all)
	}
	select {
	case <-b.all:
		return nil
	case <-time.After(b.timeout):
		return fmt.Errorf("only %d of %d calls overlapped", b.arrived.Load(), b.n)
	}
}

// recordingSleeper records waits without sleeping.
type recordingSleeper struct {
	waits []time.Duration
	err   error
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return r.err
}

func successResult(data map[string]any) map[string]any {
	return map[string]any{"successful": true, "data": data}
}
