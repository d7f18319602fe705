package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/toolflow/internal/composio"
	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/observability"
	"github.com/rahul/toolflow/internal/tools"
	"golang.org/x/sync/errgroup"
)

// ToolAPI is the part of the remote tool API a preparation needs.
type ToolAPI interface {
	SearchTools(ctx context.Context, userID, useCase string, toolkits []string) (*composio.SearchResult, error)
	GetToolDependencyGraph(ctx context.Context, userID, tool string) (*composio.DependencyGraph, error)
	GetTools(ctx context.Context, userID string, slugs []string) (tools.Set, error)
	CreatePlan(ctx context.Context, userID, useCase, toolkit string) (*composio.WorkflowPlan, error)
}

// Preparer builds a PreparedGroup from a ToolkitGroup.
type Preparer struct {
	api      ToolAPI
	history  *history.Store
	logger   *observability.Logger
	sleep    Sleeper
	fixpoint *FixpointResolver

	// CreatePlans asks the API for an execution plan per group.
	CreatePlans bool
}

func NewPreparer(api ToolAPI, store *history.Store, logger *observability.Logger) *Preparer {
	return &Preparer{api: api, history: store, logger: logger, sleep: sleepContext}
}

// WithSleeper replaces the backoff wait, for tests.
func (p *Preparer) WithSleeper(s Sleeper) *Preparer {
	p.sleep = s
	return p
}

// WithFixpoint enables iterative dependency resolution after the graph pass.
func (p *Preparer) WithFixpoint(f *FixpointResolver) *Preparer {
	p.fixpoint = f
	return p
}

func (p *Preparer) Prepare(ctx context.Context, inv Invocation, g ToolkitGroup) (*PreparedGroup, error) {
	primaries, err := p.searchPrimaries(ctx, inv.UserID, g)
	if err != nil {
		return nil, err
	}

	graphs := make([]*composio.DependencyGraph, len(primaries))
	var eg errgroup.Group
	for i, tool := range primaries {
		eg.Go(func() error {
			graphs[i] = fetchDependencyGraph(ctx, p.api, p.sleep, inv.UserID, tool)
			return nil
		})
	}
	_ = eg.Wait()

	prepared := &PreparedGroup{ToolkitGroup: g}
	ids := append([]string(nil), primaries...)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, graph := range graphs {
		if graph == nil {
			continue
		}
		prepared.DependencyGraphs = append(prepared.DependencyGraphs, *graph)
		for _, parent := range graph.ParentTools {
			if parent.ToolName != "" && !seen[parent.ToolName] {
				seen[parent.ToolName] = true
				ids = append(ids, parent.ToolName)
			}
		}
	}
	p.logger.Log(observability.Event{
		Type:   observability.EventTypeDependency,
		ChatID: inv.EntityID,
		TaskID: inv.TaskID,
		Data:   map[string]any{"toolkit": g.Toolkit, "primary": primaries, "graphs": len(prepared.DependencyGraphs), "tools": ids},
	})

	var fetch errgroup.Group
	fetch.Go(func() error {
		set, err := p.api.GetTools(ctx, inv.UserID, ids)
		if err != nil {
			log.Printf("[Workflow] Failed to fetch tool definitions for %s: %v", g.Toolkit, err)
			set = nil
		}
		if len(set) == 0 {
			set = bareTools(ids, g.Toolkit)
		}
		prepared.Tools = set
		return nil
	})
	if p.CreatePlans {
		fetch.Go(func() error {
			plan, err := p.api.CreatePlan(ctx, inv.UserID, joinUseCases(g.UseCases), g.Toolkit)
			if err != nil {
				log.Printf("[Workflow] Plan unavailable for %s: %v", g.Toolkit, err)
				return nil
			}
			prepared.Plan = plan
			return nil
		})
	}
	_ = fetch.Wait()

	if p.fixpoint != nil {
		held, rounds := p.fixpoint.Resolve(ctx, inv, g.Toolkit, prepared.Tools)
		log.Printf("[Workflow] Dependency fixpoint for %s: %d round(s), %d tools", g.Toolkit, rounds, len(held))
		prepared.Tools = held
	}

	if p.history != nil {
		prepared.PreviousExecutions = p.history.ToolkitExecutions(inv.EntityID, g.Toolkit)
	}
	return prepared, nil
}

// searchPrimaries runs one search per use case and returns the deduplicated
// primary tool ids in search order.
func (p *Preparer) searchPrimaries(ctx context.Context, userID string, g ToolkitGroup) ([]string, error) {
	found := make([][]string, len(g.UseCases))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, uc := range g.UseCases {
		eg.Go(func() error {
			ids, err := p.searchUseCase(egCtx, userID, g.Toolkit, uc)
			if err != nil {
				return fmt.Errorf("search %q in %s: %w", uc, g.Toolkit, err)
			}
			if len(ids) == 0 {
				return fmt.Errorf("%w for %q in %s", ErrNoToolsFound, uc, g.Toolkit)
			}
			found[i] = ids
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var primaries []string
	seen := make(map[string]bool)
	for _, ids := range found {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				primaries = append(primaries, id)
			}
		}
	}
	return primaries, nil
}

func (p *Preparer) searchUseCase(ctx context.Context, userID, toolkit, useCase string) ([]string, error) {
	res, err := p.api.SearchTools(ctx, userID, useCase, []string{toolkit})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.ToolIDs(), nil
}

// FetchUseCaseTools searches one use case and fetches the matching
// definitions. No match is an empty set.
func (p *Preparer) FetchUseCaseTools(ctx context.Context, userID, toolkit, useCase string) (tools.Set, error) {
	ids, err := p.searchUseCase(ctx, userID, toolkit, useCase)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return tools.NewSet(), nil
	}
	return p.api.GetTools(ctx, userID, ids)
}

// bareTools offers tools by id alone when definitions could not be fetched.
func bareTools(ids []string, toolkit string) tools.Set {
	set := tools.NewSet()
	for _, id := range ids {
		set.Add(tools.Definition{Name: id, Toolkit: toolkit})
	}
	return set
}

func joinUseCases(useCases []string) string {
	return strings.Join(useCases, ", then ")
}
