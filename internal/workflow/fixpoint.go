package workflow

import (
	"context"
	"log"
	"strings"

	"github.com/rahul/toolflow/internal/llm"
	"github.com/rahul/toolflow/internal/tools"
)

// DefaultMaxDependencyRounds caps the fixpoint loop.
const DefaultMaxDependencyRounds = 5

// DependencyAnalysis says whether held tools still need lookups.
type DependencyAnalysis struct {
	HasDependencies bool   `json:"hasDependencies"`
	UseCase         string `json:"useCase"`
}

// Analyzer inspects the held tools for inputs nothing supplies yet.
type Analyzer interface {
	Analyze(ctx context.Context, inv Invocation, held tools.Set) (DependencyAnalysis, error)
}

// UseCaseFetcher returns the tools matching one use case within a toolkit.
type UseCaseFetcher func(ctx context.Context, userID, toolkit, useCase string) (tools.Set, error)

// FixpointResolver grows a tool set until the analysis is satisfied, a round
// adds nothing, or the round cap is hit.
type FixpointResolver struct {
	analyzer  Analyzer
	fetch     UseCaseFetcher
	maxRounds int
}

func NewFixpointResolver(analyzer Analyzer, fetch UseCaseFetcher, maxRounds int) *FixpointResolver {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxDependencyRounds
	}
	return &FixpointResolver{analyzer: analyzer, fetch: fetch, maxRounds: maxRounds}
}

// Resolve returns the grown set and the number of rounds run. initial is not
// modified.
func (r *FixpointResolver) Resolve(ctx context.Context, inv Invocation, toolkit string, initial tools.Set) (tools.Set, int) {
	held := tools.NewSet()
	held.Merge(initial)

	rounds := 0
	for rounds < r.maxRounds {
		rounds++
		analysis, err := r.analyzer.Analyze(ctx, inv, held)
		if err != nil {
			log.Printf("[Workflow] Dependency analysis failed for %s: %v", toolkit, err)
			break
		}
		useCase := strings.TrimSpace(analysis.UseCase)
		if !analysis.HasDependencies || useCase == "" {
			break
		}
		fetched, err := r.fetch(ctx, inv.UserID, toolkit, useCase)
		if err != nil {
			log.Printf("[Workflow] Dependency fetch %q failed for %s: %v", useCase, toolkit, err)
			break
		}
		if held.Merge(fetched) == 0 {
			log.Printf("[Workflow] Dependency round %d for %s added no tools, stopping", rounds, toolkit)
			break
		}
	}
	return held, rounds
}

// LLMAnalyzer runs the dependency analysis on a model.
type LLMAnalyzer struct {
	gen         llm.Generator
	temperature float64
}

func NewLLMAnalyzer(gen llm.Generator, temperature float64) *LLMAnalyzer {
	return &LLMAnalyzer{gen: gen, temperature: temperature}
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, inv Invocation, held tools.Set) (DependencyAnalysis, error) {
	var out DependencyAnalysis
	err := a.gen.GenerateObject(ctx, dependencyAnalysisPrompt(inv, held), &out,
		llm.WithTemperature(a.temperature),
		llm.WithSchema(dependencyAnalysisSchema),
	)
	return out, err
}
