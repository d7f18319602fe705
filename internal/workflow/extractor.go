package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/toolflow/internal/llm"
)

type extraction struct {
	Toolkits  []ExtractedStep `json:"toolkits"`
	Reasoning string          `json:"reasoning"`
}

// Extractor asks the model for the ordered steps of a request and validates
// them against the connected toolkits.
type Extractor struct {
	gen         llm.Generator
	temperature float64
}

func NewExtractor(gen llm.Generator, temperature float64) *Extractor {
	return &Extractor{gen: gen, temperature: temperature}
}

// Extract returns the steps in the order the model gave them. Toolkit names
// are replaced by their connected spelling.
func (e *Extractor) Extract(ctx context.Context, connected []string, conversationContext, request string) ([]ExtractedStep, error) {
	if len(connected) == 0 {
		return nil, ErrNoConnectedApps
	}

	var out extraction
	err := e.gen.GenerateObject(ctx, extractionPrompt(connected, conversationContext, request), &out,
		llm.WithTemperature(e.temperature),
		llm.WithSchema(extractionSchema),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if len(out.Toolkits) == 0 {
		return nil, ErrExtractionFailed
	}

	canonical := make(map[string]string, len(connected))
	for _, c := range connected {
		canonical[strings.ToLower(c)] = c
	}

	steps := make([]ExtractedStep, 0, len(out.Toolkits))
	var missing []string
	reported := make(map[string]bool)
	for _, s := range out.Toolkits {
		name, useCase := strings.TrimSpace(s.Toolkit), strings.TrimSpace(s.UseCase)
		if name == "" || useCase == "" {
			return nil, fmt.Errorf("%w: step %+v is incomplete", ErrExtractionFailed, s)
		}
		lower := strings.ToLower(name)
		c, ok := canonical[lower]
		if !ok {
			if !reported[lower] {
				reported[lower] = true
				missing = append(missing, name)
			}
			continue
		}
		steps = append(steps, ExtractedStep{Toolkit: c, UseCase: useCase})
	}
	if len(missing) > 0 {
		return nil, &ToolkitNotConnectedError{Toolkits: missing}
	}

	log.Printf("[Workflow] Extracted %d steps: %s", len(steps), out.Reasoning)
	return steps, nil
}
