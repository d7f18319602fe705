package workflow

import "strings"

// GroupSteps merges runs of consecutive steps for the same toolkit. Steps for
// one toolkit separated by another toolkit stay in separate groups.
func GroupSteps(steps []ExtractedStep) []ToolkitGroup {
	var groups []ToolkitGroup
	for _, s := range steps {
		if n := len(groups); n > 0 && strings.EqualFold(groups[n-1].Toolkit, s.Toolkit) {
			groups[n-1].UseCases = append(groups[n-1].UseCases, s.UseCase)
			continue
		}
		groups = append(groups, ToolkitGroup{Toolkit: s.Toolkit, UseCases: []string{s.UseCase}})
	}
	return groups
}
