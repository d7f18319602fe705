package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExtractionFailed = errors.New("workflow: no usable steps extracted")
	ErrNoToolsFound     = errors.New("workflow: no tools found")
	ErrNoConnectedApps  = errors.New("workflow: no connected toolkits")
)

// ToolkitNotConnectedError lists every extracted toolkit missing from the
// connected set.
type ToolkitNotConnectedError struct {
	Toolkits []string
}

func (e *ToolkitNotConnectedError) Error() string {
	return fmt.Sprintf("workflow: toolkits not connected: %s", strings.Join(e.Toolkits, ", "))
}

// StepExecutionError is a failed tool-calling call for one group.
type StepExecutionError struct {
	Index   int
	Toolkit string
	Err     error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("workflow: group %d (%s): %v", e.Index+1, e.Toolkit, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }
