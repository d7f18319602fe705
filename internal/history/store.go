// Package history keeps a bounded record of past successful tool results per
// entity and toolkit, used as context for later workflow steps.
package history

import (
	"sync"
	"time"
)

// DefaultLimit is the number of executions kept per (entity, toolkit).
const DefaultLimit = 5

// ToolResult is one tool call outcome inside an execution.
type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

// ToolExecution is an immutable record of one group completion.
type ToolExecution struct {
	Timestamp time.Time    `json:"timestamp"`
	UseCase   string       `json:"use_case"`
	EntityID  string       `json:"entity_id"`
	Results   []ToolResult `json:"results"`
}

// Record is a flattened execution with its toolkit, used for snapshots.
type Record struct {
	Toolkit   string        `json:"toolkit"`
	Execution ToolExecution `json:"execution"`
}

type key struct {
	entity  string
	toolkit string
}

// Store is safe for concurrent use. One mutex guards the whole map.
type Store struct {
	mu    sync.Mutex
	limit int
	now   func() time.Time

	executions map[key][]ToolExecution
	order      []key
}

func NewStore() *Store {
	return NewStoreWithLimit(DefaultLimit)
}

func NewStoreWithLimit(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		limit:      limit,
		now:        time.Now,
		executions: make(map[key][]ToolExecution),
	}
}

// StoreExecution appends a timestamped execution and evicts the oldest one
// once the per-key limit is exceeded. Eviction follows storage order only.
func (s *Store) StoreExecution(entityID, toolkit, useCase string, results []ToolResult) {
	rec := ToolExecution{
		UseCase:  useCase,
		EntityID: entityID,
		Results:  cloneResults(results),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Timestamp = s.now()
	s.appendLocked(key{entityID, toolkit}, rec)
}

func (s *Store) appendLocked(k key, rec ToolExecution) {
	list, ok := s.executions[k]
	if !ok {
		s.order = append(s.order, k)
	}
	list = append(list, rec)
	if len(list) > s.limit {
		list = append([]ToolExecution(nil), list[len(list)-s.limit:]...)
	}
	s.executions[k] = list
}

// ToolkitExecutions returns copies of the stored executions for the key with
// unsuccessful results removed. Executions left with no results are dropped.
func (s *Store) ToolkitExecutions(entityID, toolkit string) []ToolExecution {
	s.mu.Lock()
	list := s.executions[key{entityID, toolkit}]
	list = append([]ToolExecution(nil), list...)
	s.mu.Unlock()

	var out []ToolExecution
	for _, exec := range list {
		var kept []ToolResult
		for _, r := range exec.Results {
			if ResultSucceeded(r.Result) {
				kept = append(kept, ToolResult{Tool: r.Tool, Result: cloneValue(r.Result)})
			}
		}
		if len(kept) == 0 {
			continue
		}
		exec.Results = kept
		out = append(out, exec)
	}
	return out
}

// Recent returns, per toolkit, the last n successful executions of an entity.
func (s *Store) Recent(entityID string, n int) map[string][]ToolExecution {
	s.mu.Lock()
	var toolkits []string
	for _, k := range s.order {
		if k.entity == entityID {
			toolkits = append(toolkits, k.toolkit)
		}
	}
	s.mu.Unlock()

	out := make(map[string][]ToolExecution)
	for _, tk := range toolkits {
		execs := s.ToolkitExecutions(entityID, tk)
		if len(execs) == 0 {
			continue
		}
		if n > 0 && len(execs) > n {
			execs = execs[len(execs)-n:]
		}
		out[tk] = execs
	}
	return out
}

func (s *Store) ClearToolkit(entityID, toolkit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{entityID, toolkit}
	delete(s.executions, k)
	for i, o := range s.order {
		if o == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = make(map[key][]ToolExecution)
	s.order = nil
}

// Snapshot flattens every stored execution, oldest first per key.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, k := range s.order {
		for _, exec := range s.executions[k] {
			exec.Results = cloneResults(exec.Results)
			out = append(out, Record{Toolkit: k.toolkit, Execution: exec})
		}
	}
	return out
}

// Restore replaces the store contents with records, keeping their timestamps.
// The per-key limit still applies.
func (s *Store) Restore(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = make(map[key][]ToolExecution)
	s.order = nil
	for _, r := range records {
		exec := r.Execution
		exec.Results = cloneResults(exec.Results)
		s.appendLocked(key{exec.EntityID, r.Toolkit}, exec)
	}
}

// cloneResults copies results deeply so stored executions share no maps or
// slices with callers.
func cloneResults(results []ToolResult) []ToolResult {
	if results == nil {
		return nil
	}
	out := make([]ToolResult, len(results))
	for i, r := range results {
		out[i] = ToolResult{Tool: r.Tool, Result: cloneValue(r.Result)}
	}
	return out
}

// cloneValue deep-copies decoded JSON values. Other values are returned as is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		if t == nil {
			return t
		}
		list := make([]any, len(t))
		for i, val := range t {
			list[i] = cloneValue(val)
		}
		return list
	case []map[string]any:
		if t == nil {
			return t
		}
		list := make([]map[string]any, len(t))
		for i, val := range t {
			list[i], _ = cloneValue(val).(map[string]any)
		}
		return list
	default:
		return v
	}
}

// ResultSucceeded reports whether a stored result payload still counts as a
// success: a non-nil object whose "successful" field, when present, is true.
func ResultSucceeded(result any) bool {
	m, ok := result.(map[string]any)
	if !ok || m == nil {
		return false
	}
	v, has := m["successful"]
	if !has {
		return true
	}
	b, ok := v.(bool)
	return ok && b
}
