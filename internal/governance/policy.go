package governance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request names the toolkit, and optionally the tool, being acted on.
type Request struct {
	Toolkit string
	Tool    string
	ChatID  string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

func (r Result) Allowed() bool { return r.Effect == EffectAllow }

// PolicyEngine evaluates toolkit access against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// ToolkitPolicy allows every toolkit unless an allow-list is set, then
// applies explicit denials on top.
type ToolkitPolicy struct {
	mu          sync.RWMutex
	allowed     map[string]bool
	denied      map[string]bool
	deniedTools []*regexp.Regexp
}

func NewToolkitPolicy() *ToolkitPolicy {
	return &ToolkitPolicy{denied: make(map[string]bool)}
}

// NewPolicy builds a policy from an allow-list, denied toolkits and denied
// tool patterns. An invalid pattern is an error.
func NewPolicy(allowed, deniedToolkits, deniedTools []string) (*ToolkitPolicy, error) {
	p := NewToolkitPolicy()
	p.AllowOnly(allowed)
	for _, t := range deniedToolkits {
		if t = strings.TrimSpace(t); t != "" {
			p.DenyToolkit(t)
		}
	}
	for _, pattern := range deniedTools {
		if err := p.DenyTools(pattern); err != nil {
			return nil, fmt.Errorf("denied tool pattern %q: %w", pattern, err)
		}
	}
	return p, nil
}

// AllowOnly restricts access to the listed toolkits. An empty list lifts the
// restriction.
func (p *ToolkitPolicy) AllowOnly(toolkits []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(toolkits) == 0 {
		p.allowed = nil
		return
	}
	p.allowed = make(map[string]bool, len(toolkits))
	for _, t := range toolkits {
		p.allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
}

// Allowed returns the allow-list, or nil when every toolkit is allowed.
func (p *ToolkitPolicy) Allowed() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.allowed == nil {
		return nil
	}
	out := make([]string, 0, len(p.allowed))
	for t := range p.allowed {
		out = append(out, t)
	}
	return out
}

func (p *ToolkitPolicy) DenyToolkit(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied[strings.ToLower(name)] = true
}

// DenyTools blocks tool slugs matching pattern.
func (p *ToolkitPolicy) DenyTools(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deniedTools = append(p.deniedTools, re)
	return nil
}

func (p *ToolkitPolicy) Evaluate(ctx context.Context, req Request) (Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	toolkit := strings.ToLower(req.Toolkit)
	if p.denied[toolkit] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Toolkit '%s' is restricted by system policy", req.Toolkit),
		}, nil
	}
	if p.allowed != nil && !p.allowed[toolkit] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Toolkit '%s' is not in the allowed list", req.Toolkit),
		}, nil
	}

	for _, re := range p.deniedTools {
		if req.Tool != "" && re.MatchString(req.Tool) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Tool matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

// ToolkitOf derives the toolkit from a tool slug such as SLACK_SEND_MESSAGE.
func ToolkitOf(tool string) string {
	if i := strings.IndexByte(tool, '_'); i > 0 {
		return strings.ToLower(tool[:i])
	}
	return strings.ToLower(tool)
}
