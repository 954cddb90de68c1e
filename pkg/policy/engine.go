package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/flowforge-io/flowforge/pkg/engine"
)

// Engine evaluates Rego policies against lifecycle operations. It satisfies
// the dispatcher's Guard interface: destructive operations are checked
// before any remote call is issued.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	builtin  []Policy
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the builtin policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		builtin:  BuiltinPolicies(),
	}

	if err := e.loadBuiltin(context.Background()); err != nil {
		return nil, fmt.Errorf("load builtin policies: %w", err)
	}
	return e, nil
}

// Allow implements the dispatcher Guard. It evaluates every enabled policy
// against the operation and returns a POLICY_DENIED error when any policy
// denies it.
func (e *Engine) Allow(ctx context.Context, op engine.Operation, record *engine.Record) error {
	input := GuardInput{
		Operation: string(op),
		Record: GuardRecord{
			Kind:        string(record.Kind),
			Name:        record.Name,
			ExternalID:  record.ExternalID,
			Annotations: record.Annotations,
		},
	}

	violations, err := e.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}

	messages := make([]string, len(violations))
	for i, v := range violations {
		messages[i] = fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}
	pe := engine.NewUnsupportedError(
		fmt.Sprintf("operation denied by policy: %s", strings.Join(messages, "; ")), nil)
	pe.Code = engine.ErrCodePolicyDenied
	return pe
}

// Evaluate runs all enabled policies against the input and collects denials.
func (e *Engine) Evaluate(ctx context.Context, input GuardInput) ([]Violation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []Violation
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		results, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("evaluate policy %s: %w", cp.policy.Name, err)
		}

		for _, result := range results {
			for _, expr := range result.Expressions {
				denials, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, d := range denials {
					violations = append(violations, asViolation(cp.policy.Name, d))
				}
			}
		}
	}

	return violations, nil
}

// asViolation normalizes a deny result into a Violation. Policies may emit
// plain strings or objects with a message key.
func asViolation(policyName string, result interface{}) Violation {
	v := Violation{Policy: policyName}
	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// LoadPolicies loads and compiles policies from the given file or directory
// paths, adding them alongside the builtin set.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.compile(ctx, &policies[i]); err != nil {
			return fmt.Errorf("compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// ReplacePolicies swaps in a freshly loaded policy set, keeping the builtin
// policies. Used by the file watcher reload path.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	if err := e.compileBuiltinLocked(ctx); err != nil {
		return err
	}
	for i := range policies {
		if err := e.compile(ctx, &policies[i]); err != nil {
			return fmt.Errorf("compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// SetEnabled toggles a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// compile parses and prepares a policy's deny query. Caller holds e.mu.
func (e *Engine) compile(ctx context.Context, policy *Policy) error {
	if _, err := ast.ParseModule(policy.Name, policy.Rego); err != nil {
		return fmt.Errorf("parse policy: %w", err)
	}

	query := fmt.Sprintf("data.%s.deny", packageName(policy.Rego))
	prepared, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    prepared,
		compiled: time.Now(),
	}

	e.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled")
	return nil
}

func (e *Engine) loadBuiltin(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileBuiltinLocked(ctx)
}

func (e *Engine) compileBuiltinLocked(ctx context.Context) error {
	for i := range e.builtin {
		if err := e.compile(ctx, &e.builtin[i]); err != nil {
			return fmt.Errorf("compile builtin policy %s: %w", e.builtin[i].Name, err)
		}
	}
	return nil
}

// packageName extracts the package declaration from Rego source.
func packageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "flowforge.guard"
}
