package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine holds the export policies, each compiled once into a prepared
// query for its package's deny set.
type Engine struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	policies map[string]*prepared
}

type prepared struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine returns an engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		policies: map[string]*prepared{},
	}
	for _, p := range GetBuiltinPolicies() {
		p := p
		if err := e.add(context.Background(), &p); err != nil {
			return nil, fmt.Errorf("built-in policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// add parses p and prepares data.<package>.deny. It replaces any policy of
// the same name. Callers other than NewEngine hold e.mu.
func (e *Engine) add(ctx context.Context, p *Policy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	query := module.Package.Path.String() + ".deny"

	pq, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", query, err)
	}

	e.policies[p.Name] = &prepared{policy: p, query: pq}
	e.logger.Debug().Str("policy", p.Name).Str("query", query).Msg("Policy compiled")
	return nil
}

// LoadPolicies adds the policies found under paths. A policy named like an
// existing one replaces it; the first one that fails to compile aborts the
// load.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.add(ctx, &policies[i]); err != nil {
			return fmt.Errorf("policy %s (%s): %w", policies[i].Name, policies[i].Source, err)
		}
	}
	e.logger.Info().Int("count", len(policies)).Strs("paths", paths).Msg("Loaded export policies")
	return nil
}

// EvaluateExport runs every enabled policy against one export request, in
// name order. A policy that fails to evaluate is reported as a warning
// rather than a violation.
func (e *Engine) EvaluateExport(ctx context.Context, input *Input) (*Result, error) {
	if input == nil || input.Export == nil {
		return nil, errors.New("export input is required")
	}
	if input.Context == nil {
		input.Context = &Context{}
	}
	if input.Context.Timestamp.IsZero() {
		input.Context.Timestamp = time.Now().UTC()
	}

	start := time.Now()
	res := &Result{Allowed: true}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, name := range e.names() {
		pp := e.policies[name]
		if !pp.policy.Enabled {
			continue
		}
		res.EvaluatedPolicies = append(res.EvaluatedPolicies, name)

		rs, err := pp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Str("target", input.Export.Target).Msg("Policy evaluation failed")
			res.Warnings = append(res.Warnings, fmt.Sprintf("policy %s could not be evaluated: %v", name, err))
			continue
		}
		for _, v := range denials(pp.policy, rs, input.Export.Target) {
			if v.Severity.Blocking() {
				res.Allowed = false
			}
			res.Violations = append(res.Violations, v)
		}
	}

	res.EvaluatedAt = time.Now()
	res.Duration = res.EvaluatedAt.Sub(start)
	e.logger.Debug().
		Str("product", input.Export.Product).
		Str("destination", input.Export.Destination).
		Int("violations", len(res.Violations)).
		Bool("allowed", res.Allowed).
		Dur("duration", res.Duration).
		Msg("Evaluated export policies")
	return res, nil
}

// denials turns the deny set of one policy into violations. A deny entry
// is either a message string or an object with message and optional
// severity and resource overrides.
func denials(p *Policy, rs rego.ResultSet, target string) []Violation {
	var out []Violation
	for _, r := range rs {
		if len(r.Expressions) == 0 {
			continue
		}
		set, ok := r.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range set {
			v := Violation{Policy: p.Name, Severity: p.Severity, Resource: target}
			switch d := d.(type) {
			case string:
				v.Message = d
			case map[string]interface{}:
				if s, ok := d["message"].(string); ok {
					v.Message = s
				}
				if s, ok := d["severity"].(string); ok {
					v.Severity = Severity(s)
				}
				if s, ok := d["resource"].(string); ok {
					v.Resource = s
				}
			default:
				v.Message = fmt.Sprint(d)
			}
			out = append(out, v)
		}
	}
	return out
}

func (e *Engine) names() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q", name)
	}
	return pp.policy, nil
}

// ListPolicies returns copies of every policy, sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.names() {
		out = append(out, *e.policies[name].policy)
	}
	return out
}

func (e *Engine) EnablePolicy(name string) error  { return e.setEnabled(name, true) }
func (e *Engine) DisablePolicy(name string) error { return e.setEnabled(name, false) }

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	pp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("unknown policy %q", name)
	}
	pp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
