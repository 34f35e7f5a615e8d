package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

// ConstraintChecker evaluates the optional CEL expression on a hard
// constraint (SPEC_FULL.md §3) against an action invocation's
// parameters. This is deliberately narrower than the policy condition
// language above: it answers one yes/no question about a single
// invocation, not a rule-composition question about the whole
// resolution.
type ConstraintChecker struct {
	env *cel.Env
}

// NewConstraintChecker builds a checker whose CEL environment exposes
// `params` (the action invocation parameters), `risk_tier`, and
// `action_type` as variables.
func NewConstraintChecker() (*ConstraintChecker, error) {
	env, err := cel.NewEnv(
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("risk_tier", cel.StringType),
		cel.Variable("action_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build CEL env: %w", err)
	}
	return &ConstraintChecker{env: env}, nil
}

// Check evaluates every hard constraint carrying a CELExpression
// against the given invocation. It returns the first violated
// constraint's name, or "" if all hard constraints are satisfied.
// Constraints without a CELExpression are not checked here (they are
// documentation-only, or enforced elsewhere e.g. parameter schema).
func (c *ConstraintChecker) Check(constraints []carp.Constraint, params map[string]interface{}, riskTier, actionType string) (violated string, err error) {
	input := map[string]interface{}{
		"params":      params,
		"risk_tier":   riskTier,
		"action_type": actionType,
	}

	for _, constraint := range constraints {
		if constraint.Kind != carp.ConstraintHard || constraint.CELExpression == "" {
			continue
		}

		ast, issues := c.env.Compile(constraint.CELExpression)
		if issues != nil && issues.Err() != nil {
			return constraint.Name, fmt.Errorf("policy: compile constraint %q: %w", constraint.Name, issues.Err())
		}
		program, err := c.env.Program(ast)
		if err != nil {
			return constraint.Name, fmt.Errorf("policy: build program for constraint %q: %w", constraint.Name, err)
		}

		out, _, err := program.Eval(input)
		if err != nil {
			// A runtime CEL error (e.g. missing field) is treated as a
			// violation: fail-closed, matching the PDP contract this
			// pattern is grounded on.
			return constraint.Name, nil
		}

		satisfied, ok := out.Value().(bool)
		if !ok || !satisfied {
			return constraint.Name, nil
		}
	}

	return "", nil
}
