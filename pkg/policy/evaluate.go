package policy

import (
	"github.com/Mindburn-Labs/atlas-runtime/pkg/atlas"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

// Result is the outcome of evaluating every policy within one atlas
// against an EvalContext.
type Result struct {
	Allowed          bool
	RequiresApproval bool
	MatchedRules     []carp.PolicyApplication
	Redactions       []string
}

// EvaluateAtlas evaluates every policy's rules against ctx, composing
// effects per §4.1: any deny flips Allowed false; any require_approval
// sets RequiresApproval true; redact appends to Redactions;
// allow/constrain are informational. Multiple rules may match; all
// matches are recorded in order, highest priority first within each
// policy, policies themselves evaluated in manifest order.
func EvaluateAtlas(policies []atlas.Policy, atlasRef string, ctx EvalContext, eval *Evaluator) Result {
	result := Result{Allowed: true}

	for _, pol := range policies {
		for _, rule := range SortRulesByPriority(pol.Rules) {
			if !eval.Evaluate(rule.Condition, ctx) {
				continue
			}

			result.MatchedRules = append(result.MatchedRules, carp.PolicyApplication{
				RuleID:    rule.ID,
				PolicyRef: atlasRef,
				Effect:    string(rule.Effect),
				Message:   rule.Message,
			})

			switch rule.Effect {
			case atlas.EffectDeny:
				result.Allowed = false
			case atlas.EffectRequireApproval:
				result.RequiresApproval = true
			case atlas.EffectRedact:
				result.Redactions = append(result.Redactions, rule.ID)
			case atlas.EffectAllow, atlas.EffectConstrain:
				// informational only
			}
		}
	}

	return result
}

// Merge combines a per-atlas Result into an aggregate across every
// applicable atlas (§4.5 step 8: "Evaluate policies across all
// atlases; aggregate allowed, requires_approval, matched rules").
func Merge(aggregate, next Result) Result {
	aggregate.Allowed = aggregate.Allowed && next.Allowed
	aggregate.RequiresApproval = aggregate.RequiresApproval || next.RequiresApproval
	aggregate.MatchedRules = append(aggregate.MatchedRules, next.MatchedRules...)
	aggregate.Redactions = append(aggregate.Redactions, next.Redactions...)
	return aggregate
}
