// Package policy interprets the atlas condition tree (§4.1) and
// evaluates policy rule sets with priority/effect composition (§4.1,
// §8 "order-stable"). Conditions are interpreted, never compiled —
// per spec.md's explicit non-goal, this package is not a policy DSL
// compiler.
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/atlas"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

// EvalContext is the flat predicate context conditions are evaluated
// against: risk_tier, action_type, domain, requester.*, plus whatever
// time/rate leaves a deployment chooses to populate.
type EvalContext struct {
	RiskTier   carp.RiskTier
	ActionType string
	Domain     string
	Requester  map[string]interface{}
	Extra      map[string]interface{}
}

// field resolves a dotted field path ("requester.agent_id", "risk_tier",
// "extra.hour_of_day") against the context.
func (c EvalContext) field(path string) (interface{}, bool) {
	switch path {
	case "risk_tier":
		return string(c.RiskTier), true
	case "action_type":
		return c.ActionType, true
	case "domain":
		return c.Domain, true
	}
	if rest, ok := strings.CutPrefix(path, "requester."); ok {
		v, ok := c.Requester[rest]
		return v, ok
	}
	if rest, ok := strings.CutPrefix(path, "extra."); ok {
		v, ok := c.Extra[rest]
		return v, ok
	}
	return nil, false
}

// regexCache memoizes compiled `matches` patterns across evaluations
// within a process, since the same condition tree is evaluated once
// per policy per resolve call.
var regexCache sync.Map // string -> *regexp.Regexp

// Evaluator evaluates atlas condition trees. A Warn callback, if set,
// is invoked once per malformed condition encountered (§4.1: "a
// malformed condition evaluates to false and emits a warning").
type Evaluator struct {
	Warn func(format string, args ...interface{})
}

func (e *Evaluator) warn(format string, args ...interface{}) {
	if e.Warn != nil {
		e.Warn(format, args...)
	}
}

// Evaluate interprets a condition tree against ctx.
func (e *Evaluator) Evaluate(cond atlas.Condition, ctx EvalContext) bool {
	if cond.Combinator != "" {
		switch cond.Combinator {
		case "all":
			for _, op := range cond.Operands {
				if !e.Evaluate(op, ctx) {
					return false
				}
			}
			return true
		case "any":
			for _, op := range cond.Operands {
				if e.Evaluate(op, ctx) {
					return true
				}
			}
			return false
		default:
			e.warn("policy: unknown combinator %q", cond.Combinator)
			return false
		}
	}

	return e.evalLeaf(cond, ctx)
}

func (e *Evaluator) evalLeaf(cond atlas.Condition, ctx EvalContext) bool {
	actual, ok := ctx.field(cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case "eq":
		return compareEqual(actual, cond.Value)
	case "neq":
		return !compareEqual(actual, cond.Value)
	case "in":
		return membership(actual, cond.Value)
	case "not_in":
		return !membership(actual, cond.Value)
	case "gt":
		cmp, ok := compareOrdered(actual, cond.Value)
		return ok && cmp > 0
	case "lt":
		cmp, ok := compareOrdered(actual, cond.Value)
		return ok && cmp < 0
	case "matches":
		return matchesRegex(actual, cond.Value, e)
	default:
		e.warn("policy: unknown operator %q", cond.Operator)
		return false
	}
}

func compareEqual(actual, expected interface{}) bool {
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func membership(actual, set interface{}) bool {
	items, ok := set.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if compareEqual(actual, item) {
			return true
		}
	}
	return false
}

// compareOrdered compares two values numerically if both parse as
// numbers, otherwise lexicographically. gt/lt on risk_tier compares
// by tier index, since risk tiers are totally ordered but not numeric
// on the wire.
func compareOrdered(actual, expected interface{}) (int, bool) {
	if at, ok := actual.(string); ok {
		if tier := carp.RiskTier(at); tier.Valid() {
			if et, ok := expected.(string); ok {
				etier := carp.RiskTier(et)
				if etier.Valid() {
					return tier.Index() - etier.Index(), true
				}
			}
		}
	}

	af, aok := toFloat(actual)
	bf, bok := toFloat(expected)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := actual.(string)
	bs, bok := expected.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func matchesRegex(actual, pattern interface{}, e *Evaluator) bool {
	s, ok := actual.(string)
	if !ok {
		return false
	}
	pat, ok := pattern.(string)
	if !ok {
		e.warn("policy: matches operator requires a string pattern")
		return false
	}
	re, ok := regexCache.Load(pat)
	if !ok {
		compiled, err := regexp.Compile(pat)
		if err != nil {
			e.warn("policy: invalid regex %q: %v", pat, err)
			return false
		}
		re, _ = regexCache.LoadOrStore(pat, compiled)
	}
	return re.(*regexp.Regexp).MatchString(s)
}

// SortRulesByPriority sorts rules by priority descending, stable so
// that equal-priority rules preserve their declared order (§8: "with
// equal priorities, ordering is preserved").
func SortRulesByPriority(rules []atlas.PolicyRule) []atlas.PolicyRule {
	sorted := make([]atlas.PolicyRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}
