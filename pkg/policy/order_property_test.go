//go:build property
// +build property

package policy_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/atlas"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/policy"
)

// rulesFromPriorities builds one rule per entry of priorities, IDs
// assigned in input order so the original order is recoverable from
// the sorted output.
func rulesFromPriorities(priorities []int) []atlas.PolicyRule {
	rules := make([]atlas.PolicyRule, len(priorities))
	for i, p := range priorities {
		rules[i] = atlas.PolicyRule{ID: idFor(i), Priority: p, Effect: atlas.EffectAllow}
	}
	return rules
}

func idFor(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	return "rule-" + string(alphabet[i%len(alphabet)])
}

func ruleIDs(rules []atlas.PolicyRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func reversed(rules []atlas.PolicyRule) []atlas.PolicyRule {
	out := make([]atlas.PolicyRule, len(rules))
	for i, r := range rules {
		out[len(rules)-1-i] = r
	}
	return out
}

func hasDuplicates(priorities []int) bool {
	seen := make(map[int]bool, len(priorities))
	for _, p := range priorities {
		if seen[p] {
			return true
		}
		seen[p] = true
	}
	return false
}

// TestSortRulesByPriorityIsOrderInvariantForDistinctPriorities verifies
// §8's order-stability property: with pairwise-distinct priorities, the
// sorted sequence depends only on the priorities, not on the order
// rules were declared in.
func TestSortRulesByPriorityIsOrderInvariantForDistinctPriorities(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reordering rules with distinct priorities leaves the sorted sequence invariant", prop.ForAll(
		func(priorities []int) bool {
			if hasDuplicates(priorities) {
				return true
			}
			forward := rulesFromPriorities(priorities)
			backward := reversed(forward)

			sortedForward := policy.SortRulesByPriority(forward)
			sortedBackward := policy.SortRulesByPriority(backward)

			idsA := ruleIDs(sortedForward)
			idsB := ruleIDs(sortedBackward)
			if len(idsA) != len(idsB) {
				return false
			}
			for i := range idsA {
				if idsA[i] != idsB[i] {
					return false
				}
			}
			for i := 1; i < len(sortedForward); i++ {
				if sortedForward[i-1].Priority < sortedForward[i].Priority {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(-50, 50)),
	))

	properties.TestingRun(t)
}

// TestSortRulesByPriorityPreservesOrderWithinEqualPriority verifies the
// §8 property: "with equal priorities, ordering is preserved" — two
// rules sharing a priority keep their declared relative order no
// matter how the other, distinctly-prioritized rules around them are
// shuffled.
func TestSortRulesByPriorityPreservesOrderWithinEqualPriority(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("equal-priority rules preserve declared order", prop.ForAll(
		func(otherPriorities []int, tiedPriority int) bool {
			rules := []atlas.PolicyRule{
				{ID: "tied-first", Priority: tiedPriority, Effect: atlas.EffectAllow},
			}
			for i, p := range otherPriorities {
				if p == tiedPriority {
					p++
				}
				rules = append(rules, atlas.PolicyRule{ID: idFor(i + 1), Priority: p, Effect: atlas.EffectAllow})
			}
			rules = append(rules, atlas.PolicyRule{ID: "tied-second", Priority: tiedPriority, Effect: atlas.EffectAllow})

			sorted := policy.SortRulesByPriority(rules)

			firstIdx, secondIdx := -1, -1
			for i, r := range sorted {
				switch r.ID {
				case "tied-first":
					firstIdx = i
				case "tied-second":
					secondIdx = i
				}
			}
			return firstIdx >= 0 && secondIdx >= 0 && firstIdx < secondIdx
		},
		gen.SliceOfN(6, gen.IntRange(-50, 50)),
		gen.IntRange(-50, 50),
	))

	properties.TestingRun(t)
}
