// Package resolver implements the Resolver (§4.5): the synchronous
// entry point that validates a CARP request, assembles context and
// candidate actions from the Atlas Store under a token/action budget,
// evaluates policy, and synthesizes a Decision — plus the Executor's
// execute() half of the same public contract.
package resolver

import "time"

// Config carries the runtime defaults the algorithm falls back to
// when a request's Scope leaves a value unset (§4.5 steps 6-7, 11).
type Config struct {
	DefaultTTL              time.Duration
	DefaultMaxContextTokens int
	DefaultMaxActions       int
	DefaultApprovers        []string
	DefaultApprovalTimeout  time.Duration
}

// DefaultConfig returns the runtime defaults named in spec.md §4.5
// ("default_ttl (default 300)") plus reasonable context/action budgets
// and a single-approver default approval flow.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:              5 * time.Minute,
		DefaultMaxContextTokens: 8000,
		DefaultMaxActions:       20,
		DefaultApprovers:        []string{"duty-approver"},
		DefaultApprovalTimeout:  10 * time.Minute,
	}
}
