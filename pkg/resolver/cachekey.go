package resolver

import (
	"github.com/Mindburn-Labs/atlas-runtime/pkg/canonicalize"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/cache"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

// fingerprint computes the resolution cache key for a resolve request:
// (goal_hash, agent_id, canonical(scope)) per spec.md §4.5 step 3.
// goal_hash also doubles as the value recorded on carp.request.received
// (spec.md §4.5 step 1).
func fingerprint(req carp.Request) (key, goalHash string, err error) {
	goal := ""
	if req.Task != nil {
		goal = req.Task.Goal
	}
	goalHash, err = canonicalize.Hash(goal)
	if err != nil {
		return "", "", err
	}

	scopeHash, err := canonicalize.Hash(req.Scope)
	if err != nil {
		return "", "", err
	}

	return cache.Key(goalHash, req.Requester.AgentID, scopeHash), goalHash, nil
}
