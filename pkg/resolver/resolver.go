package resolver

import (
	"strings"
	"time"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/atlas"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/cache"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/identity"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/observability"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/policy"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// Resolver is the synchronous entry point implementing both halves of
// the CARP public contract (§4.5): Resolve and Execute. It borrows the
// Atlas Store read-only, owns no atlas state itself, and treats the
// Resolution Cache and TRACE Collector as injected collaborators so
// every dependency can be swapped for a test double.
type Resolver struct {
	Store      *atlas.Store
	Cache      cache.Cache
	Collector  *trace.Collector
	Evaluator  *policy.Evaluator
	Checker    *policy.ConstraintChecker
	IDGen      ids.Generator
	Clock      ids.Clock
	Config     Config
	Obs        *observability.Provider // optional; nil disables ambient OTel spans
	Approval   ApprovalProvider
	Handlers   *HandlerRegistry
	RateLimits *RateLimiter

	// Authenticator validates Requester.AuthToken into an AgentIdentity
	// carrying delegation and scope information for policy conditions.
	// Optional; nil means requester context is limited to agent_id and
	// session_id, and an AuthToken on the request is ignored.
	Authenticator *identity.TokenManager

	resolutions *resolutionIndex
}

// New builds a Resolver from its collaborators. New fills in Approval
// (auto-approve), Handlers (empty registry) and RateLimits (a fresh
// limiter that enforces each permission's declared rate_limit) so a
// minimal test setup needs only Store, Cache, Collector, and
// Evaluator. Obs is left nil, which disables ambient OTel spans.
func New(store *atlas.Store, c cache.Cache, collector *trace.Collector, evaluator *policy.Evaluator, idGen ids.Generator, clock ids.Clock, cfg Config) *Resolver {
	checker, _ := policy.NewConstraintChecker()
	return &Resolver{
		Store:      store,
		Cache:      c,
		Collector:  collector,
		Evaluator:  evaluator,
		Checker:    checker,
		IDGen:       idGen,
		Clock:       clock,
		Config:      cfg,
		Approval:    DefaultApprovalProvider{},
		Handlers:    NewHandlerRegistry(),
		RateLimits:  NewRateLimiter(),
		resolutions: newResolutionIndex(),
	}
}

// traceIDFor returns the request's declared trace id, or mints a fresh
// one if the caller did not supply telemetry correlation.
func (r *Resolver) traceIDFor(req carp.Request) string {
	if req.Telemetry != nil && req.Telemetry.TraceID != "" {
		return req.Telemetry.TraceID
	}
	return r.IDGen.New()
}

// requesterContext projects req.Requester into the flat map policy
// conditions read via "requester.*" leaves. When an Authenticator is
// configured and the request carries a bearer token, the validated
// AgentIdentity's delegation and scopes are included; a missing or
// invalid token degrades to the bare agent_id/session_id the request
// declared, since the request itself already passed §4.5 step 2
// validation by the time this runs.
func (r *Resolver) requesterContext(req carp.Request) map[string]interface{} {
	base := map[string]interface{}{
		"agent_id": req.Requester.AgentID, "session_id": req.Requester.SessionID,
	}
	if r.Authenticator == nil || req.Requester.AuthToken == "" {
		return base
	}
	agent, err := r.Authenticator.Validate(req.Requester.AuthToken)
	if err != nil {
		return base
	}
	return agent.AsConditionContext()
}

// selectAtlases implements §4.5 step 4: intersect loaded atlases with
// scope.atlases (prefix match on ref), then, if context hints are
// present, prefer the subset declaring a hinted domain. If hint
// filtering would empty out an otherwise non-empty candidate set, the
// candidate set is returned unfiltered instead of erroring — see
// DESIGN.md "atlas selection vs. insufficient context" for why this
// departs from a literal reading of step 4/step 5 (reconciling it with
// the §8 seed scenario where an unmatched hint yields
// InsufficientContext, not ATLAS_NOT_FOUND).
func (r *Resolver) selectAtlases(scopeAtlases, hints []string) []*atlas.Loaded {
	all := r.Store.All()

	var candidates []*atlas.Loaded
	if len(scopeAtlases) == 0 {
		candidates = all
	} else {
		for _, loaded := range all {
			if matchesAnyPrefix(loaded.Ref, scopeAtlases) {
				candidates = append(candidates, loaded)
			}
		}
	}

	if len(candidates) == 0 || len(hints) == 0 {
		return candidates
	}

	var hinted []*atlas.Loaded
	for _, loaded := range candidates {
		if declaresAnyDomain(loaded, hints) {
			hinted = append(hinted, loaded)
		}
	}
	if len(hinted) == 0 {
		return candidates
	}
	return hinted
}

func matchesAnyPrefix(ref string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(ref, p) {
			return true
		}
	}
	return false
}

func declaresAnyDomain(loaded *atlas.Loaded, domains []string) bool {
	for _, d := range domains {
		if loaded.HasDomain(d) {
			return true
		}
	}
	return false
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func durationFraction(d time.Duration, frac float64) time.Duration {
	return time.Duration(float64(d) * frac)
}
