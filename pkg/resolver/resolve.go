package resolver

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/atlas"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/cache"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/policy"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// Resolve implements the twelve-step resolution algorithm (§4.5).
func (r *Resolver) Resolve(ctx context.Context, req carp.Request) (carp.Resolution, *carp.Error) {
	sessionID := req.Requester.SessionID
	traceID := r.traceIDFor(req)

	var finish func(error)
	if r.Obs != nil {
		ctx, finish = r.Obs.TrackOperation(ctx, "resolver.resolve", attribute.String("agent_id", req.Requester.AgentID))
		defer func() {
			if finish != nil {
				finish(nil)
			}
		}()
	}

	span := r.Collector.StartSpan(sessionID, traceID, "carp.resolve", trace.SpanOpts{Kind: trace.SpanInternal})
	spanStatus := trace.SpanOK
	defer func() {
		r.Collector.EndSpan(sessionID, traceID, span.SpanID, spanStatus, "")
	}()

	key, goalHash, hashErr := fingerprint(req)
	if hashErr != nil {
		spanStatus = trace.SpanError
		return carp.Resolution{}, carp.NewError(carp.CodeInternalError, "failed to compute cache fingerprint: "+hashErr.Error())
	}

	riskTier := carp.RiskTier("")
	if req.Task != nil {
		riskTier = req.Task.RiskTier
	}

	// Step 1
	r.Collector.Record(sessionID, traceID, "carp.request.received", trace.Payload{
		"request_id": req.ID, "operation": string(req.Operation), "goal_hash": goalHash, "risk_tier": string(riskTier),
	}, trace.RecordOpts{SpanID: span.SpanID})

	// Step 2
	if verr := validateRequest(req); verr != nil {
		spanStatus = trace.SpanError
		r.Collector.Record(sessionID, traceID, "error.validation", trace.Payload{
			"request_id": req.ID, "code": string(verr.Code), "diagnostics": diagnosticsPayload(verr.Diagnostics),
		}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityError})
		return carp.Resolution{}, verr
	}

	// Step 3
	if cached, ok, err := r.Cache.Get(ctx, key); err == nil && ok {
		r.Collector.Record(sessionID, traceID, "carp.resolution.cache_hit", trace.Payload{
			"request_id": req.ID, "resolution_id": cached.ID,
		}, trace.RecordOpts{SpanID: span.SpanID})
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		spanStatus = trace.SpanCancelled
		r.Collector.Record(sessionID, traceID, "carp.resolution.cancelled", trace.Payload{"request_id": req.ID}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityWarn})
		return carp.Resolution{}, carp.NewError(carp.CodeInternalError, "resolution cancelled")
	}

	var hints []string
	if req.Task != nil {
		hints = req.Task.ContextHints
	}

	// Effective domain filter for context/action assembly: an explicit
	// scope.domains always wins; absent that, declared context hints
	// double as the domain filter, since a hint naming a domain nothing
	// declares should starve both context and actions for that domain
	// rather than silently falling back to "everything" (see the §8
	// seed "insufficient context" scenario).
	effectiveDomains := req.Scope.Domains
	if len(effectiveDomains) == 0 {
		effectiveDomains = hints
	}

	// Step 4-5
	matched := r.selectAtlases(req.Scope.Atlases, hints)
	if len(matched) == 0 {
		spanStatus = trace.SpanError
		return carp.Resolution{}, carp.NewError(carp.CodeAtlasNotFound, "no loaded atlas matches the requested scope")
	}
	for _, a := range matched {
		r.Collector.Record(sessionID, traceID, "atlas.load", trace.Payload{
			"atlas_ref": a.Ref, "domains": domainIDs(a),
		}, trace.RecordOpts{SpanID: span.SpanID})
		if problems := atlas.UnsatisfiedDependencies(a, matched); len(problems) > 0 {
			r.Collector.Record(sessionID, traceID, "atlas.dependency.unsatisfied", trace.Payload{
				"atlas_ref": a.Ref, "problems": problems,
			}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityWarn})
		}
	}

	// Step 6
	maxTokens := intOrDefault(req.Scope.MaxContextTokens, r.Config.DefaultMaxContextTokens)
	r.Collector.Record(sessionID, traceID, "carp.context.selected", trace.Payload{
		"max_tokens": maxTokens, "domains": effectiveDomains,
	}, trace.RecordOpts{SpanID: span.SpanID})

	var blocks []carp.ContextBlock
	remaining := maxTokens
	for _, a := range matched {
		if remaining <= 0 {
			break
		}
		got := a.GetContextBlocks(atlas.ContextSelection{Domains: effectiveDomains, MaxTokens: remaining}, r.IDGen)
		blocks = append(blocks, got...)
		for _, b := range got {
			remaining -= b.EstimatedTokens
		}
	}
	totalTokens := 0
	for _, b := range blocks {
		totalTokens += b.EstimatedTokens
	}
	r.Collector.Record(sessionID, traceID, "carp.context.assembled", trace.Payload{
		"block_count": len(blocks), "total_tokens": totalTokens,
	}, trace.RecordOpts{SpanID: span.SpanID})

	// Step 7
	maxActions := intOrDefault(req.Scope.MaxActions, r.Config.DefaultMaxActions)
	var actions []carp.ActionPermission
	for _, a := range matched {
		if len(actions) >= maxActions {
			break
		}
		got := a.GetActionPermissions(atlas.ActionSelection{
			Domains: effectiveDomains, RiskTier: riskTier, ActionTypes: req.Scope.ActionTypes,
		}, r.Clock.Now(), r.IDGen)
		for _, ap := range got {
			if len(actions) >= maxActions {
				break
			}
			actions = append(actions, ap)
		}
	}
	r.Collector.Record(sessionID, traceID, "carp.actions.resolved", trace.Payload{
		"action_count": len(actions),
	}, trace.RecordOpts{SpanID: span.SpanID})

	// Step 8
	evalCtx := policy.EvalContext{
		RiskTier:  riskTier,
		Requester: r.requesterContext(req),
	}
	r.Collector.Record(sessionID, traceID, "carp.policy.evaluation.started", trace.Payload{"atlas_count": len(matched)}, trace.RecordOpts{SpanID: span.SpanID})
	aggregate := policy.Result{Allowed: true}
	for _, a := range matched {
		aggregate = policy.Merge(aggregate, policy.EvaluateAtlas(a.Manifest.Policies, a.Ref, evalCtx, r.Evaluator))
	}
	for _, m := range aggregate.MatchedRules {
		r.Collector.Record(sessionID, traceID, "carp.policy.rule.matched", trace.Payload{
			"rule_id": m.RuleID, "policy_ref": m.PolicyRef, "effect": m.Effect,
		}, trace.RecordOpts{SpanID: span.SpanID})
	}
	r.Collector.Record(sessionID, traceID, "carp.policy.evaluation.completed", trace.Payload{
		"allowed": aggregate.Allowed, "requires_approval": aggregate.RequiresApproval, "matched_count": len(aggregate.MatchedRules),
	}, trace.RecordOpts{SpanID: span.SpanID})

	// Step 9
	evidence := make([]carp.Evidence, 0, len(matched))
	for _, a := range matched {
		evidence = append(evidence, carp.Evidence{Kind: "documentation", AtlasRef: a.Ref, Detail: a.Manifest.Metadata.Name})
	}

	// Step 10
	decision, deniedActions := synthesizeDecision(aggregate, actions, hints, riskTier, r.Config)
	if decision.Kind == carp.DecisionDeny {
		actions = nil
	} else {
		deniedActions = nil
	}

	// Step 11
	now := r.Clock.Now()
	ttl := r.Config.DefaultTTL
	resolution := carp.Resolution{
		ID:                 r.IDGen.New(),
		RequestID:          req.ID,
		Timestamp:          now,
		Decision:           decision,
		ContextBlocks:      blocks,
		AllowedActions:     actions,
		DeniedActions:      deniedActions,
		PolicyApplications: aggregate.MatchedRules,
		Evidence:           evidence,
		TTL: carp.TTL{
			ContextExpiresAt:    now.Add(ttl),
			ResolutionExpiresAt: now.Add(ttl),
			RefreshHint:         now.Add(durationFraction(ttl, 0.8)),
		},
		TelemetryLink: traceID,
	}

	// Step 12
	refs := make([]string, 0, len(matched))
	for _, a := range matched {
		refs = append(refs, a.Ref)
	}
	entry := cache.Entry{Resolution: resolution, ExpiresAt: resolution.TTL.ResolutionExpiresAt, AtlasRefs: refs}
	if err := r.Cache.Set(ctx, key, entry); err != nil {
		r.Collector.Record(sessionID, traceID, "error.internal", trace.Payload{"message": "cache set failed: " + err.Error()}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityError})
	}
	r.resolutions.put(entry)
	if err := r.Collector.SaveResolution(ctx, resolution); err != nil {
		r.Collector.Record(sessionID, traceID, "error.internal", trace.Payload{"message": "resolution persist failed: " + err.Error()}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityError})
	}

	r.Collector.Record(sessionID, traceID, "carp.resolution.completed", trace.Payload{
		"resolution_id": resolution.ID, "decision": string(decision.Kind),
		"context_blocks": len(blocks), "allowed_actions": len(actions), "denied_actions": len(deniedActions),
	}, trace.RecordOpts{SpanID: span.SpanID})

	return resolution, nil
}

func synthesizeDecision(aggregate policy.Result, actions []carp.ActionPermission, hints []string, riskTier carp.RiskTier, cfg Config) (carp.Decision, []carp.ActionPermission) {
	if !aggregate.Allowed {
		return carp.Deny("one or more policies denied this resolution", denyRefs(aggregate.MatchedRules), "review the denying policy rule and resubmit"), actions
	}
	if aggregate.RequiresApproval {
		return carp.RequiresApproval(cfg.DefaultApprovers, cfg.DefaultApprovalTimeout), nil
	}
	if len(actions) == 0 && len(hints) > 0 {
		return carp.InsufficientContext(hints), nil
	}
	if riskTier == carp.RiskHigh || riskTier == carp.RiskCritical {
		constraints := []carp.Constraint{{
			Kind: carp.ConstraintHard, Name: "audit_required",
			Description: "risk tier " + string(riskTier) + " resolutions must be audited",
		}}
		return carp.AllowWithConstraints(constraints), nil
	}
	return carp.Allow(), nil
}

func denyRefs(matches []carp.PolicyApplication) []string {
	var refs []string
	for _, m := range matches {
		if m.Effect == "deny" {
			refs = append(refs, m.PolicyRef+"#"+m.RuleID)
		}
	}
	return refs
}

func domainIDs(a *atlas.Loaded) []string {
	out := make([]string, 0, len(a.Manifest.Domains))
	for _, d := range a.Manifest.Domains {
		out = append(out, d.ID)
	}
	return out
}

func diagnosticsPayload(diags []carp.FieldDiagnostic) []map[string]string {
	out := make([]map[string]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, map[string]string{"path": d.Path, "message": d.Message})
	}
	return out
}
