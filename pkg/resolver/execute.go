package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/canonicalize"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/cache"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// Execute implements the eight-step execution algorithm (§4.5).
func (r *Resolver) Execute(ctx context.Context, req carp.Request) (carp.ExecutionResult, *carp.Error) {
	sessionID := req.Requester.SessionID
	traceID := r.traceIDFor(req)

	if r.Obs != nil {
		var finish func(error)
		ctx, finish = r.Obs.TrackOperation(ctx, "resolver.execute", attribute.String("agent_id", req.Requester.AgentID))
		defer finish(nil)
	}

	span := r.Collector.StartSpan(sessionID, traceID, "carp.execute", trace.SpanOpts{Kind: trace.SpanInternal})
	spanStatus := trace.SpanOK
	defer func() {
		r.Collector.EndSpan(sessionID, traceID, span.SpanID, spanStatus, "")
	}()

	if verr := validateRequest(req); verr != nil {
		spanStatus = trace.SpanError
		r.Collector.Record(sessionID, traceID, "error.validation", trace.Payload{
			"request_id": req.ID, "code": string(verr.Code),
		}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityError})
		return carp.ExecutionResult{}, verr
	}

	action := req.Action

	// Step 1
	r.Collector.Record(sessionID, traceID, "carp.action.requested", trace.Payload{
		"action_id": action.ActionID, "resolution_id": action.ResolutionID,
	}, trace.RecordOpts{SpanID: span.SpanID})

	// Step 2
	entry, ok := r.resolutions.get(action.ResolutionID)
	if !ok {
		// Not in this resolver's in-memory index (e.g. a restart since
		// Resolve ran): fall back to the durable store before giving up.
		resolution, err := r.Collector.GetResolution(ctx, action.ResolutionID)
		if err != nil {
			spanStatus = trace.SpanError
			return carp.ExecutionResult{}, carp.NewError(carp.CodeResolutionNotFound, "no such resolution: "+action.ResolutionID)
		}
		entry = cache.Entry{Resolution: *resolution, ExpiresAt: resolution.TTL.ResolutionExpiresAt}
		r.resolutions.put(entry)
	}

	// Step 3
	now := r.Clock.Now()
	if entry.Resolution.IsExpired(now) {
		spanStatus = trace.SpanError
		r.resolutions.delete(action.ResolutionID)
		if err := r.Collector.DeleteResolution(ctx, action.ResolutionID); err != nil {
			r.Collector.Record(sessionID, traceID, "error.internal", trace.Payload{"message": "resolution delete failed: " + err.Error()}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityError})
		}
		return carp.ExecutionResult{}, carp.NewError(carp.CodeResolutionExpired, "resolution expired at "+entry.Resolution.TTL.ResolutionExpiresAt.String())
	}

	// Step 4
	permission, ok := entry.Resolution.FindAllowedAction(action.ActionID)
	if !ok {
		spanStatus = trace.SpanError
		r.Collector.Record(sessionID, traceID, "carp.action.denied", trace.Payload{
			"action_id": action.ActionID, "reason": "not in allowed actions",
		}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityWarn})
		return carp.ExecutionResult{}, carp.NewError(carp.CodeActionNotPermitted, "action not permitted by resolution: "+action.ActionID)
	}

	if !r.RateLimits.Allow(permission.ActionID, permission.RateLimit) {
		spanStatus = trace.SpanError
		return carp.ExecutionResult{}, carp.NewError(carp.CodeRateLimited, "rate limit exceeded for action: "+action.ActionID)
	}

	if verr := validateParameters(permission, action.Parameters); verr != nil {
		spanStatus = trace.SpanError
		return carp.ExecutionResult{}, verr
	}

	if r.Checker != nil {
		violated, err := r.Checker.Check(permission.Constraints, action.Parameters, string(permission.RiskTier), permission.ActionType)
		if err != nil {
			spanStatus = trace.SpanError
			return carp.ExecutionResult{}, carp.NewError(carp.CodeInternalError, "constraint check failed: "+err.Error())
		}
		if violated != "" {
			spanStatus = trace.SpanError
			return carp.ExecutionResult{}, carp.NewError(carp.CodeConstraintViolated, "hard constraint violated: "+violated)
		}
	}

	// Step 5
	if permission.RequiresApproval {
		approvers := entry.Resolution.Decision.Approvers
		if len(approvers) == 0 {
			approvers = r.Config.DefaultApprovers
		}
		timeout := time.Duration(entry.Resolution.Decision.ApprovalTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = r.Config.DefaultApprovalTimeout
		}

		r.Collector.Record(sessionID, traceID, "carp.action.approval.pending", trace.Payload{
			"action_id": action.ActionID, "approvers": approvers,
		}, trace.RecordOpts{SpanID: span.SpanID})

		outcome, err := r.Approval.RequestApproval(ctx, action.ActionID, approvers, timeout)
		if err != nil {
			spanStatus = trace.SpanError
			return carp.ExecutionResult{}, carp.NewError(carp.CodeInternalError, "approval provider error: "+err.Error())
		}

		switch outcome {
		case ApprovalApproved:
			r.Collector.Record(sessionID, traceID, "carp.action.approved", trace.Payload{"action_id": action.ActionID}, trace.RecordOpts{SpanID: span.SpanID})
		case ApprovalDenied:
			spanStatus = trace.SpanError
			r.Collector.Record(sessionID, traceID, "carp.action.denied", trace.Payload{"action_id": action.ActionID, "reason": "approval denied"}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityWarn})
			return carp.ExecutionResult{}, carp.NewError(carp.CodeActionNotPermitted, "approval denied for action: "+action.ActionID)
		case ApprovalTimedOut:
			spanStatus = trace.SpanError
			return carp.ExecutionResult{}, carp.NewError(carp.CodeTimeout, "approval timed out for action: "+action.ActionID)
		}
	}

	// Step 6
	handler, ok := r.Handlers.lookup(permission.ActionType)
	if !ok {
		spanStatus = trace.SpanError
		return carp.ExecutionResult{}, carp.NewError(carp.CodeExecutionFailed, "no handler registered for action type: "+permission.ActionType)
	}

	r.Collector.Record(sessionID, traceID, "carp.action.started", trace.Payload{
		"action_id": action.ActionID, "parameters": action.Parameters,
	}, trace.RecordOpts{SpanID: span.SpanID})

	start := time.Now()
	result, err := handler.Invoke(ctx, permission.ActionType, action.Parameters)
	durationMS := time.Since(start).Milliseconds()

	// Step 8
	if err != nil {
		spanStatus = trace.SpanError
		retriable := false
		if herr, ok := err.(*HandlerError); ok {
			retriable = herr.Retriable
		}
		r.Collector.Record(sessionID, traceID, "carp.action.failed", trace.Payload{
			"action_id": action.ActionID, "duration_ms": durationMS, "error": err.Error(),
		}, trace.RecordOpts{SpanID: span.SpanID, Severity: trace.SeverityError})
		return carp.ExecutionResult{}, &carp.Error{Code: carp.CodeExecutionFailed, Message: err.Error(), Retriable: retriable}
	}

	// Step 7
	outputHash, hashErr := canonicalize.Hash(result.Output)
	if hashErr != nil {
		outputHash = ""
	}
	r.Collector.Record(sessionID, traceID, "carp.action.completed", trace.Payload{
		"action_id": action.ActionID, "duration_ms": durationMS, "status": string(carp.ExecutionSuccess),
	}, trace.RecordOpts{SpanID: span.SpanID})

	return carp.ExecutionResult{
		Status: carp.ExecutionSuccess,
		Result: &carp.ExecutionOutput{
			Output:     result.Output,
			OutputHash: outputHash,
			OutputType: result.OutputType,
		},
		Metrics: carp.ExecutionMetrics{DurationMS: durationMS},
	}, nil
}

// validateParameters checks action parameters against the permission's
// JSON-Schema-shaped parameter_schema, when one is declared.
func validateParameters(permission carp.ActionPermission, parameters map[string]interface{}) *carp.Error {
	if len(permission.ParameterSchema) == 0 {
		return nil
	}

	raw, err := json.Marshal(permission.ParameterSchema)
	if err != nil {
		return carp.NewError(carp.CodeInternalError, "failed to marshal parameter schema: "+err.Error())
	}

	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://action-parameters/" + permission.ActionID + ".json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return carp.NewError(carp.CodeInternalError, "failed to load parameter schema: "+err.Error())
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return carp.NewError(carp.CodeInternalError, "failed to compile parameter schema: "+err.Error())
	}

	instance := interface{}(parameters)
	if parameters == nil {
		instance = map[string]interface{}{}
	}
	if err := schema.Validate(instance); err != nil {
		return carp.NewError(carp.CodeInvalidFormat, "parameters failed schema validation: "+err.Error())
	}
	return nil
}
