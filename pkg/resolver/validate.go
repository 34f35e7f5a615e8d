package resolver

import "github.com/Mindburn-Labs/atlas-runtime/pkg/carp"

// validateRequest implements §4.5 step 2: check required fields,
// protocol version, operation enum, and operation-specific payload
// presence. Every problem found is collected into a single
// INVALID_REQUEST error rather than failing fast on the first one, so
// a caller can fix every field in one round trip.
func validateRequest(req carp.Request) *carp.Error {
	var diags []carp.FieldDiagnostic
	add := func(path, message string) {
		diags = append(diags, carp.FieldDiagnostic{Path: path, Message: message})
	}

	if req.ID == "" {
		add("id", "request id is required")
	}
	if req.Version == "" {
		add("version", "version is required")
	} else if req.Version != carp.ProtocolVersion {
		add("version", "unsupported protocol version "+req.Version)
	}

	switch req.Operation {
	case carp.OperationResolve, carp.OperationExecute, carp.OperationValidate:
	case "":
		add("operation", "operation is required")
	default:
		add("operation", "unknown operation "+string(req.Operation))
	}

	if req.Requester.AgentID == "" {
		add("requester.agent_id", "requester.agent_id is required")
	}
	if req.Requester.SessionID == "" {
		add("requester.session_id", "requester.session_id is required")
	}

	switch req.Operation {
	case carp.OperationResolve:
		if req.Task == nil || req.Task.Goal == "" {
			add("task.goal", "task.goal is required for a resolve operation")
		}
		if req.Task != nil && req.Task.RiskTier != "" && !req.Task.RiskTier.Valid() {
			add("task.risk_tier", "unknown risk tier "+string(req.Task.RiskTier))
		}
	case carp.OperationExecute, carp.OperationValidate:
		if req.Action == nil || req.Action.ActionID == "" {
			add("action.action_id", "action.action_id is required")
		}
		if req.Action == nil || req.Action.ResolutionID == "" {
			add("action.resolution_id", "action.resolution_id is required")
		}
	}

	if len(diags) > 0 {
		return carp.NewValidationError(diags)
	}
	return nil
}
