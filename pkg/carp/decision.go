package carp

import "time"

// DecisionKind tags the Decision variant.
type DecisionKind string

const (
	DecisionAllow               DecisionKind = "allow"
	DecisionAllowWithConstraints DecisionKind = "allow_with_constraints"
	DecisionDeny                DecisionKind = "deny"
	DecisionRequiresApproval    DecisionKind = "requires_approval"
	DecisionInsufficientContext DecisionKind = "insufficient_context"
	DecisionPartial             DecisionKind = "partial"
)

// Decision is the tagged union of resolution outcomes. Exactly the
// fields relevant to Kind are populated; the rest are zero-valued.
type Decision struct {
	Kind DecisionKind `json:"kind"`

	// AllowWithConstraints
	Constraints []Constraint `json:"constraints,omitempty"`

	// Deny
	Reason      string   `json:"reason,omitempty"`
	PolicyRefs  []string `json:"policy_refs,omitempty"`
	Remediation string   `json:"remediation,omitempty"`

	// RequiresApproval
	Approvers              []string `json:"approvers,omitempty"`
	ApprovalTimeoutSeconds int      `json:"approval_timeout_seconds,omitempty"`

	// InsufficientContext
	MissingDomains []string `json:"missing_domains,omitempty"`

	// Partial
	PartialAllowed []string `json:"partial_allowed,omitempty"`
	PartialDenied  []string `json:"partial_denied,omitempty"`
}

// Allow constructs an Allow decision.
func Allow() Decision { return Decision{Kind: DecisionAllow} }

// AllowWithConstraints constructs an AllowWithConstraints decision.
func AllowWithConstraints(constraints []Constraint) Decision {
	return Decision{Kind: DecisionAllowWithConstraints, Constraints: constraints}
}

// Deny constructs a Deny decision.
func Deny(reason string, policyRefs []string, remediation string) Decision {
	return Decision{Kind: DecisionDeny, Reason: reason, PolicyRefs: policyRefs, Remediation: remediation}
}

// RequiresApproval constructs a RequiresApproval decision.
func RequiresApproval(approvers []string, timeout time.Duration) Decision {
	return Decision{
		Kind:                   DecisionRequiresApproval,
		Approvers:              approvers,
		ApprovalTimeoutSeconds: int(timeout.Seconds()),
	}
}

// InsufficientContext constructs an InsufficientContext decision.
func InsufficientContext(missingDomains []string) Decision {
	return Decision{Kind: DecisionInsufficientContext, MissingDomains: missingDomains}
}
