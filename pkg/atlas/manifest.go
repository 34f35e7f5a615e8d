// Package atlas implements the Atlas Store (§4.1): loading, validating,
// and serving versioned bundles of context packs, actions, and
// policies bound to domains.
package atlas

import "github.com/Mindburn-Labs/atlas-runtime/pkg/carp"

// SupportedManifestVersion is the only manifest schema version the
// loader accepts (§6).
const SupportedManifestVersion = "0.1"

// Metadata identifies an atlas.
type Metadata struct {
	ID          string `json:"id" yaml:"id"`
	Version     string `json:"version" yaml:"version"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Domain is a namespace context packs, actions, and policies bind to.
type Domain struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ContextPack is one source of context content bound to a domain.
type ContextPack struct {
	ID          string   `json:"id" yaml:"id"`
	Domain      string   `json:"domain" yaml:"domain"`
	Source      string   `json:"source" yaml:"source"` // relative path inside the atlas base dir
	ContentType carp.ContentType `json:"content_type" yaml:"content_type"`
	Priority    int      `json:"priority" yaml:"priority"`
	TTLSeconds  int      `json:"ttl_seconds" yaml:"ttl_seconds"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Evidence    []string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// ActionDef is one action definition bound to a domain.
type ActionDef struct {
	ID               string                    `json:"id" yaml:"id"`
	Domain           string                    `json:"domain" yaml:"domain"`
	ActionType       string                    `json:"action_type" yaml:"action_type"`
	Name             string                    `json:"name" yaml:"name"`
	Description      string                    `json:"description,omitempty" yaml:"description,omitempty"`
	RiskTier         carp.RiskTier             `json:"risk_tier" yaml:"risk_tier"`
	ParameterSchema  map[string]interface{}    `json:"parameter_schema,omitempty" yaml:"parameter_schema,omitempty"`
	Examples         []map[string]interface{}  `json:"examples,omitempty" yaml:"examples,omitempty"`
	Constraints      []carp.Constraint         `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	RateLimit        *carp.RateLimit           `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// Condition is a tagged tree of leaf predicates and combinators
// (§4.1). Exactly one of the leaf fields or Combinator+Operands is set.
type Condition struct {
	// Leaf form
	Field    string      `json:"field,omitempty" yaml:"field,omitempty"`
	Operator string      `json:"operator,omitempty" yaml:"operator,omitempty"` // eq, neq, in, not_in, gt, lt, matches
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	// Combinator form
	Combinator string      `json:"combinator,omitempty" yaml:"combinator,omitempty"` // all, any
	Operands   []Condition `json:"operands,omitempty" yaml:"operands,omitempty"`
}

// Effect is the outcome a matched policy rule contributes.
type Effect string

const (
	EffectAllow           Effect = "allow"
	EffectDeny            Effect = "deny"
	EffectRequireApproval Effect = "require_approval"
	EffectRedact          Effect = "redact"
	EffectConstrain       Effect = "constrain"
)

// PolicyRule is a single rule within a policy's ordered rule list.
type PolicyRule struct {
	ID          string    `json:"id" yaml:"id"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Condition   Condition `json:"condition" yaml:"condition"`
	Effect      Effect    `json:"effect" yaml:"effect"`
	Priority    int       `json:"priority" yaml:"priority"`
	Message     string    `json:"message,omitempty" yaml:"message,omitempty"`
}

// Policy is an ordered list of rules.
type Policy struct {
	ID    string       `json:"id" yaml:"id"`
	Rules []PolicyRule `json:"rules" yaml:"rules"`
}

// Dependency names another atlas this one depends on.
type Dependency struct {
	AtlasID    string `json:"atlas_id" yaml:"atlas_id"`
	VersionSpec string `json:"version_spec,omitempty" yaml:"version_spec,omitempty"`
}

// Manifest is the parsed atlas.json/atlas.yaml root document.
type Manifest struct {
	SchemaVersion string        `json:"schema_version" yaml:"schema_version"`
	Metadata      Metadata      `json:"metadata" yaml:"metadata"`
	Domains       []Domain      `json:"domains" yaml:"domains"`
	ContextPacks  []ContextPack `json:"context_packs" yaml:"context_packs"`
	Policies      []Policy      `json:"policies,omitempty" yaml:"policies,omitempty"`
	Actions       []ActionDef   `json:"actions,omitempty" yaml:"actions,omitempty"`
	Dependencies  []Dependency  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Ref returns the "id@version" reference string for this manifest.
func (m *Manifest) Ref() string {
	return m.Metadata.ID + "@" + m.Metadata.Version
}
