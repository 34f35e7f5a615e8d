package atlas

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Severity classifies a ValidationIssue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is a single validation finding with a dotted path
// locating it within the manifest.
type ValidationIssue struct {
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationReport collects all issues found while validating a
// manifest. Any Severity: error issue makes the load fail atomically.
type ValidationReport struct {
	Issues []ValidationIssue `json:"issues"`
}

// HasErrors reports whether any issue in the report is severity error.
func (r *ValidationReport) HasErrors() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (r *ValidationReport) addError(path, format string, args ...interface{}) {
	r.Issues = append(r.Issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
}

func (r *ValidationReport) addWarning(path, format string, args ...interface{}) {
	r.Issues = append(r.Issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

// Validate checks a manifest for structural correctness per §4.1:
// unsupported manifest version, missing metadata fields, duplicate
// domain ids, packs/actions referencing unknown domains, and
// structurally invalid policy conditions.
func Validate(m *Manifest) *ValidationReport {
	report := &ValidationReport{}

	if m.SchemaVersion != SupportedManifestVersion {
		report.addError("schema_version", "unsupported manifest version %q (want %q)", m.SchemaVersion, SupportedManifestVersion)
	}

	if m.Metadata.ID == "" {
		report.addError("metadata.id", "missing required field")
	}
	if m.Metadata.Version == "" {
		report.addError("metadata.version", "missing required field")
	}
	if m.Metadata.Name == "" {
		report.addError("metadata.name", "missing required field")
	}

	domainIDs := make(map[string]bool, len(m.Domains))
	for i, d := range m.Domains {
		path := fmt.Sprintf("domains[%d]", i)
		if d.ID == "" {
			report.addError(path+".id", "missing required field")
			continue
		}
		if domainIDs[d.ID] {
			report.addError(path+".id", "duplicate domain id %q", d.ID)
			continue
		}
		domainIDs[d.ID] = true
	}

	for i, p := range m.ContextPacks {
		path := fmt.Sprintf("context_packs[%d]", i)
		if p.ID == "" {
			report.addError(path+".id", "missing required field")
		}
		if p.Domain == "" {
			report.addError(path+".domain", "missing required field")
		} else if !domainIDs[p.Domain] {
			report.addError(path+".domain", "pack references unknown domain %q", p.Domain)
		}
		if p.Source == "" {
			report.addError(path+".source", "missing required field")
		} else if !sourceWithinBase(p.Source) {
			report.addError(path+".source", "source %q resolves outside the atlas base directory", p.Source)
		}
	}

	for i, a := range m.Actions {
		path := fmt.Sprintf("actions[%d]", i)
		if a.ID == "" {
			report.addError(path+".id", "missing required field")
		}
		if a.Domain == "" {
			report.addError(path+".domain", "missing required field")
		} else if !domainIDs[a.Domain] {
			report.addError(path+".domain", "action references unknown domain %q", a.Domain)
		}
		if !a.RiskTier.Valid() {
			report.addError(path+".risk_tier", "invalid risk tier %q", a.RiskTier)
		}
	}

	for i, dep := range m.Dependencies {
		path := fmt.Sprintf("dependencies[%d]", i)
		if dep.AtlasID == "" {
			report.addError(path+".atlas_id", "missing required field")
		}
		if dep.VersionSpec != "" {
			if _, err := semver.NewConstraint(dep.VersionSpec); err != nil {
				report.addError(path+".version_spec", "invalid version constraint %q: %v", dep.VersionSpec, err)
			}
		}
	}

	for i, pol := range m.Policies {
		for j, rule := range pol.Rules {
			path := fmt.Sprintf("policies[%d].rules[%d]", i, j)
			validateCondition(report, path+".condition", rule.Condition)
			switch rule.Effect {
			case EffectAllow, EffectDeny, EffectRequireApproval, EffectRedact, EffectConstrain:
			default:
				report.addError(path+".effect", "unknown effect %q", rule.Effect)
			}
		}
	}

	return report
}

// sourceWithinBase reports whether a pack source path, once joined to
// an arbitrary base directory, cannot escape that directory via ".."
// traversal or an absolute path.
func sourceWithinBase(source string) bool {
	if filepath.IsAbs(source) {
		return false
	}
	cleaned := filepath.Clean(source)
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

var validOperators = map[string]bool{
	"eq": true, "neq": true, "in": true, "not_in": true,
	"gt": true, "lt": true, "matches": true,
}

// validateCondition recursively validates a Condition tree.
// Structural defects (missing field/operator, unknown
// operator/combinator, an unparseable regex) are load-time errors,
// the same severity as every other manifest defect this file checks
// (unsupported schema version, missing metadata, unknown domain
// references, ...): "Any error with severity error causes load to
// fail atomically." This is distinct from §4.1's "a malformed
// condition evaluates to false and emits a warning", which governs
// pkg/policy's runtime evaluator encountering a condition tree that
// passed load-time validation but still can't be resolved against a
// particular EvalContext (e.g. a field that exists in the grammar but
// isn't populated for this request).
func validateCondition(report *ValidationReport, path string, c Condition) {
	isLeaf := c.Field != "" || c.Operator != ""
	isCombinator := c.Combinator != ""

	if isLeaf == isCombinator {
		// Neither set, or both set: structurally invalid.
		report.addError(path, "condition must be either a leaf (field+operator) or a combinator (all/any), not both/neither")
		return
	}

	if isLeaf {
		if c.Field == "" {
			report.addError(path+".field", "missing field")
		}
		if !validOperators[c.Operator] {
			report.addError(path+".operator", "unknown operator %q", c.Operator)
		}
		if c.Operator == "matches" {
			if s, ok := c.Value.(string); ok {
				if _, err := regexp.Compile(s); err != nil {
					report.addError(path+".value", "invalid regex: %v", err)
				}
			} else {
				report.addError(path+".value", "matches operator requires a string pattern")
			}
		}
		return
	}

	if c.Combinator != "all" && c.Combinator != "any" {
		report.addError(path+".combinator", "unknown combinator %q", c.Combinator)
	}
	for i, op := range c.Operands {
		validateCondition(report, fmt.Sprintf("%s.operands[%d]", path, i), op)
	}
}
