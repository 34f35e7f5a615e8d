package trace

import "github.com/Mindburn-Labs/atlas-runtime/pkg/canonicalize"

// ComputeEventHash returns the SHA-256 hash of the canonical encoding
// of e, excluding EventHash (§3, §4.3).
func ComputeEventHash(e Event) (string, error) {
	return canonicalize.Hash(toHashInput(e))
}
