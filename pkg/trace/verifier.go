package trace

import (
	"fmt"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/canonicalize"
)

// VerifyEvent recomputes an event's hash and checks it against the
// stored EventHash. It does not check chain linkage — use VerifyChain
// for that.
func VerifyEvent(e Event) bool {
	recomputed, err := ComputeEventHash(e)
	if err != nil {
		return false
	}
	return recomputed == e.EventHash
}

// VerifyArtifact checks that content hashes to the reference's
// recorded content hash.
func VerifyArtifact(contentHash string, content []byte) bool {
	return contentHash == canonicalize.HashBytes(content)
}

// VerifyChain checks every event in events, assumed to be in sequence
// order for a single session, against three invariants (§4.8, §8):
//  1. event_hash matches the recomputed canonical hash of the event
//     (excluding event_hash itself).
//  2. previous_event_hash[i] equals event_hash[i-1]; the first event
//     in the slice must carry an empty previous_event_hash (genesis).
//  3. sequence is strictly increasing by exactly 1.
//
// It returns ok=true iff no violations were found, and a slice of
// human-readable errors in the fixed format "Event i (id): <reason>"
// for every violation, continuing past a bad event rather than
// stopping at the first failure so a caller can see the full extent
// of corruption.
func VerifyChain(events []Event) (bool, []string) {
	var errs []string

	var prevHash string
	var prevSeq uint64
	haveGenesis := false

	for i, e := range events {
		if !VerifyEvent(e) {
			errs = append(errs, fmt.Sprintf("Event %d (%s): event_hash does not match recomputed hash", i, e.EventID))
		}

		if !haveGenesis {
			if e.PreviousEventHash != "" {
				errs = append(errs, fmt.Sprintf("Event %d (%s): genesis event must have empty previous_event_hash", i, e.EventID))
			}
			haveGenesis = true
		} else {
			if e.PreviousEventHash != prevHash {
				errs = append(errs, fmt.Sprintf("Event %d (%s): previous_event_hash does not match event_hash of preceding event", i, e.EventID))
			}
			if e.Sequence != prevSeq+1 {
				errs = append(errs, fmt.Sprintf("Event %d (%s): sequence %d is not immediately after %d", i, e.EventID, e.Sequence, prevSeq))
			}
		}

		prevHash = e.EventHash
		prevSeq = e.Sequence
	}

	return len(errs) == 0, errs
}
