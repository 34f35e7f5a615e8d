package ids

import (
	"github.com/google/uuid"
)

// Generator produces time-ordered identifiers. Injectable so tests can
// pin the identifier sequence.
type Generator interface {
	New() string
}

// UUIDv7Generator produces RFC 9562 UUIDv7 identifiers: lexicographically
// and chronologically sortable, which is what "time-ordered identifier"
// means for Request.id, Resolution.id, and TRACE's event_id.
type UUIDv7Generator struct{}

func (UUIDv7Generator) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source is broken; fall back
		// to a random v4 rather than panic on the hot path.
		return uuid.New().String()
	}
	return id.String()
}

// SequentialGenerator yields ids "<prefix>-0000000001", "<prefix>-0000000002", ...
// for deterministic test fixtures.
type SequentialGenerator struct {
	Prefix string
	n      uint64
}

func (g *SequentialGenerator) New() string {
	g.n++
	return formatSeq(g.Prefix, g.n)
}

func formatSeq(prefix string, n uint64) string {
	const digits = "0123456789"
	buf := make([]byte, 10)
	for i := 9; i >= 0; i-- {
		buf[i] = digits[n%10]
		n /= 10
	}
	if prefix == "" {
		return string(buf)
	}
	return prefix + "-" + string(buf)
}
