package atlas

import "time"

// Loaded is an atlas manifest plus its in-memory content, keyed by
// pack id alongside a content hash for each. It is owned by the Store
// for the lifetime of a load generation; the Resolver only ever reads
// it. The compiled regex cache for `matches` conditions lives in
// pkg/policy, not here: it's keyed by pattern text, not by atlas, and
// outlives any one Loaded generation.
type Loaded struct {
	Manifest    Manifest
	Content     map[string][]byte // pack_id -> raw bytes
	ContentHash map[string]string // pack_id -> sha256 of Content[pack_id]
	Ref         string            // "id@version"
	LoadedAt    time.Time
}

// Domain looks up a domain definition by id.
func (l *Loaded) Domain(id string) (Domain, bool) {
	for _, d := range l.Manifest.Domains {
		if d.ID == id {
			return d, true
		}
	}
	return Domain{}, false
}

// HasDomain reports whether the atlas declares the given domain id.
func (l *Loaded) HasDomain(id string) bool {
	_, ok := l.Domain(id)
	return ok
}
