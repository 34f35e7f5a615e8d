package atlas

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
)

// cacheEntry wraps a Loaded atlas with its own expiry, mirroring the
// pack resolution cache's lazy-plus-swept expiry (§4.1: "Cache entry
// TTL is a load-time configuration... expired entries are pruned on
// access").
type cacheEntry struct {
	loaded    *Loaded
	expiresAt time.Time
}

// DefaultCacheTTL is the load-time default when a Store is not given
// an explicit TTL.
const DefaultCacheTTL = 10 * time.Minute

// Store is the Atlas Store (§4.1): it loads, caches, and serves
// read-only accessors for atlases. Reads are safe for concurrent
// calls; a (re)load swaps the cache entry atomically so in-flight
// readers keep using the prior snapshot (§5, copy-on-write).
type Store struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry // atlas ref -> entry
	loader  *Loader
	ttl     time.Duration
	clock   ids.Clock
}

// NewStore builds a Store backed by loader, caching loaded atlases for
// ttl (DefaultCacheTTL if zero).
func NewStore(loader *Loader, ttl time.Duration, clock ids.Clock) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Store{
		entries: make(map[string]*cacheEntry),
		loader:  loader,
		ttl:     ttl,
		clock:   clock,
	}
}

// Load reads and validates the atlas at baseDir and caches it under
// its manifest ref.
func (s *Store) Load(ctx context.Context, baseDir string) (*Loaded, error) {
	loaded, err := s.loader.Load(baseDir)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries[loaded.Ref] = &cacheEntry{loaded: loaded, expiresAt: s.clock.Now().Add(s.ttl)}
	s.mu.Unlock()

	return loaded, nil
}

// Get returns a cached, non-expired atlas by ref, pruning it first if
// expired.
func (s *Store) Get(ref string) (*Loaded, bool) {
	s.mu.RLock()
	entry, ok := s.entries[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !s.clock.Now().Before(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, ref)
		s.mu.Unlock()
		return nil, false
	}
	return entry.loaded, true
}

// All returns every non-expired cached atlas, pruning expired entries.
func (s *Store) All() []*Loaded {
	s.PruneCache()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Loaded, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.loaded)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// ClearCache drops every cached atlas.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*cacheEntry)
}

// PruneCache removes expired entries.
func (s *Store) PruneCache() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, ref)
		}
	}
}

// ContextSelection parameters for GetContextBlocks.
type ContextSelection struct {
	Domains   []string
	Tags      []string
	MaxTokens int
}

// EstimateTokens applies the byte/4 heuristic fixed by spec.md §3
// (open question: whether to tokenize semantically is left
// unspecified; this implementation always uses the heuristic).
func EstimateTokens(content []byte) int {
	return int(math.Ceil(float64(len(content)) / 4.0))
}

// GetContextBlocks implements the context selection algorithm (§4.1):
// filter candidate packs by domain/tags, sort by priority descending
// (tie-break pack id ascending), walk accumulating tokens, stop before
// exceeding MaxTokens.
func (l *Loaded) GetContextBlocks(sel ContextSelection, idGen ids.Generator) []carp.ContextBlock {
	candidates := make([]ContextPack, 0, len(l.Manifest.ContextPacks))
	for _, pack := range l.Manifest.ContextPacks {
		if len(sel.Domains) > 0 && !containsString(sel.Domains, pack.Domain) {
			continue
		}
		if len(sel.Tags) > 0 && !anyOverlap(sel.Tags, pack.Tags) {
			continue
		}
		candidates = append(candidates, pack)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})

	var blocks []carp.ContextBlock
	total := 0
	for _, pack := range candidates {
		content := l.Content[pack.ID]
		tokens := EstimateTokens(content)
		if total+tokens > sel.MaxTokens {
			break
		}
		total += tokens

		blocks = append(blocks, carp.ContextBlock{
			BlockID:         idGen.New(),
			ContentHash:     l.ContentHash[pack.ID],
			AtlasRef:        l.Ref,
			PackRef:         pack.ID,
			Domain:          pack.Domain,
			ContentType:     pack.ContentType,
			Content:         string(content),
			EstimatedTokens: tokens,
			TTLSeconds:      pack.TTLSeconds,
			Priority:        pack.Priority,
			Tags:            pack.Tags,
			EvidenceRefs:    pack.Evidence,
		})
	}

	return blocks
}

// ActionSelection parameters for GetActionPermissions.
type ActionSelection struct {
	Domains     []string
	RiskTier    carp.RiskTier
	ActionTypes []string
}

// GetActionPermissions implements the action permission projection
// (§4.1): filter by domain and explicit action-type list, filter by
// risk tier as a maximum (action tier index <= requested tier index),
// set RequiresApproval for high/critical, and ValidUntil = now+5m.
func (l *Loaded) GetActionPermissions(sel ActionSelection, now time.Time, idGen ids.Generator) []carp.ActionPermission {
	var out []carp.ActionPermission

	maxIndex := sel.RiskTier.Index()
	if maxIndex < 0 {
		maxIndex = carp.RiskCritical.Index() // unset/invalid tier: no ceiling
	}

	for _, action := range l.Manifest.Actions {
		if len(sel.Domains) > 0 && !containsString(sel.Domains, action.Domain) {
			continue
		}
		if len(sel.ActionTypes) > 0 && !containsString(sel.ActionTypes, action.ActionType) {
			continue
		}
		if action.RiskTier.Index() > maxIndex {
			continue
		}

		out = append(out, carp.ActionPermission{
			ActionID:         idGen.New(),
			ActionType:       action.ActionType,
			Name:             action.Name,
			Description:      action.Description,
			ParameterSchema:  action.ParameterSchema,
			Examples:         action.Examples,
			Constraints:      action.Constraints,
			RequiresApproval: action.RiskTier == carp.RiskHigh || action.RiskTier == carp.RiskCritical,
			RiskTier:         action.RiskTier,
			RateLimit:        action.RateLimit,
			SourceAtlasRef:   l.Ref,
			ValidUntil:       now.Add(5 * time.Minute),
		})
	}

	return out
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyOverlap(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if set[s] {
			return true
		}
	}
	return false
}

// ErrAtlasNotFound is returned by Store lookups that find no match.
var ErrAtlasNotFound = fmt.Errorf("atlas: not found")

// UnsatisfiedDependencies reports, for each dependency loaded declares,
// a human-readable reason no atlas in candidates satisfies it: either
// no candidate shares the dependency's atlas_id, or one does but its
// version doesn't match version_spec. A dependency with no
// version_spec is satisfied by the mere presence of its atlas_id.
// Dependency resolution is advisory (§4.1 lists dependencies as part
// of the manifest shape but does not make them a load-blocking
// invariant), so callers are expected to surface this as a warning,
// not fail the resolution.
func UnsatisfiedDependencies(loaded *Loaded, candidates []*Loaded) []string {
	var problems []string
	for _, dep := range loaded.Manifest.Dependencies {
		var constraint *semver.Constraints
		if dep.VersionSpec != "" {
			c, err := semver.NewConstraint(dep.VersionSpec)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: invalid version constraint %q", dep.AtlasID, dep.VersionSpec))
				continue
			}
			constraint = c
		}

		satisfied := false
		sawID := false
		for _, cand := range candidates {
			if cand.Manifest.Metadata.ID != dep.AtlasID {
				continue
			}
			sawID = true
			if constraint == nil {
				satisfied = true
				break
			}
			v, err := semver.NewVersion(cand.Manifest.Metadata.Version)
			if err != nil {
				continue
			}
			if constraint.Check(v) {
				satisfied = true
				break
			}
		}

		switch {
		case satisfied:
			continue
		case sawID:
			problems = append(problems, fmt.Sprintf("%s: no loaded version satisfies %q", dep.AtlasID, dep.VersionSpec))
		default:
			problems = append(problems, fmt.Sprintf("%s: not loaded", dep.AtlasID))
		}
	}
	return problems
}
