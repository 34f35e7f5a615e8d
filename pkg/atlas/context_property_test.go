//go:build property
// +build property

package atlas_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/atlas"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
)

// packFixture builds a Loaded atlas with n context packs in a single
// domain, each with a random priority and a byte length derived from
// its own generated size, so token counts vary across properties.
func packFixture(priorities []int, sizes []int) *atlas.Loaded {
	n := len(priorities)
	if len(sizes) < n {
		n = len(sizes)
	}
	content := make(map[string][]byte, n)
	contentHash := make(map[string]string, n)
	packs := make([]atlas.ContextPack, 0, n)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("pack-%02d", i)
		size := (sizes[i] % 200) + 1
		content[id] = make([]byte, size)
		contentHash[id] = ""
		packs = append(packs, atlas.ContextPack{
			ID:       id,
			Domain:   "demo",
			Source:   id + ".md",
			Priority: priorities[i],
		})
	}

	return &atlas.Loaded{
		Manifest: atlas.Manifest{
			Metadata:     atlas.Metadata{ID: "fixture", Version: "0.1"},
			Domains:      []atlas.Domain{{ID: "demo"}},
			ContextPacks: packs,
		},
		Content:     content,
		ContentHash: contentHash,
		Ref:         "fixture@0.1",
	}
}

// TestGetContextBlocksSortedByPriorityDescending verifies the §8
// property: "the returned block sequence is sorted by priority
// descending".
func TestGetContextBlocksSortedByPriorityDescending(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	idGen := &ids.SequentialGenerator{Prefix: "blk"}

	properties.Property("context blocks are sorted by priority descending", prop.ForAll(
		func(priorities []int, sizes []int) bool {
			loaded := packFixture(priorities, sizes)
			blocks := loaded.GetContextBlocks(atlas.ContextSelection{Domains: []string{"demo"}, MaxTokens: 1 << 20}, idGen)
			for i := 1; i < len(blocks); i++ {
				if blocks[i-1].Priority < blocks[i].Priority {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(10, gen.IntRange(-100, 100)),
		gen.SliceOfN(10, gen.IntRange(1, 1000)),
	))

	properties.TestingRun(t)
}

// TestGetContextBlocksRespectsTokenBudget verifies the §8 property:
// "sum(token_count) <= M" for any max_tokens = M.
func TestGetContextBlocksRespectsTokenBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	idGen := &ids.SequentialGenerator{Prefix: "blk"}

	properties.Property("total selected tokens never exceeds the budget", prop.ForAll(
		func(priorities []int, sizes []int, maxTokens int) bool {
			loaded := packFixture(priorities, sizes)
			maxTokens = maxTokens % 500
			if maxTokens < 0 {
				maxTokens = -maxTokens
			}
			blocks := loaded.GetContextBlocks(atlas.ContextSelection{Domains: []string{"demo"}, MaxTokens: maxTokens}, idGen)
			total := 0
			for _, b := range blocks {
				total += b.EstimatedTokens
			}
			return total <= maxTokens
		},
		gen.SliceOfN(10, gen.IntRange(-100, 100)),
		gen.SliceOfN(10, gen.IntRange(1, 1000)),
		gen.IntRange(0, 2000),
	))

	properties.TestingRun(t)
}

// TestGetContextBlocksRespectsDomainFilter verifies every returned
// block belongs to a requested domain ("respects ... domains
// filters").
func TestGetContextBlocksRespectsDomainFilter(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	idGen := &ids.SequentialGenerator{Prefix: "blk"}

	properties.Property("blocks outside the requested domain are never returned", prop.ForAll(
		func(priorities []int, sizes []int) bool {
			loaded := packFixture(priorities, sizes)
			blocks := loaded.GetContextBlocks(atlas.ContextSelection{Domains: []string{"no-such-domain"}, MaxTokens: 1 << 20}, idGen)
			return len(blocks) == 0
		},
		gen.SliceOfN(10, gen.IntRange(-100, 100)),
		gen.SliceOfN(10, gen.IntRange(1, 1000)),
	))

	properties.TestingRun(t)
}
