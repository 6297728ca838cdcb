package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity_Identical(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("heartworm test", "heartworm test"))
}

func TestSimilarity_Empty(t *testing.T) {
	assert.Equal(t, 0.0, Similarity("", "heartworm test"))
	assert.Equal(t, 0.0, Similarity("heartworm test", ""))
	assert.Equal(t, 0.0, Similarity("", ""))
}

func TestSimilarity_Symmetric(t *testing.T) {
	a, b := "dental cleaning with anesthesia", "dental cleaning"
	assert.Equal(t, Similarity(a, b), Similarity(b, a))
}

func TestSimilarity_TokenOverlap(t *testing.T) {
	// 2 common tokens of 2 and 3: dice = 2*2/(2+3)
	assert.InDelta(t, 0.8, Similarity("heartworm test", "heartworm antigen test"), 1e-9)
}

func TestSimilarity_BigramFallback(t *testing.T) {
	// No shared tokens, but shared character structure keeps it above zero.
	got := Similarity("vaccination", "vaccine")
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)
}

func TestSimilarity_DuplicateTokensCollapse(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("exam exam", "exam"))
}
