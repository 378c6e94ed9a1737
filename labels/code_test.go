package labels

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGenerateBatchOfTen(t *testing.T) {
	codes := NewGenerator(nil, false).GenerateBatch(10)
	require.Len(t, codes, 10)
	for _, c := range codes {
		assert.Regexp(t, `^[A-Z]\d{5}[A-Z]$`, string(c))
		assert.True(t, c.Valid())
	}
}

func TestGenerateBatchNonPositive(t *testing.T) {
	g := NewGenerator(nil, false)
	assert.Empty(t, g.GenerateBatch(0))
	assert.Empty(t, g.GenerateBatch(-3))
	assert.NotNil(t, g.GenerateBatch(0))
}

func TestGeneratorIsDeterministicForSeed(t *testing.T) {
	a := NewGenerator(rand.NewPCG(7, 11), false).GenerateBatch(50)
	b := NewGenerator(rand.NewPCG(7, 11), false).GenerateBatch(50)
	assert.Equal(t, a, b)
}

func TestUniqueGeneratorHasNoDuplicates(t *testing.T) {
	codes := NewGenerator(rand.NewPCG(1, 2), true).GenerateBatch(5000)
	seen := make(map[Code]bool, len(codes))
	for _, c := range codes {
		require.False(t, seen[c], "duplicate %s", c)
		seen[c] = true
	}
}

func TestCodeValid(t *testing.T) {
	assert.True(t, Code("A12345Z").Valid())
	for _, bad := range []Code{"", "a12345Z", "A1234Z", "A123456Z", "A12345", "112345Z", "A12 45Z"} {
		assert.False(t, bad.Valid(), string(bad))
	}
}

func TestGenerateBatchProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 300).Draw(t, "n")
		seed := rapid.Uint64().Draw(t, "seed")
		unique := rapid.Bool().Draw(t, "unique")

		codes := NewGenerator(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15), unique).GenerateBatch(n)
		if len(codes) != n {
			t.Fatalf("got %d codes, want %d", len(codes), n)
		}
		for _, c := range codes {
			if !c.Valid() {
				t.Fatalf("invalid code %q", c)
			}
			if c[1] == '0' {
				t.Fatalf("digits of %q below 10000", c)
			}
		}
	})
}
