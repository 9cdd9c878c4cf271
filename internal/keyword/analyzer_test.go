package keyword

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercases", "Hello WORLD", []string{"hello", "world"}},
		{"drops short tokens", "a b go xy", []string{"go", "xy"}},
		{"drops digits and punctuation", "v2 foo-bar baz_9", []string{"foo", "bar", "baz"}},
		{"drops stop words", "the quick fox and the hound", []string{"quick", "fox", "hound"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestAnalyzeTopK(t *testing.T) {
	a := NewAnalyzer(3, 0.10)
	kws := a.Analyze("/f/a.txt", "alpha beta gamma delta alpha beta alpha")
	require.Len(t, kws, 3)
	assert.Equal(t, "alpha", kws[0].Term, "most frequent term scores highest in a one-file corpus")
}

func TestRareTermOutranksCommon(t *testing.T) {
	a := NewAnalyzer(20, 0.10)
	// "shared" appears in every file; "unicorn" only in one.
	for i := 0; i < 10; i++ {
		a.Analyze(fmt.Sprintf("/f/%d.txt", i), "shared words everywhere shared")
	}
	kws := a.Analyze("/f/special.txt", "shared unicorn")

	scores := map[string]float64{}
	for _, kw := range kws {
		scores[kw.Term] = kw.Score
	}
	require.Contains(t, scores, "unicorn")
	require.Contains(t, scores, "shared")
	assert.Greater(t, scores["unicorn"], scores["shared"])
}

func TestReingestReplacesContribution(t *testing.T) {
	a := NewAnalyzer(20, 0.10)
	a.Analyze("/f/a.txt", "original words here")
	require.Equal(t, 1, a.DocCount())

	a.Analyze("/f/a.txt", "replacement text entirely")
	assert.Equal(t, 1, a.DocCount(), "re-analysis must not double-count the file")

	a.Remove("/f/a.txt")
	assert.Zero(t, a.DocCount())
	a.Remove("/f/a.txt") // idempotent
	assert.Zero(t, a.DocCount())
}

func TestLazyRebuildOnGrowth(t *testing.T) {
	a := NewAnalyzer(20, 0.10)
	for i := 0; i < 10; i++ {
		a.Analyze(fmt.Sprintf("/f/%d.txt", i), "filler content words")
	}
	before := a.docsAtRebuild

	// One more file is exactly 10% growth (1 of 10) past the last snapshot,
	// which already rebuilds: the rule is growth >= 10%.
	a.Analyze("/f/extra1.txt", "more filler")
	first := a.docsAtRebuild

	// The next file is 1 of 11 (no rebuild); the one after it reaches 2 of
	// 11 and trips the rule again.
	a.Analyze("/f/extra2.txt", "more filler")
	a.Analyze("/f/extra3.txt", "more filler")
	after := a.docsAtRebuild

	assert.GreaterOrEqual(t, before, 1)
	assert.Greater(t, after, first, "snapshot must advance once growth reaches 10%")
}

// Seeding rebuilds corpus state across process restarts: a fresh analyzer
// seeded from persisted keyword lists scores like the long-lived one.
func TestSeedRestoresCorpusState(t *testing.T) {
	first := NewAnalyzer(20, 0.10)
	persisted := make(map[string][]Keyword)
	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("/f/%d.txt", i)
		persisted[path] = first.Analyze(path, "shared words everywhere shared")
	}

	// Simulate a new process: seed from the persisted lists, then rebuild.
	second := NewAnalyzer(20, 0.10)
	for path, kws := range persisted {
		terms := make([]string, len(kws))
		for i, kw := range kws {
			terms[i] = kw.Term
		}
		second.Seed(path, terms)
	}
	second.Rebuild()

	assert.Equal(t, first.DocCount(), second.DocCount())
	assert.Equal(t, 10, second.docsAtRebuild,
		"growth baseline must cover the whole persisted corpus")

	// "shared" is corpus-wide in both analyzers, so a new file's rare term
	// still outranks it after the restart.
	kws := second.Analyze("/f/special.txt", "shared unicorn")
	scores := map[string]float64{}
	for _, kw := range kws {
		scores[kw.Term] = kw.Score
	}
	assert.Greater(t, scores["unicorn"], scores["shared"])
}

func TestSeedReplacesAndDeduplicates(t *testing.T) {
	a := NewAnalyzer(20, 0.10)
	a.Seed("/f/a.txt", []string{"alpha", "alpha", "", "beta"})
	assert.Equal(t, 1, a.DocCount())
	assert.Equal(t, 1, a.docFreq["alpha"], "duplicate seed terms must count once")

	a.Seed("/f/a.txt", []string{"gamma"})
	assert.Equal(t, 1, a.DocCount(), "re-seeding must not double-count the file")
	assert.Zero(t, a.docFreq["alpha"])
	assert.Equal(t, 1, a.docFreq["gamma"])
}

func TestExplicitRebuild(t *testing.T) {
	a := NewAnalyzer(20, 0.50)
	a.Analyze("/f/a.txt", "alpha beta")
	a.Analyze("/f/b.txt", "gamma delta")
	a.Rebuild()
	assert.Equal(t, 2, a.docsAtRebuild)
}
