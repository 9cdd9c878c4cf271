// Package keyword derives per-file importance-weighted keyword lists.
// Term frequency is computed at ingest; the corpus-wide inverse document
// frequency snapshot is rebuilt lazily when the corpus grows past a
// configured threshold or on explicit request.
package keyword

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Keyword is one scored term.
type Keyword struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// minTokenLength drops single-character noise.
const minTokenLength = 2

// stopWords filters common English function words before scoring.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true,
	"have": true, "had": true, "this": true, "that": true, "with": true,
	"they": true, "from": true, "she": true, "his": true, "him": true,
	"been": true, "than": true, "then": true, "them": true, "these": true,
	"some": true, "what": true, "when": true, "where": true, "which": true,
	"will": true, "would": true, "there": true, "their": true, "about": true,
	"into": true, "over": true, "after": true, "your": true, "other": true,
	"were": true, "does": true, "just": true, "also": true, "only": true,
	"such": true, "each": true, "more": true, "most": true, "very": true,
	"of": true, "to": true, "in": true, "it": true, "is": true, "be": true,
	"as": true, "at": true, "so": true, "we": true, "he": true, "by": true,
	"or": true, "on": true, "do": true, "if": true, "me": true, "my": true,
	"up": true, "an": true, "no": true, "us": true, "am": true, "a": true,
	"i": true,
}

// Analyzer maintains document frequencies and a lazily rebuilt IDF snapshot.
// Safe for concurrent use by scanner workers.
type Analyzer struct {
	mu sync.Mutex

	topK          int
	rebuildGrowth float64

	// perFileTerms tracks the distinct terms of each ingested file so that
	// re-ingest and removal adjust document frequencies exactly.
	perFileTerms map[string]map[string]struct{}
	docFreq      map[string]int

	// idf is the current snapshot; docsAtRebuild is the corpus size when it
	// was last computed.
	idf           map[string]float64
	docsAtRebuild int
}

// NewAnalyzer creates an analyzer keeping topK keywords per file and
// rebuilding the IDF snapshot after the given fractional corpus growth.
func NewAnalyzer(topK int, rebuildGrowth float64) *Analyzer {
	if topK <= 0 {
		topK = 20
	}
	if rebuildGrowth <= 0 {
		rebuildGrowth = 0.10
	}
	return &Analyzer{
		topK:          topK,
		rebuildGrowth: rebuildGrowth,
		perFileTerms:  make(map[string]map[string]struct{}),
		docFreq:       make(map[string]int),
		idf:           make(map[string]float64),
	}
}

// Tokenize splits text into lowercased alphabetic tokens of at least two
// characters, stop-word filtered.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() >= minTokenLength {
			token := strings.ToLower(current.String())
			if !stopWords[token] {
				tokens = append(tokens, token)
			}
		}
		current.Reset()
	}
	for _, r := range text {
		if unicode.IsLetter(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Analyze records the file's terms and returns its top-k keywords scored by
// tf * idf under the current snapshot. Re-analyzing a path replaces its
// earlier contribution.
func (a *Analyzer) Analyze(path, text string) []Keyword {
	tokens := Tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeLocked(path)
	terms := make(map[string]struct{}, len(tf))
	for t := range tf {
		terms[t] = struct{}{}
		a.docFreq[t]++
	}
	a.perFileTerms[path] = terms

	a.maybeRebuildLocked()

	scored := make([]Keyword, 0, len(tf))
	for term, freq := range tf {
		scored = append(scored, Keyword{Term: term, Score: float64(freq) * a.idfLocked(term)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Term < scored[j].Term
	})
	if len(scored) > a.topK {
		scored = scored[:a.topK]
	}
	return scored
}

// Seed registers a file's persisted terms without scoring. Used at startup
// to rebuild corpus state from storage so document frequencies and the
// growth baseline reflect the whole indexed corpus, not just the files the
// current process has touched. Call Rebuild once after seeding.
func (a *Analyzer) Seed(path string, terms []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeLocked(path)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		if t == "" {
			continue
		}
		if _, dup := set[t]; dup {
			continue
		}
		set[t] = struct{}{}
		a.docFreq[t]++
	}
	a.perFileTerms[path] = set
}

// Remove drops a file's contribution to document frequencies.
func (a *Analyzer) Remove(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(path)
}

// Rebuild recomputes the IDF snapshot immediately.
func (a *Analyzer) Rebuild() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rebuildLocked()
}

// DocCount returns the number of files contributing to document frequencies.
func (a *Analyzer) DocCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.perFileTerms)
}

func (a *Analyzer) removeLocked(path string) {
	terms, ok := a.perFileTerms[path]
	if !ok {
		return
	}
	for t := range terms {
		if a.docFreq[t] <= 1 {
			delete(a.docFreq, t)
		} else {
			a.docFreq[t]--
		}
	}
	delete(a.perFileTerms, path)
}

// maybeRebuildLocked applies the growth rule: rebuild when the corpus has
// changed by at least rebuildGrowth since the last snapshot.
func (a *Analyzer) maybeRebuildLocked() {
	n := len(a.perFileTerms)
	if a.docsAtRebuild == 0 {
		a.rebuildLocked()
		return
	}
	delta := math.Abs(float64(n-a.docsAtRebuild)) / float64(a.docsAtRebuild)
	if delta >= a.rebuildGrowth {
		a.rebuildLocked()
	}
}

func (a *Analyzer) rebuildLocked() {
	n := len(a.perFileTerms)
	idf := make(map[string]float64, len(a.docFreq))
	for term, df := range a.docFreq {
		idf[term] = math.Log(1.0 + float64(n)/float64(1+df))
	}
	a.idf = idf
	a.docsAtRebuild = n
}

// idfLocked scores a term under the snapshot; terms unseen at snapshot time
// get the maximum rarity for the snapshot corpus size.
func (a *Analyzer) idfLocked(term string) float64 {
	if v, ok := a.idf[term]; ok {
		return v
	}
	return math.Log(1.0 + float64(maxInt(a.docsAtRebuild, 1)))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
