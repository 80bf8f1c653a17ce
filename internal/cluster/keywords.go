package cluster

import (
	"sort"
	"strings"
	"unicode"

	"github.com/docpipe/docpipe/internal/types"
)

// stopwords are excluded from keyword extraction.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "with": {}, "this": {},
	"from": {}, "are": {}, "was": {}, "were": {}, "been": {}, "but": {},
	"not": {}, "you": {}, "your": {}, "all": {}, "can": {}, "has": {},
	"have": {}, "had": {}, "will": {}, "would": {}, "should": {}, "could": {},
	"there": {}, "their": {}, "they": {}, "them": {}, "then": {}, "than": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "who": {},
	"how": {}, "why": {}, "its": {}, "also": {}, "into": {}, "over": {},
	"under": {}, "more": {}, "most": {}, "some": {}, "such": {}, "only": {},
	"very": {}, "just": {}, "about": {}, "after": {}, "before": {},
	"between": {}, "each": {}, "other": {}, "these": {}, "those": {},
	"because": {}, "through": {}, "during": {}, "again": {}, "against": {},
	"same": {}, "does": {}, "did": {}, "doing": {}, "being": {}, "any": {},
	"both": {}, "here": {}, "now": {}, "out": {}, "off": {}, "our": {},
}

// clusterKeywords ranks the tokens of a cluster's documents. A token's
// score is its term frequency in each document weighted by that
// document's cosine similarity to the centroid, summed over the cluster,
// so tokens from documents near the centroid dominate. Ties break
// lexicographically to keep the output stable.
func clusterKeywords(docs []*types.Document, sims []float64, topK int) []string {
	if topK < 1 {
		return nil
	}

	scores := make(map[string]float64)
	for i, doc := range docs {
		for token, tf := range tokenize(doc.Content.Body) {
			scores[token] += float64(tf) * sims[i]
		}
	}
	if len(scores) == 0 {
		return nil
	}

	type scored struct {
		token string
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for token, score := range scores {
		ranked = append(ranked, scored{token, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].token < ranked[j].token
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	keywords := make([]string, len(ranked))
	for i, s := range ranked {
		keywords[i] = s.token
	}
	return keywords
}

// tokenize lowercases the text and splits on non-alphanumeric runs,
// dropping stopwords and tokens shorter than three characters.
func tokenize(text string) map[string]int {
	split := func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}
	counts := make(map[string]int)
	for _, token := range strings.FieldsFunc(strings.ToLower(text), split) {
		if len(token) < 3 {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		counts[token]++
	}
	return counts
}
