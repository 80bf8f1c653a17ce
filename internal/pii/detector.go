package pii

import (
	"sort"
	"strings"
)

// Match is one detected span, in byte offsets into the body.
type Match struct {
	Type  string
	Start int
	End   int
}

// Detector combines the regex pattern set with an optional NER tagger.
type Detector struct {
	tagger Tagger // nil disables NER
}

// NewDetector creates a detector. A nil tagger runs regex patterns only.
func NewDetector(tagger Tagger) *Detector {
	return &Detector{tagger: tagger}
}

// Detect returns the resolved matches for body: deduplicated, sorted by
// start offset, overlaps collapsed to the earliest-starting longest match.
// A tagger failure returns the regex matches alongside the error so the
// caller can degrade instead of losing the document.
func (d *Detector) Detect(body string) ([]Match, error) {
	var matches []Match
	for _, p := range patterns {
		for _, loc := range p.Re.FindAllStringIndex(body, -1) {
			matches = append(matches, Match{Type: p.Type, Start: loc[0], End: loc[1]})
		}
	}

	var nerErr error
	if d.tagger != nil {
		entities, err := d.tagger.Entities(body)
		if err != nil {
			nerErr = err
		}
		for _, ent := range entities {
			mapped, ok := nerLabels[strings.ToUpper(ent.Label)]
			if !ok || ent.Text == "" {
				continue
			}
			for _, start := range findOccurrences(body, ent.Text) {
				matches = append(matches, Match{Type: mapped, Start: start, End: start + len(ent.Text)})
			}
		}
	}

	return resolve(matches), nerErr
}

// resolve deduplicates, sorts by start (longest first on ties), and drops
// any match overlapping an earlier kept one.
func resolve(matches []Match) []Match {
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[Match]struct{}, len(matches))
	unique := matches[:0]
	for _, m := range matches {
		if m.Start < 0 || m.End <= m.Start {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		unique = append(unique, m)
	}

	sort.Slice(unique, func(i, j int) bool {
		if unique[i].Start != unique[j].Start {
			return unique[i].Start < unique[j].Start
		}
		if unique[i].End != unique[j].End {
			return unique[i].End > unique[j].End // longest first
		}
		return unique[i].Type < unique[j].Type
	})

	kept := unique[:0]
	lastEnd := -1
	for _, m := range unique {
		if m.Start < lastEnd {
			continue
		}
		kept = append(kept, m)
		lastEnd = m.End
	}
	return kept
}

// Redact replaces each match with a type-tagged token, right to left so
// earlier offsets stay valid. Matches must be sorted ascending, as
// returned by Detect.
func Redact(body string, matches []Match) string {
	out := body
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		if m.Start < 0 || m.End > len(out) || m.Start >= m.End {
			continue
		}
		out = out[:m.Start] + "[" + strings.ToUpper(m.Type) + "]" + out[m.End:]
	}
	return out
}

// Types returns the sorted unique detection types present in matches.
func Types(matches []Match) []string {
	set := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		set[m.Type] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// findOccurrences lists the start offsets of non-overlapping occurrences
// of sub in body.
func findOccurrences(body, sub string) []int {
	var starts []int
	offset := 0
	for {
		i := strings.Index(body[offset:], sub)
		if i < 0 {
			return starts
		}
		starts = append(starts, offset+i)
		offset += i + len(sub)
	}
}
