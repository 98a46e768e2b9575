// Package extract implements the deterministic fact extractors. Every
// extractor is a pure function over (cleanedText, sections, documentType)
// following one shared pattern:
//
//  1. Scan for the rule set's keywords, case-insensitively.
//  2. Drop hits with a negation term inside a ±100-char window.
//  3. Compute keyword density per 1000 words.
//  4. Parse adjacent numerics (dollars, percentages, headcounts, months).
//  5. Assign severity by a ladder over match count, strong phrases and
//     numeric magnitude.
//  6. Compute confidence = base + density/strong/numeric boosts, ≤ 0.95.
//  7. Emit ±75-char snippets for the first matches, tagged with section and
//     nearest preceding speaker.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"market-intel/pkg/types"
)

const (
	negationWindow = 100 // chars either side of a hit
	snippetWindow  = 75
	maxSnippets    = 5
	maxConfidence  = 0.95
)

// Result is one extractor's verdict on a document.
type Result struct {
	Fact       types.FactType
	Signal     types.SignalType
	Matches    int
	Density    float64 // matches per 1000 words
	Severity   types.Severity
	Score      float64 // [0,100]
	Confidence float64 // [0,1]
	Reason     string
	Numerics   Numerics
	Snippets   []types.Snippet
}

// Extractor applies one frozen rule set.
type Extractor struct {
	rules RuleSet
}

// New creates an extractor for a rule set.
func New(rules RuleSet) *Extractor {
	return &Extractor{rules: rules}
}

// All returns one extractor per frozen rule set.
func All() []*Extractor {
	rules := Rules()
	out := make([]*Extractor, len(rules))
	for i, r := range rules {
		out[i] = New(r)
	}
	return out
}

// Rules exposes the extractor's frozen configuration.
func (e *Extractor) Rules() RuleSet { return e.rules }

// Applies reports whether the extractor covers a document type.
func (e *Extractor) Applies(docType types.DocumentType) bool {
	if len(e.rules.DocTypes) == 0 {
		return true
	}
	for _, t := range e.rules.DocTypes {
		if t == docType {
			return true
		}
	}
	return false
}

// Extract scans a document. Returns nil when no surviving keyword hit.
func (e *Extractor) Extract(text string, sections map[string]string, docType types.DocumentType) *Result {
	if !e.Applies(docType) {
		return nil
	}

	lower := strings.ToLower(text)
	hits := e.scan(lower)
	if len(hits) == 0 {
		return nil
	}

	words := len(strings.Fields(text))
	density := 0.0
	if words > 0 {
		density = float64(len(hits)) / float64(words) * 1000
	}

	numerics := e.parseNumerics(lower, hits)
	strong := e.strongPhrase(lower)

	severity, score := e.severity(len(hits), strong, numerics)
	confidence := e.confidence(density, strong, numerics)

	res := &Result{
		Fact:       e.rules.Fact,
		Signal:     e.rules.Signal,
		Matches:    len(hits),
		Density:    density,
		Severity:   severity,
		Score:      score,
		Confidence: confidence,
		Reason:     e.reason(len(hits), strong),
		Numerics:   numerics,
		Snippets:   e.snippets(text, hits, docType),
	}
	return res
}

// hit is one surviving keyword match.
type hit struct {
	offset  int
	keyword string
}

// scan finds keyword hits and applies the negation window. Overlapping
// keywords ("layoff" inside "layoffs") collapse to one hit per offset,
// keeping the longest keyword.
func (e *Extractor) scan(lower string) []hit {
	byOffset := make(map[int]hit)
	for _, kw := range e.rules.Keywords {
		kwLower := strings.ToLower(kw)
		from := 0
		for {
			i := strings.Index(lower[from:], kwLower)
			if i < 0 {
				break
			}
			offset := from + i
			if !e.negated(lower, offset, len(kwLower)) {
				if prev, ok := byOffset[offset]; !ok || len(kw) > len(prev.keyword) {
					byOffset[offset] = hit{offset: offset, keyword: kw}
				}
			}
			from = offset + len(kwLower)
		}
	}

	hits := make([]hit, 0, len(byOffset))
	for _, h := range byOffset {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].offset < hits[j].offset })
	return hits
}

// negated inspects the ±100-char window around a hit for negation terms.
func (e *Extractor) negated(lower string, offset, kwLen int) bool {
	start := offset - negationWindow
	if start < 0 {
		start = 0
	}
	end := offset + kwLen + negationWindow
	if end > len(lower) {
		end = len(lower)
	}
	window := lower[start:end]

	for _, neg := range e.rules.Negations {
		if strings.Contains(window, strings.ToLower(neg)) {
			return true
		}
	}
	return false
}

// parseNumerics parses quantitative captures from the windows around the
// hits rather than the whole document, so unrelated figures don't inflate
// magnitudes.
func (e *Extractor) parseNumerics(lower string, hits []hit) Numerics {
	var merged Numerics
	for _, h := range hits {
		start := h.offset - negationWindow
		if start < 0 {
			start = 0
		}
		end := h.offset + len(h.keyword) + negationWindow
		if end > len(lower) {
			end = len(lower)
		}
		n := ParseNumerics(lower[start:end])
		merged.DollarAmounts = append(merged.DollarAmounts, n.DollarAmounts...)
		merged.Percentages = append(merged.Percentages, n.Percentages...)
		merged.Headcounts = append(merged.Headcounts, n.Headcounts...)
		merged.RunwayMonths = append(merged.RunwayMonths, n.RunwayMonths...)
	}
	return merged
}

func (e *Extractor) strongPhrase(lower string) bool {
	for _, phrase := range e.rules.StrongPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// severity ladders match count, strong phrases and numeric magnitude into
// (severity, score).
func (e *Extractor) severity(matches int, strong bool, numerics Numerics) (types.Severity, float64) {
	score := float64(matches) * 12
	if strong {
		score += 30
	}
	if numerics.MaxDollars() >= 100e6 || numerics.MaxPercent() >= 50 || numerics.MaxHeadcount() >= 1000 {
		score += 20
	} else if !numerics.Empty() {
		score += 10
	}
	if runway := numerics.MinRunway(); runway > 0 && runway <= 12 {
		score += 15
	}
	if score > 100 {
		score = 100
	}

	switch {
	case score >= 75:
		return types.SeverityCritical, score
	case score >= 50:
		return types.SeverityHigh, score
	case score >= 25:
		return types.SeverityMedium, score
	default:
		return types.SeverityLow, score
	}
}

// confidence adds boosts to the rule set's base and clamps to 0.95.
func (e *Extractor) confidence(density float64, strong bool, numerics Numerics) float64 {
	conf := e.rules.BaseConfidence
	switch {
	case density >= 2.0:
		conf += 0.20
	case density >= 1.0:
		conf += 0.12
	case density >= 0.5:
		conf += 0.06
	}
	if strong {
		conf += 0.15
	}
	if !numerics.Empty() {
		conf += 0.10
	}
	if conf > maxConfidence {
		conf = maxConfidence
	}
	return conf
}

func (e *Extractor) reason(matches int, strong bool) string {
	label := strings.ToLower(strings.ReplaceAll(string(e.rules.Fact), "_", " "))
	reason := fmt.Sprintf("%s: %d keyword match", label, matches)
	if matches != 1 {
		reason += "es"
	}
	if strong {
		reason += ", strong phrase present"
	}
	return reason
}

// speakerRe matches transcript speaker labels like "Jane Smith:" at line
// starts.
var speakerRe = regexp.MustCompile(`(?m)^([A-Z][A-Za-z.'\- ]{2,60}):`)

// snippets emits evidence windows for the first matches.
func (e *Extractor) snippets(text string, hits []hit, docType types.DocumentType) []types.Snippet {
	n := len(hits)
	if n > maxSnippets {
		n = maxSnippets
	}

	// Pre-compute the Q&A boundary once for transcripts.
	qaOffset := -1
	if docType == types.DocTypeTranscript {
		if loc := qaMarkerRe.FindStringIndex(text); loc != nil {
			qaOffset = loc[0]
		}
	}

	out := make([]types.Snippet, 0, n)
	for _, h := range hits[:n] {
		start := h.offset - snippetWindow
		if start < 0 {
			start = 0
		}
		end := h.offset + len(h.keyword) + snippetWindow
		if end > len(text) {
			end = len(text)
		}

		snip := types.Snippet{
			Text:   strings.TrimSpace(text[start:end]),
			Offset: h.offset,
		}
		if docType == types.DocTypeTranscript {
			if qaOffset >= 0 && h.offset >= qaOffset {
				snip.Section = "QA"
			} else {
				snip.Section = "PREPARED_REMARKS"
			}
			snip.Speaker = nearestSpeaker(text, h.offset)
		}
		out = append(out, snip)
	}
	return out
}

// qaMarkerRe mirrors the parser's transcript split marker.
var qaMarkerRe = regexp.MustCompile(`(?i)(?:question[- ]and[- ]answer|q&a)\s*(?:session|period|portion)?`)

// nearestSpeaker returns the last speaker label preceding an offset.
func nearestSpeaker(text string, offset int) string {
	matches := speakerRe.FindAllStringSubmatchIndex(text[:offset], -1)
	if len(matches) == 0 {
		return ""
	}
	last := matches[len(matches)-1]
	return strings.TrimSpace(text[last[2]:last[3]])
}
