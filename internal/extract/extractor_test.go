package extract

import (
	"strings"
	"testing"

	"market-intel/pkg/types"
)

func extractorFor(t *testing.T, fact types.FactType) *Extractor {
	t.Helper()
	for _, r := range Rules() {
		if r.Fact == fact {
			return New(r)
		}
	}
	t.Fatalf("no rule set for %s", fact)
	return nil
}

func TestRulesTablesAreWellFormed(t *testing.T) {
	t.Parallel()
	rules := Rules()
	if len(rules) == 0 {
		t.Fatal("no rule sets")
	}

	seen := map[types.FactType]bool{}
	for _, r := range rules {
		if seen[r.Fact] {
			t.Errorf("duplicate rule set for %s", r.Fact)
		}
		seen[r.Fact] = true

		if len(r.Keywords) == 0 {
			t.Errorf("%s: empty keyword list", r.Fact)
		}
		if r.BaseConfidence <= 0 || r.BaseConfidence >= 1 {
			t.Errorf("%s: base confidence %v out of (0,1)", r.Fact, r.BaseConfidence)
		}
		if r.Signal == "" {
			t.Errorf("%s: no signal type", r.Fact)
		}
	}
}

func TestKeywordMatchEmitsResult(t *testing.T) {
	t.Parallel()
	ex := extractorFor(t, types.FactGoingConcern)

	text := "The audit report expresses substantial doubt about the company's " +
		"ability to continue as a going concern beyond the next twelve months."
	res := ex.Extract(text, nil, types.DocTypeFiling)
	if res == nil {
		t.Fatal("no result for matching text")
	}
	if res.Matches == 0 {
		t.Error("matches = 0")
	}
	if res.Confidence <= 0 || res.Confidence > 0.95 {
		t.Errorf("confidence = %v, want (0, 0.95]", res.Confidence)
	}
	if res.Score < 0 || res.Score > 100 {
		t.Errorf("score = %v, want [0,100]", res.Score)
	}
	if len(res.Snippets) == 0 {
		t.Error("no snippets emitted")
	}
}

// "adequate liquidity" inside the negation window must suppress the hit.
func TestNegationWindowSuppresses(t *testing.T) {
	t.Parallel()
	ex := extractorFor(t, types.FactLiquidity)

	negated := "Management believes the company maintains adequate liquidity for the coming year."
	if res := ex.Extract(negated, nil, types.DocTypeFiling); res != nil {
		t.Errorf("negated text produced result with %d matches", res.Matches)
	}

	flagged := "The company faces severe cash burn and its liquidity has deteriorated sharply."
	if res := ex.Extract(flagged, nil, types.DocTypeFiling); res == nil {
		t.Error("non-negated text produced no result")
	}
}

// A negation far outside the ±100-char window must not suppress.
func TestNegationOutsideWindowDoesNotSuppress(t *testing.T) {
	t.Parallel()
	ex := extractorFor(t, types.FactLiquidity)

	filler := strings.Repeat("x ", 120)
	text := "adequate liquidity was reported last year. " + filler +
		" The company now faces a working capital deficit and severe cash burn."
	res := ex.Extract(text, nil, types.DocTypeFiling)
	if res == nil {
		t.Fatal("distant negation suppressed the hit")
	}
}

func TestConfidenceClamp(t *testing.T) {
	t.Parallel()
	ex := extractorFor(t, types.FactDilution)

	// Dense repetition with strong phrases and numerics pushes every boost.
	text := strings.Repeat("substantial dilution from the shelf registration of $500 million. ", 40)
	res := ex.Extract(text, nil, types.DocTypeFiling)
	if res == nil {
		t.Fatal("no result")
	}
	if res.Confidence > 0.95 {
		t.Errorf("confidence = %v, want clamped ≤ 0.95", res.Confidence)
	}
}

func TestDensityPerThousandWords(t *testing.T) {
	t.Parallel()
	ex := extractorFor(t, types.FactLayoffs)

	// 1 match in exactly 500 words → density 2.0.
	words := make([]string, 0, 500)
	words = append(words, "layoffs")
	for len(words) < 500 {
		words = append(words, "word")
	}
	res := ex.Extract(strings.Join(words, " "), nil, types.DocTypeNews)
	if res == nil {
		t.Fatal("no result")
	}
	if res.Density < 1.99 || res.Density > 2.01 {
		t.Errorf("density = %v, want 2.0", res.Density)
	}
}

func TestTranscriptSnippetsCarrySectionAndSpeaker(t *testing.T) {
	t.Parallel()
	ex := extractorFor(t, types.FactGuidanceCut)

	text := "Operator: Welcome to the call.\n" +
		"Jane Smith: Thank you all for joining, our quarter went well.\n" +
		"Question-and-Answer Session\n" +
		"Bob Jones: Given the environment, are you lowering guidance for the full year?\n"
	res := ex.Extract(text, nil, types.DocTypeTranscript)
	if res == nil {
		t.Fatal("no result")
	}
	if len(res.Snippets) == 0 {
		t.Fatal("no snippets")
	}

	snip := res.Snippets[0]
	if snip.Section != "QA" {
		t.Errorf("section = %q, want QA", snip.Section)
	}
	if snip.Speaker != "Bob Jones" {
		t.Errorf("speaker = %q, want Bob Jones", snip.Speaker)
	}
}

func TestDocTypeRestriction(t *testing.T) {
	t.Parallel()
	ex := extractorFor(t, types.FactGuidanceCut)

	text := "We are lowering guidance for the remainder of the year."
	if res := ex.Extract(text, nil, types.DocTypeFiling); res != nil {
		t.Error("guidance-cut extractor should not run on filings")
	}
	if res := ex.Extract(text, nil, types.DocTypeTranscript); res == nil {
		t.Error("guidance-cut extractor should run on transcripts")
	}
}

func TestParseNumerics(t *testing.T) {
	t.Parallel()

	n := ParseNumerics("raised $1.5 billion, cut 2,300 employees, burn down 45% with 9 months of runway")
	if n.MaxDollars() != 1.5e9 {
		t.Errorf("maxDollars = %v, want 1.5e9", n.MaxDollars())
	}
	if n.MaxHeadcount() != 2300 {
		t.Errorf("maxHeadcount = %v, want 2300", n.MaxHeadcount())
	}
	if n.MaxPercent() != 45 {
		t.Errorf("maxPercent = %v, want 45", n.MaxPercent())
	}
	if n.MinRunway() != 9 {
		t.Errorf("minRunway = %v, want 9", n.MinRunway())
	}
}
