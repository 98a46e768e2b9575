// keywords.go freezes the keyword, negation and strong-phrase tables that
// drive fact extraction. The tables are the domain logic: tests enumerate
// them, and changing a table changes what the pipeline flags.
//
// Negation terms suppress a keyword hit when they appear within the
// ±100-char window around it ("adequate liquidity" must not flag liquidity
// stress). Strong phrases raise severity and confidence when present
// anywhere in the document.
package extract

import "market-intel/pkg/types"

// RuleSet is the frozen configuration of one extractor.
type RuleSet struct {
	Fact           types.FactType
	Signal         types.SignalType
	Keywords       []string
	Negations      []string
	StrongPhrases  []string
	BaseConfidence float64
	// DocTypes restricts the extractor; empty means all document types.
	DocTypes []types.DocumentType
}

// Rules returns every frozen rule set, one per fact type.
func Rules() []RuleSet {
	return []RuleSet{
		{
			Fact:   types.FactDilution,
			Signal: types.SignalDilution,
			Keywords: []string{
				"dilution", "dilutive", "shelf registration", "at-the-market offering",
				"atm program", "secondary offering", "equity offering", "warrant exercise",
				"convertible notes", "share issuance", "registered direct offering",
			},
			Negations: []string{
				"no dilution", "anti-dilution", "non-dilutive", "without dilution",
				"will not be dilutive",
			},
			StrongPhrases: []string{
				"substantial dilution", "significant dilution", "highly dilutive",
			},
			BaseConfidence: 0.45,
		},
		{
			Fact:   types.FactGoingConcern,
			Signal: types.SignalGoingConcern,
			Keywords: []string{
				"going concern", "substantial doubt", "ability to continue",
				"may not be able to continue", "liquidation", "wind down",
			},
			Negations: []string{
				"no substantial doubt", "alleviated the substantial doubt",
				"removed the going concern",
			},
			StrongPhrases: []string{
				"substantial doubt about the company's ability to continue as a going concern",
				"substantial doubt about our ability to continue",
			},
			BaseConfidence: 0.55,
		},
		{
			Fact:   types.FactLiquidity,
			Signal: types.SignalLiquidity,
			Keywords: []string{
				"liquidity", "cash burn", "runway", "working capital deficit",
				"insufficient cash", "capital resources", "covenant breach",
				"defer payments", "cash constraints",
			},
			Negations: []string{
				"adequate liquidity", "ample liquidity", "strong liquidity",
				"sufficient liquidity", "no liquidity concerns", "excess liquidity",
			},
			StrongPhrases: []string{
				"insufficient cash to fund operations", "working capital deficit",
				"covenant breach",
			},
			BaseConfidence: 0.40,
		},
		{
			Fact:   types.FactToxicFinancing,
			Signal: types.SignalToxicFinancing,
			Keywords: []string{
				"death spiral", "variable rate convertible", "floorless convertible",
				"reset provision", "ratchet", "toxic", "discount to vwap",
				"equity line of credit",
			},
			Negations: []string{
				"no reset provision", "fixed conversion price",
			},
			StrongPhrases: []string{
				"death spiral", "floorless convertible",
			},
			BaseConfidence: 0.50,
		},
		{
			Fact:   types.FactLayoffs,
			Signal: types.SignalLayoffs,
			Keywords: []string{
				"layoff", "layoffs", "workforce reduction", "reduction in force",
				"headcount reduction", "restructuring", "severance", "furlough",
				"plant closure", "discontinued operations",
			},
			Negations: []string{
				"no layoffs", "avoided layoffs", "without layoffs", "no restructuring",
			},
			StrongPhrases: []string{
				"workforce reduction", "reduction in force",
			},
			BaseConfidence: 0.40,
		},
		{
			Fact:   types.FactGuidanceCut,
			Signal: types.SignalGuidanceCut,
			Keywords: []string{
				"lower guidance", "lowering guidance", "reduced guidance", "cut guidance",
				"revised downward", "below expectations", "withdraw guidance",
				"withdrawing guidance", "softer demand", "headwinds",
			},
			Negations: []string{
				"raising guidance", "raised guidance", "above expectations",
				"reaffirm guidance", "reaffirmed guidance", "maintaining guidance",
			},
			StrongPhrases: []string{
				"withdraw guidance", "withdrawing guidance",
			},
			BaseConfidence: 0.45,
			DocTypes:       []types.DocumentType{types.DocTypeTranscript, types.DocTypeNews},
		},
	}
}
