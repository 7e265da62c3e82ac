package quality

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/caretext/fidelis/internal/chart"
)

// SpecificityWeight is specificity's fixed contribution to the overall
// quality score.
const SpecificityWeight = 0.05

// Specificity sub-check weights.
const (
	weightValueSpecificity      = 0.35
	weightTemporalSpecificity   = 0.25
	weightClinicalDetail        = 0.20
	weightMedicationSpecificity = 0.10
	weightProcedureSpecificity  = 0.10
)

// Specificity issue types.
const (
	IssueGenericValue            = "GENERIC_VALUE"
	IssueNonNumericScore         = "NONNUMERIC_SCORE"
	IssueVagueTemporal           = "VAGUE_TEMPORAL"
	IssueVagueMeasurement        = "VAGUE_MEASUREMENT"
	IssueMissingAnatomicalDetail = "MISSING_ANATOMICAL_DETAIL"
	IssueGenericComplication     = "GENERIC_COMPLICATION"
	IssueGenericMedication       = "GENERIC_MEDICATION"
	IssueVagueDose               = "VAGUE_DOSE"
	IssueInvalidRoute            = "INVALID_ROUTE"
	IssueVagueFrequency          = "VAGUE_FREQUENCY"
	IssueGenericProcedure        = "GENERIC_PROCEDURE"
	IssueMissingApproach         = "MISSING_APPROACH"
)

// rewardCredit is the fractional credit granted per precise-pattern match,
// added to both numerator and denominator so rewards lift without risking
// failure.
const rewardCredit = 0.1

// genericValuePenaltyCap triggers the flat specificity penalty: more than
// this many GENERIC_VALUE issues under RequirePreciseValues costs 0.05.
const genericValuePenaltyCap = 5

var (
	dimensionRE     = regexp.MustCompile(`(?i)\d+(\.\d+)?\s*[x×]\s*\d+(\.\d+)?`)
	valueWithUnitRE = regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(mg/dl|mmol/l|meq/l|mcg|mg|g|kg|ml|dl|l|%|units?|iu|k/ul|mmhg)\b`)
	sizeCmMmRE      = regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(cm|mm)\b`)
	measurementRE   = regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(mg|mcg|ml|cc|cm|mm|mmhg|%|units?|liters?|l\b)`)
	clockTimeRE     = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
	podRE           = regexp.MustCompile(`(?i)\b(?:pod\s*#?\s*\d+|post-?op(?:erative)?\s+day\s*\d+|hospital\s+day\s*\d+)`)
	durationRE      = regexp.MustCompile(`(?i)\b\d+\s*(?:days?|weeks?|months?|hours?|minutes?)\b`)
	literalDateRE   = regexp.MustCompile(`(?i)\b(?:\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2}|(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4})\b`)

	genericLabTerms     = []string{"normal", "elevated", "high", "low", "abnormal"}
	genericImagingTerms = []string{"normal", "abnormal", "unchanged"}
)

// SpecificityOptions configures a specificity scoring run.
type SpecificityOptions struct {
	// RequirePreciseValues applies a flat 0.05 penalty when more than five
	// GENERIC_VALUE issues accumulate. Enabled by default.
	RequirePreciseValues bool
}

// DefaultSpecificityOptions returns the standard options.
func DefaultSpecificityOptions() SpecificityOptions {
	return SpecificityOptions{RequirePreciseValues: true}
}

// SpecificityScorer evaluates vagueness vs. precision of the generated
// narrative and the extracted record. Stateless beyond its vocabulary; safe
// for concurrent use.
type SpecificityScorer struct {
	vocab Vocabulary
}

// NewSpecificityScorer builds a scorer with the given vocabulary. A
// zero-value vocabulary falls back to DefaultVocabulary.
func NewSpecificityScorer(vocab Vocabulary) *SpecificityScorer {
	if vocab.isZero() {
		vocab = DefaultVocabulary()
	}
	return &SpecificityScorer{vocab: vocab}
}

// Score runs the five weighted specificity sub-checks and applies the
// generic-value penalty. Tolerates nil narrative and nil record.
func (s *SpecificityScorer) Score(narrative any, rec *chart.ExtractedRecord, opts SpecificityOptions) ScoreResult {
	if rec == nil {
		rec = &chart.ExtractedRecord{}
	}
	lowerNarrative := strings.ToLower(chart.NarrativeText(narrative))

	result := runPipeline("specificity", SpecificityWeight, []WeightedCheck{
		{Name: "value_specificity", Weight: weightValueSpecificity, Run: func() CheckOutcome {
			return s.checkValueSpecificity(lowerNarrative, rec)
		}},
		{Name: "temporal_specificity", Weight: weightTemporalSpecificity, Run: func() CheckOutcome {
			return s.checkTemporalSpecificity(lowerNarrative)
		}},
		{Name: "clinical_detail", Weight: weightClinicalDetail, Run: func() CheckOutcome {
			return s.checkClinicalDetail(rec)
		}},
		{Name: "medication_specificity", Weight: weightMedicationSpecificity, Run: func() CheckOutcome {
			return s.checkMedicationSpecificity(rec.Medications)
		}},
		{Name: "procedure_specificity", Weight: weightProcedureSpecificity, Run: func() CheckOutcome {
			return s.checkProcedureSpecificity(rec.Procedures)
		}},
	})

	if opts.RequirePreciseValues && result.countIssues(IssueGenericValue) > genericValuePenaltyCap {
		result.applyPenalty(0.05)
	}
	return result
}

// checkValueSpecificity penalizes vague quantifiers and non-numeric scores,
// and rewards measurement patterns in the narrative.
func (s *SpecificityScorer) checkValueSpecificity(lowerNarrative string, rec *chart.ExtractedRecord) CheckOutcome {
	var out CheckOutcome

	for _, term := range s.vocab.VagueQuantifiers {
		for i := 0; i < countWordMatches(lowerNarrative, term); i++ {
			out.flag(IssueGenericValue, term, SeverityMinor, "replace the vague quantifier with a measured value")
		}
	}

	if f := rec.Functional; f != nil {
		if kps := strings.TrimSpace(f.KPS); kps != "" {
			if _, err := strconv.Atoi(strings.TrimSuffix(kps, "%")); err == nil {
				out.add(true)
			} else {
				out.flag(IssueNonNumericScore, "kps", SeverityMinor, "KPS should be a numeric score")
			}
		}
		if gcs := strings.TrimSpace(f.GCS); gcs != "" {
			if n, err := strconv.Atoi(gcs); err == nil && n >= 3 && n <= 15 {
				out.add(true)
			} else {
				out.flag(IssueNonNumericScore, "gcs", SeverityMinor, "GCS should be numeric in [3,15]")
			}
		}
	}

	for _, lab := range rec.Labs {
		value := strings.TrimSpace(lab.Value)
		if value == "" {
			continue
		}
		switch {
		case valueWithUnitRE.MatchString(value):
			out.add(true)
		case containsTerm(genericLabTerms, chart.NormalizeKey(value)):
			out.flag(IssueGenericValue, lab.Name, SeverityMinor, "report the numeric lab value with its unit")
		default:
			out.add(false)
		}
	}

	precise := len(measurementRE.FindAllString(lowerNarrative, -1)) +
		len(dimensionRE.FindAllString(lowerNarrative, -1))
	out.reward(rewardCredit * float64(precise))

	return out
}

// checkTemporalSpecificity penalizes vague time references and rewards
// literal dates, clock times, post-op day markers, and numeric durations.
func (s *SpecificityScorer) checkTemporalSpecificity(lowerNarrative string) CheckOutcome {
	var out CheckOutcome

	for _, term := range s.vocab.VagueTemporal {
		for i := 0; i < countWordMatches(lowerNarrative, term); i++ {
			out.flag(IssueVagueTemporal, term, SeverityMinor, "anchor the time reference to a date or day number")
		}
	}

	precise := len(literalDateRE.FindAllString(lowerNarrative, -1)) +
		len(clockTimeRE.FindAllString(lowerNarrative, -1)) +
		len(podRE.FindAllString(lowerNarrative, -1)) +
		len(durationRE.FindAllString(lowerNarrative, -1))
	out.reward(rewardCredit * float64(precise))

	return out
}

// checkClinicalDetail validates tumor descriptors, imaging findings, and
// complication names for usable precision.
func (s *SpecificityScorer) checkClinicalDetail(rec *chart.ExtractedRecord) CheckOutcome {
	var out CheckOutcome

	if t := rec.Tumor; t != nil {
		if size := strings.TrimSpace(t.Size); size != "" {
			if dimensionRE.MatchString(size) {
				out.add(true)
			} else {
				out.flag(IssueVagueMeasurement, "tumor_size", SeverityMinor, "tumor size should be dimensional, e.g. 3.2 x 2.8 cm")
			}
		}
		if loc := chart.NormalizeKey(t.Location); loc != "" {
			if containsAnyTerm(loc, s.vocab.AnatomicalTerms) {
				out.add(true)
			} else {
				out.flag(IssueMissingAnatomicalDetail, "tumor_location", SeverityMinor, "name the anatomical location")
			}
		}
	}

	if img := rec.Imaging; img != nil {
		for _, finding := range img.Findings {
			f := strings.TrimSpace(finding)
			if f == "" {
				continue
			}
			switch {
			case sizeCmMmRE.MatchString(f):
				out.add(true)
			case containsTerm(genericImagingTerms, chart.NormalizeKey(f)):
				out.flag(IssueGenericValue, "imaging", SeverityMinor, "describe the finding with a measurement")
			default:
				// Descriptive but unmeasured text earns partial credit.
				out.addPartial(0.5)
			}
		}
	}

	for _, comp := range rec.Complications {
		name := chart.NormalizeKey(comp.Name)
		if name == "" {
			continue
		}
		if containsTerm(s.vocab.GenericComplications, name) {
			out.flag(IssueGenericComplication, comp.Name, SeverityMinor, "qualify the complication (site, organism, grade)")
		} else {
			out.add(true)
		}
	}

	return out
}

func (s *SpecificityScorer) checkMedicationSpecificity(meds []chart.Medication) CheckOutcome {
	var out CheckOutcome
	for _, med := range meds {
		name := chart.NormalizeKey(med.Name)
		if name != "" {
			if containsTerm(s.vocab.DrugClassNames, name) {
				out.flag(IssueGenericMedication, med.Name, SeverityMajor, "name the specific drug, not its class")
			} else {
				out.add(true)
			}
		}

		if dose := strings.TrimSpace(med.Dose); dose != "" {
			normDose := chart.NormalizeKey(dose)
			switch {
			case valueWithUnitRE.MatchString(dose):
				out.add(true)
			case containsAnyTerm(normDose, s.vocab.VagueDoseTerms):
				out.flag(IssueVagueDose, med.Name, SeverityMajor, "state the numeric dose with its unit")
			default:
				out.addPartial(0.5)
			}
		}

		if route := chart.NormalizeKey(med.Route); route != "" {
			if containsTerm(s.vocab.Routes, route) {
				out.add(true)
			} else {
				out.flag(IssueInvalidRoute, med.Name, SeverityMinor, "use a standard administration route")
			}
		}

		if freq := chart.NormalizeKey(med.Frequency); freq != "" {
			switch {
			case containsTerm(s.vocab.Frequencies, freq):
				out.add(true)
			case strings.Contains(freq, "prn") || strings.Contains(freq, "as needed"):
				out.addPartial(0.5)
			default:
				out.flag(IssueVagueFrequency, med.Name, SeverityMinor, "use a standard dosing frequency")
			}
		}
	}
	return out
}

func (s *SpecificityScorer) checkProcedureSpecificity(procs []chart.Procedure) CheckOutcome {
	var out CheckOutcome
	for _, proc := range procs {
		name := chart.NormalizeKey(proc.Name)
		if name == "" {
			continue
		}

		if containsTerm(s.vocab.GenericProcedures, name) {
			out.flag(IssueGenericProcedure, proc.Name, SeverityMajor, "name the specific procedure performed")
			continue
		}

		if containsAnyTerm(name, s.vocab.AnatomicalTerms) {
			out.add(true)
		} else {
			out.flagPartial(0.7, IssueMissingAnatomicalDetail, proc.Name, SeverityMinor,
				"add the anatomical site to the procedure name")
		}

		if strings.Contains(name, "craniotomy") || strings.Contains(name, "craniectomy") || strings.Contains(name, "approach") {
			if containsAnyTerm(name, s.vocab.SurgicalApproaches) {
				out.add(true)
			} else {
				out.flag(IssueMissingApproach, proc.Name, SeverityMinor, "name the surgical approach")
			}
		}
	}
	return out
}

// countWordMatches counts word-boundary occurrences of a term in
// lower-cased text.
func countWordMatches(lowerText, term string) int {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(term)) + `\b`)
	if err != nil {
		return strings.Count(lowerText, strings.ToLower(term))
	}
	return len(re.FindAllString(lowerText, -1))
}
