package quality

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/caretext/fidelis/internal/chart"
)

// AccuracyWeight is accuracy's fixed contribution to the overall quality
// score. The remaining dimensions (specificity plus four outer-level ones)
// bring the total to 1.0.
const AccuracyWeight = 0.25

// Accuracy sub-check weights. Medications carry the most weight: a
// transcription error there is a patient-safety problem.
const (
	weightDemographics   = 0.15
	weightDates          = 0.20
	weightMedications    = 0.25
	weightProcedures     = 0.20
	weightHallucinations = 0.10
	weightClinicalValues = 0.10
)

// Accuracy issue types.
const (
	IssueNameMismatch           = "NAME_MISMATCH"
	IssueMRNMismatch            = "MRN_MISMATCH"
	IssueAgeMismatch            = "AGE_MISMATCH"
	IssueDateNotFound           = "DATE_NOT_FOUND"
	IssueDateInconsistency      = "DATE_INCONSISTENCY"
	IssueMedicationNotFound     = "MEDICATION_NOT_FOUND"
	IssueDoseNotFound           = "DOSE_NOT_FOUND"
	IssueFrequencyNotFound      = "FREQUENCY_NOT_FOUND"
	IssueProcedureNotFound      = "PROCEDURE_NOT_FOUND"
	IssueProcedureDateNotFound  = "PROCEDURE_DATE_NOT_FOUND"
	IssueHallucinatedPhysician  = "HALLUCINATED_PHYSICIAN"
	IssueHallucinatedMedication = "HALLUCINATED_MEDICATION"
	IssueScoreNotFound          = "SCORE_NOT_FOUND"
)

var physicianMentionRE = regexp.MustCompile(`Dr\.?\s+([A-Z][A-Za-z-]+)`)

// AccuracyOptions configures an accuracy scoring run.
type AccuracyOptions struct {
	// StrictValidation applies the critical-issue penalty after
	// aggregation. Enabled by default.
	StrictValidation bool
}

// DefaultAccuracyOptions returns the standard options (strict validation on).
func DefaultAccuracyOptions() AccuracyOptions {
	return AccuracyOptions{StrictValidation: true}
}

// AccuracyScorer cross-checks structured extraction output and generated
// narrative text against the raw source notes. Stateless beyond its
// vocabulary; safe for concurrent use.
type AccuracyScorer struct {
	vocab Vocabulary
}

// NewAccuracyScorer builds a scorer with the given vocabulary. A zero-value
// vocabulary falls back to DefaultVocabulary.
func NewAccuracyScorer(vocab Vocabulary) *AccuracyScorer {
	if vocab.isZero() {
		vocab = DefaultVocabulary()
	}
	return &AccuracyScorer{vocab: vocab}
}

// Score runs the six weighted accuracy sub-checks and applies the
// critical-issue penalty under strict validation. Never panics on partial or
// nil input: fields that are absent are skipped, not scored.
func (s *AccuracyScorer) Score(rec *chart.ExtractedRecord, sourceNotes string, narrative any, opts AccuracyOptions) ScoreResult {
	if rec == nil {
		rec = &chart.ExtractedRecord{}
	}
	lowerSource := strings.ToLower(sourceNotes)
	narrativeText := chart.NarrativeText(narrative)

	result := runPipeline("accuracy", AccuracyWeight, []WeightedCheck{
		{Name: "demographics", Weight: weightDemographics, Run: func() CheckOutcome {
			return s.checkDemographics(rec.Demographics, sourceNotes, lowerSource)
		}},
		{Name: "dates", Weight: weightDates, Run: func() CheckOutcome {
			return s.checkDates(rec.Dates, lowerSource)
		}},
		{Name: "medications", Weight: weightMedications, Run: func() CheckOutcome {
			return s.checkMedications(rec.Medications, lowerSource)
		}},
		{Name: "procedures", Weight: weightProcedures, Run: func() CheckOutcome {
			return s.checkProcedures(rec.Procedures, lowerSource)
		}},
		{Name: "hallucinations", Weight: weightHallucinations, Run: func() CheckOutcome {
			return s.checkHallucinations(narrativeText, lowerSource)
		}},
		{Name: "clinical_values", Weight: weightClinicalValues, Run: func() CheckOutcome {
			return s.checkClinicalValues(rec.Functional, lowerSource)
		}},
	})

	if opts.StrictValidation {
		if criticals := result.CriticalCount(); criticals > 0 {
			penalty := 0.05 * float64(criticals)
			if penalty > 0.2 {
				penalty = 0.2
			}
			result.applyPenalty(penalty)
		}
	}
	return result
}

func (s *AccuracyScorer) checkDemographics(d *chart.Demographics, sourceNotes, lowerSource string) CheckOutcome {
	var out CheckOutcome
	if d == nil {
		return out
	}

	if name := strings.TrimSpace(d.Name); name != "" {
		if strings.Contains(lowerSource, strings.ToLower(name)) {
			out.add(true)
		} else {
			out.flag(IssueNameMismatch, "name", SeverityMajor, "verify the patient name against the source notes")
		}
	}

	if mrn := strings.TrimSpace(d.MRN); mrn != "" {
		if strings.Contains(sourceNotes, mrn) {
			out.add(true)
		} else {
			out.flag(IssueMRNMismatch, "mrn", SeverityCritical, "MRN does not appear in the source notes")
		}
	}

	if age := strings.TrimSpace(d.Age); age != "" {
		if ageAppearsInSource(lowerSource, age) {
			out.add(true)
		} else {
			out.flag(IssueAgeMismatch, "age", SeverityMinor, "age with unit not found in the source notes")
		}
	}

	return out
}

// ageAppearsInSource matches age-with-unit renderings: "67-year-old",
// "67 year old", "67 yo", "age 67", "age: 67".
func ageAppearsInSource(lowerSource, age string) bool {
	quoted := regexp.QuoteMeta(strings.ToLower(age))
	pattern := fmt.Sprintf(`\b(?:%s[\s-]*(?:year[\s-]*old|y/?o\b)|age[:\s]+%s\b)`, quoted, quoted)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.Contains(lowerSource, strings.ToLower(age))
	}
	return re.MatchString(lowerSource)
}

func (s *AccuracyScorer) checkDates(d *chart.KeyDates, lowerSource string) CheckOutcome {
	var out CheckOutcome
	if d == nil {
		return out
	}

	fields := []struct {
		name  string
		value string
	}{
		{"admission_date", d.Admission},
		{"discharge_date", d.Discharge},
		{"surgery_date", d.Surgery},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		if sourceContainsDate(lowerSource, f.value) {
			out.add(true)
		} else {
			out.flag(IssueDateNotFound, f.name, SeverityMajor, "date not found in source in any accepted format")
		}
	}

	// Chronology check: a discharge before admission is always wrong.
	if strings.TrimSpace(d.Admission) != "" && strings.TrimSpace(d.Discharge) != "" {
		admission, okA := parseDate(d.Admission)
		discharge, okD := parseDate(d.Discharge)
		if okA && okD && discharge.Before(admission) {
			out.flag(IssueDateInconsistency, "discharge_date", SeverityCritical,
				"discharge date precedes admission date")
		} else {
			out.add(true)
		}
	}

	return out
}

func (s *AccuracyScorer) checkMedications(meds []chart.Medication, lowerSource string) CheckOutcome {
	var out CheckOutcome
	for _, med := range meds {
		name := chart.NormalizeKey(med.Name)
		if name != "" {
			if s.termInSource(lowerSource, name) {
				out.add(true)
			} else {
				out.flag(IssueMedicationNotFound, med.Name, SeverityMajor,
					"medication not found in source notes (checked known abbreviations)")
			}
		}

		if dose := strings.TrimSpace(med.Dose); dose != "" {
			if strings.Contains(lowerSource, strings.ToLower(dose)) {
				out.add(true)
			} else {
				out.flag(IssueDoseNotFound, med.Name, SeverityMajor, "dose not found in source notes")
			}
		}

		if freq := chart.NormalizeKey(med.Frequency); freq != "" {
			if s.frequencyInSource(lowerSource, freq) {
				out.add(true)
			} else {
				out.flag(IssueFrequencyNotFound, med.Name, SeverityMinor,
					"frequency not found in source notes (checked known variations)")
			}
		}
	}
	return out
}

func (s *AccuracyScorer) checkProcedures(procs []chart.Procedure, lowerSource string) CheckOutcome {
	var out CheckOutcome
	for _, proc := range procs {
		name := chart.NormalizeKey(proc.Name)
		if name != "" {
			if s.termInSource(lowerSource, name) {
				out.add(true)
			} else {
				out.flag(IssueProcedureNotFound, proc.Name, SeverityMajor,
					"procedure not found in source notes (checked known abbreviations)")
			}
		}

		if date := strings.TrimSpace(proc.Date); date != "" {
			if sourceContainsDate(lowerSource, date) {
				out.add(true)
			} else {
				out.flag(IssueProcedureDateNotFound, proc.Name, SeverityMinor,
					"procedure date not found in source notes")
			}
		}
	}
	return out
}

// checkHallucinations scans the serialized narrative for physician mentions
// and common medications that have no support in the source text. When the
// narrative offers no candidates, the check defaults to full credit rather
// than penalizing brevity.
func (s *AccuracyScorer) checkHallucinations(narrativeText, lowerSource string) CheckOutcome {
	var out CheckOutcome
	lowerNarrative := strings.ToLower(narrativeText)

	seen := map[string]struct{}{}
	for _, m := range physicianMentionRE.FindAllStringSubmatch(narrativeText, -1) {
		surname := strings.ToLower(m[1])
		if _, dup := seen[surname]; dup {
			continue
		}
		seen[surname] = struct{}{}
		if strings.Contains(lowerSource, surname) {
			out.add(true)
		} else {
			out.flag(IssueHallucinatedPhysician, m[0], SeverityWarning,
				"physician named in narrative but absent from source")
		}
	}

	for _, med := range s.vocab.CommonMedications {
		if !wordInText(lowerNarrative, med) {
			continue
		}
		if wordInText(lowerSource, med) {
			out.add(true)
		} else {
			out.flag(IssueHallucinatedMedication, med, SeverityCritical,
				"medication appears in narrative but not in source notes")
		}
	}

	return out
}

func (s *AccuracyScorer) checkClinicalValues(f *chart.FunctionalScores, lowerSource string) CheckOutcome {
	var out CheckOutcome
	if f == nil {
		return out
	}

	scores := []struct {
		label string
		value string
	}{
		{"gcs", f.GCS},
		{"kps", f.KPS},
	}
	for _, sc := range scores {
		v := strings.TrimSpace(sc.value)
		if v == "" {
			continue
		}
		if strings.Contains(lowerSource, sc.label+" "+strings.ToLower(v)) ||
			strings.Contains(lowerSource, sc.label+": "+strings.ToLower(v)) {
			out.add(true)
		} else {
			out.flag(IssueScoreNotFound, sc.label, SeverityMinor,
				fmt.Sprintf("%s %s not found in source notes", strings.ToUpper(sc.label), v))
		}
	}
	return out
}

// termInSource checks a normalized term against the lower-cased source,
// falling back to the abbreviation table in both directions.
func (s *AccuracyScorer) termInSource(lowerSource, term string) bool {
	if strings.Contains(lowerSource, term) {
		return true
	}
	for _, alt := range s.vocab.alternatesFor(term) {
		if strings.Contains(lowerSource, alt) {
			return true
		}
	}
	return false
}

// frequencyInSource checks a normalized frequency against the source,
// falling back to the frequency-variation table.
func (s *AccuracyScorer) frequencyInSource(lowerSource, freq string) bool {
	if strings.Contains(lowerSource, freq) {
		return true
	}
	for _, alt := range s.vocab.frequencyAlternatesFor(freq) {
		if strings.Contains(lowerSource, alt) {
			return true
		}
	}
	return false
}

// wordInText matches a term on word boundaries in lower-cased text.
func wordInText(lowerText, term string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(term)) + `\b`)
	if err != nil {
		return strings.Contains(lowerText, strings.ToLower(term))
	}
	return re.MatchString(lowerText)
}
