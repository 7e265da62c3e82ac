package quality

import (
	"math"
	"strings"
	"testing"

	"github.com/caretext/fidelis/internal/chart"
)

const sampleNotes = `Patient: Jane Doe, MRN 44821970, a 67-year-old woman admitted 2024-01-10
with subarachnoid hemorrhage. GCS: 14 on arrival. Underwent left frontal
craniotomy on 2024-01-12. Started on Keppra 500 mg twice daily and
nimodipine 60 mg q4h. EVD placed. Discharged 2024-01-20. Dr. Alvarez
followed throughout the stay. KPS 70 at discharge.`

func fullRecord() *chart.ExtractedRecord {
	return &chart.ExtractedRecord{
		Demographics: &chart.Demographics{Name: "Jane Doe", MRN: "44821970", Age: "67"},
		Dates:        &chart.KeyDates{Admission: "2024-01-10", Discharge: "2024-01-20", Surgery: "2024-01-12"},
		Medications: []chart.Medication{
			{Name: "levetiracetam", Dose: "500 mg", Frequency: "bid"},
			{Name: "nimodipine", Dose: "60 mg", Frequency: "q4h"},
		},
		Procedures: []chart.Procedure{
			{Name: "craniotomy", Date: "2024-01-12"},
		},
		Functional: &chart.FunctionalScores{GCS: "14", KPS: "70"},
	}
}

func TestAccuracyFullAgreement(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	result := scorer.Score(fullRecord(), sampleNotes, map[string]any{"summary": "Discharged 2024-01-20 in stable condition."}, DefaultAccuracyOptions())

	if result.Score != 1.0 {
		t.Fatalf("Score = %v, want 1.0; issues: %+v", result.Score, result.Issues)
	}
	if len(result.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", result.Issues)
	}
	if result.PenaltyApplied {
		t.Fatal("PenaltyApplied should be false")
	}
	if result.Weight != AccuracyWeight {
		t.Fatalf("Weight = %v, want %v", result.Weight, AccuracyWeight)
	}
}

func TestAccuracyEmptyRecordFullCredit(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	result := scorer.Score(&chart.ExtractedRecord{}, sampleNotes, map[string]any{}, DefaultAccuracyOptions())

	if result.Score != 1.0 {
		t.Fatalf("Score = %v, want 1.0 when nothing is extractable", result.Score)
	}
	if len(result.Details) != 6 {
		t.Fatalf("expected 6 sub-check details, got %d", len(result.Details))
	}
}

func TestAccuracyNilRecordNeverPanics(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	result := scorer.Score(nil, "", nil, DefaultAccuracyOptions())
	if result.Score != 1.0 {
		t.Fatalf("Score = %v, want 1.0 for fully empty input", result.Score)
	}
}

func TestAccuracyDateInconsistency(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	rec := &chart.ExtractedRecord{
		Dates: &chart.KeyDates{Admission: "2024-01-10", Discharge: "2024-01-05"},
	}
	source := "Admitted 2024-01-10. Discharged 2024-01-05."
	result := scorer.Score(rec, source, nil, DefaultAccuracyOptions())

	inconsistencies := 0
	for _, is := range result.Issues {
		if is.Type == IssueDateInconsistency {
			inconsistencies++
			if is.Severity != SeverityCritical {
				t.Fatalf("DATE_INCONSISTENCY severity = %s, want critical", is.Severity)
			}
		}
	}
	if inconsistencies != 1 {
		t.Fatalf("expected exactly 1 DATE_INCONSISTENCY, got %d (issues: %+v)", inconsistencies, result.Issues)
	}
	if result.Score > result.RawScore {
		t.Fatalf("penalized Score %v should not exceed RawScore %v", result.Score, result.RawScore)
	}
	if result.Score < 0 {
		t.Fatalf("Score = %v, want >= 0", result.Score)
	}
	if !result.PenaltyApplied {
		t.Fatal("strict validation should have applied a penalty")
	}
}

func TestAccuracyMRNMismatchIsCritical(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	rec := &chart.ExtractedRecord{
		Demographics: &chart.Demographics{MRN: "99999999"},
	}
	result := scorer.Score(rec, sampleNotes, nil, DefaultAccuracyOptions())

	if n := result.CriticalCount(); n != 1 {
		t.Fatalf("expected 1 critical issue, got %d: %+v", n, result.Issues)
	}
	if math.Abs(result.RawScore-result.Score-0.05) > 1e-12 {
		t.Fatalf("expected 0.05 penalty for 1 critical, raw %v score %v", result.RawScore, result.Score)
	}
}

func TestAccuracyCriticalPenaltyCapsAtPointTwo(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	// Five hallucinated medications: penalty would be 0.25 uncapped.
	narrative := "Continued aspirin, heparin, warfarin, insulin, and morphine."
	result := scorer.Score(&chart.ExtractedRecord{}, "No medications documented.", narrative, DefaultAccuracyOptions())

	if n := result.CriticalCount(); n != 5 {
		t.Fatalf("expected 5 critical issues, got %d: %+v", n, result.Issues)
	}
	if math.Abs(result.RawScore-result.Score-0.2) > 1e-12 {
		t.Fatalf("penalty should cap at 0.2: raw %v score %v", result.RawScore, result.Score)
	}
}

func TestAccuracyStrictValidationDisabled(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	rec := &chart.ExtractedRecord{Demographics: &chart.Demographics{MRN: "99999999"}}
	result := scorer.Score(rec, sampleNotes, nil, AccuracyOptions{StrictValidation: false})

	if result.PenaltyApplied {
		t.Fatal("penalty should not apply when strict validation is off")
	}
	if result.Score != result.RawScore {
		t.Fatalf("Score %v should equal RawScore %v", result.Score, result.RawScore)
	}
}

func TestAccuracyMedicationAbbreviationFallback(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	rec := &chart.ExtractedRecord{
		Medications: []chart.Medication{{Name: "levetiracetam", Frequency: "bid"}},
	}
	// Source uses brand name and a frequency variation.
	source := "Started on Keppra twice daily for seizure prophylaxis."
	result := scorer.Score(rec, source, nil, DefaultAccuracyOptions())

	if len(result.Issues) != 0 {
		t.Fatalf("abbreviation/frequency fallback should match, issues: %+v", result.Issues)
	}
	if result.Score != 1.0 {
		t.Fatalf("Score = %v, want 1.0", result.Score)
	}
}

func TestAccuracyHallucinatedPhysicianWarning(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	narrative := "Dr. Chen recommended outpatient follow-up."
	result := scorer.Score(&chart.ExtractedRecord{}, sampleNotes, narrative, DefaultAccuracyOptions())

	found := false
	for _, is := range result.Issues {
		if is.Type == IssueHallucinatedPhysician {
			found = true
			if is.Severity != SeverityWarning {
				t.Fatalf("physician hallucination severity = %s, want warning", is.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("expected HALLUCINATED_PHYSICIAN issue, got %+v", result.Issues)
	}
	// Dr. Alvarez appears in the source; must not be flagged.
	result2 := scorer.Score(&chart.ExtractedRecord{}, sampleNotes, "Seen daily by Dr. Alvarez.", DefaultAccuracyOptions())
	for _, is := range result2.Issues {
		if is.Type == IssueHallucinatedPhysician {
			t.Fatalf("physician present in source was flagged: %+v", is)
		}
	}
}

func TestAccuracyRestrictedVocabulary(t *testing.T) {
	vocab := Vocabulary{
		CommonMedications: []string{"testdrug"},
	}
	scorer := NewAccuracyScorer(vocab)
	result := scorer.Score(&chart.ExtractedRecord{}, "no mention", "patient on testdrug", DefaultAccuracyOptions())
	if result.CriticalCount() != 1 {
		t.Fatalf("restricted vocabulary not honored: %+v", result.Issues)
	}
	// Default-list drugs are invisible to the restricted vocabulary.
	result2 := scorer.Score(&chart.ExtractedRecord{}, "no mention", "patient on aspirin", DefaultAccuracyOptions())
	if result2.CriticalCount() != 0 {
		t.Fatalf("default vocabulary leaked through: %+v", result2.Issues)
	}
}

func TestAccuracyUnparseableDateFallsBackToLiteral(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	rec := &chart.ExtractedRecord{
		Dates: &chart.KeyDates{Surgery: "early January 2024"},
	}
	source := "Surgery performed early January 2024 without complication."
	result := scorer.Score(rec, source, nil, DefaultAccuracyOptions())
	for _, is := range result.Issues {
		if is.Type == IssueDateNotFound {
			t.Fatalf("literal fallback should have matched: %+v", is)
		}
	}
}

func TestAccuracyScoreAlwaysBounded(t *testing.T) {
	scorer := NewAccuracyScorer(Vocabulary{})
	rec := &chart.ExtractedRecord{
		Demographics: &chart.Demographics{Name: "Nobody", MRN: "0", Age: "200"},
		Dates:        &chart.KeyDates{Admission: "2030-01-02", Discharge: "2029-01-01"},
		Medications:  []chart.Medication{{Name: "unobtainium", Dose: "1 zg", Frequency: "q0h"}},
		Procedures:   []chart.Procedure{{Name: "phantom resection", Date: "2030-01-01"}},
		Functional:   &chart.FunctionalScores{GCS: "14", KPS: "70"},
	}
	narrative := strings.Repeat("Dr. Nowhere gave aspirin and heparin. ", 3)
	result := scorer.Score(rec, "unrelated source text", narrative, DefaultAccuracyOptions())
	if result.Score < 0 || result.Score > 1 {
		t.Fatalf("Score out of bounds: %v", result.Score)
	}
	if result.RawScore < 0 || result.RawScore > 1 {
		t.Fatalf("RawScore out of bounds: %v", result.RawScore)
	}
}
