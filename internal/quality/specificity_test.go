package quality

import (
	"math"
	"testing"

	"github.com/caretext/fidelis/internal/chart"
)

func TestSpecificityNilInputsBounded(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})
	result := scorer.Score(nil, nil, DefaultSpecificityOptions())
	if result.Score != 1.0 {
		t.Fatalf("Score = %v, want full credit for empty input", result.Score)
	}
	if result.Weight != SpecificityWeight {
		t.Fatalf("Weight = %v, want %v", result.Weight, SpecificityWeight)
	}
	if len(result.Details) != 5 {
		t.Fatalf("expected 5 sub-check details, got %d", len(result.Details))
	}
}

func TestSpecificityAlwaysBounded(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})
	narratives := []any{
		nil,
		"",
		"several mild episodes recently, some moderate swelling, many brief spells",
		map[string]any{"hospital_course": "patient had a few prolonged events"},
		12345,
	}
	for _, n := range narratives {
		result := scorer.Score(n, fullRecord(), DefaultSpecificityOptions())
		if result.Score < 0 || result.Score > 1 {
			t.Fatalf("Score out of bounds for narrative %v: %v", n, result.Score)
		}
		if result.RawScore < 0 || result.RawScore > 1 {
			t.Fatalf("RawScore out of bounds for narrative %v: %v", n, result.RawScore)
		}
	}
}

func TestSpecificityVagueQuantifiersPenalized(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})
	narrative := "Patient reported several headaches with moderate improvement and mild nausea."
	result := scorer.Score(narrative, nil, SpecificityOptions{})

	generic := result.countIssues(IssueGenericValue)
	if generic != 3 {
		t.Fatalf("expected 3 GENERIC_VALUE issues (several, moderate, mild), got %d: %+v", generic, result.Issues)
	}
	if result.Score >= 1.0 {
		t.Fatalf("vague narrative should not score 1.0, got %v", result.Score)
	}
}

func TestSpecificityGenericValuePenalty(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})
	narrative := "several some many few moderate mild significant"

	strict := scorer.Score(narrative, nil, SpecificityOptions{RequirePreciseValues: true})
	lax := scorer.Score(narrative, nil, SpecificityOptions{RequirePreciseValues: false})

	if strict.countIssues(IssueGenericValue) <= genericValuePenaltyCap {
		t.Fatalf("test narrative should exceed the generic-value cap, got %d", strict.countIssues(IssueGenericValue))
	}
	if !strict.PenaltyApplied {
		t.Fatal("expected flat penalty with RequirePreciseValues")
	}
	if math.Abs(strict.RawScore-strict.Score-0.05) > 1e-12 {
		t.Fatalf("flat penalty should be 0.05: raw %v score %v", strict.RawScore, strict.Score)
	}
	if lax.PenaltyApplied {
		t.Fatal("penalty must not apply when RequirePreciseValues is off")
	}
}

func TestSpecificityMeasurementRewards(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})
	vague := scorer.Score("patient had several episodes", nil, SpecificityOptions{})
	rewarded := scorer.Score("patient had several episodes; nimodipine 60 mg continued, lesion 3.1 x 2.4 cm", nil, SpecificityOptions{})

	if rewarded.Score <= vague.Score {
		t.Fatalf("measurement patterns should lift the score: %v vs %v", rewarded.Score, vague.Score)
	}
}

func TestSpecificityFunctionalScoreValidation(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})

	good := scorer.Score(nil, &chart.ExtractedRecord{
		Functional: &chart.FunctionalScores{GCS: "14", KPS: "70"},
	}, SpecificityOptions{})
	if len(good.Issues) != 0 {
		t.Fatalf("numeric scores should pass: %+v", good.Issues)
	}

	bad := scorer.Score(nil, &chart.ExtractedRecord{
		Functional: &chart.FunctionalScores{GCS: "17", KPS: "good"},
	}, SpecificityOptions{})
	if bad.countIssues(IssueNonNumericScore) != 2 {
		t.Fatalf("expected GCS out of [3,15] and non-numeric KPS flagged: %+v", bad.Issues)
	}
}

func TestSpecificityTemporalChecks(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})

	vague := scorer.Score("Symptoms started recently and resolved later after a brief stay.", nil, SpecificityOptions{})
	if vague.countIssues(IssueVagueTemporal) != 3 {
		t.Fatalf("expected 3 VAGUE_TEMPORAL issues, got %+v", vague.Issues)
	}

	precise := scorer.Score("On POD 2 (2024-01-14) at 06:30 the drain was removed; discharged after 10 days.", nil, SpecificityOptions{})
	if precise.countIssues(IssueVagueTemporal) != 0 {
		t.Fatalf("precise narrative flagged: %+v", precise.Issues)
	}
	if precise.Score != 1.0 {
		t.Fatalf("precise temporal narrative should keep full credit, got %v", precise.Score)
	}
}

func TestSpecificityClinicalDetail(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})

	rec := &chart.ExtractedRecord{
		Tumor: &chart.TumorDetail{Size: "3.2 x 2.8 cm", Location: "left frontal lobe"},
		Imaging: &chart.Imaging{Findings: []string{
			"4 mm midline shift",
			"unchanged",
			"postsurgical changes without mass effect",
		}},
		Complications: []chart.Complication{
			{Name: "infection"},
			{Name: "surgical site infection"},
		},
	}
	result := scorer.Score(nil, rec, SpecificityOptions{})

	if result.countIssues(IssueGenericValue) != 1 {
		t.Fatalf("bare 'unchanged' finding should be generic: %+v", result.Issues)
	}
	if result.countIssues(IssueGenericComplication) != 1 {
		t.Fatalf("bare 'infection' should be generic, qualified one should not: %+v", result.Issues)
	}
	if result.countIssues(IssueVagueMeasurement) != 0 {
		t.Fatalf("dimensional tumor size flagged: %+v", result.Issues)
	}
	if result.countIssues(IssueMissingAnatomicalDetail) != 0 {
		t.Fatalf("anatomical location flagged: %+v", result.Issues)
	}
}

func TestSpecificityVagueTumorSize(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})
	rec := &chart.ExtractedRecord{Tumor: &chart.TumorDetail{Size: "large"}}
	result := scorer.Score(nil, rec, SpecificityOptions{})
	if result.countIssues(IssueVagueMeasurement) != 1 {
		t.Fatalf("expected VAGUE_MEASUREMENT for non-dimensional size: %+v", result.Issues)
	}
}

func TestSpecificityMedicationChecks(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})
	rec := &chart.ExtractedRecord{
		Medications: []chart.Medication{
			{Name: "antibiotic", Dose: "as directed", Route: "by mouth", Frequency: "whenever"},
			{Name: "levetiracetam", Dose: "500 mg", Route: "po", Frequency: "bid"},
			{Name: "oxycodone", Dose: "5 mg", Route: "po", Frequency: "prn"},
		},
	}
	result := scorer.Score(nil, rec, SpecificityOptions{})

	if result.countIssues(IssueGenericMedication) != 1 {
		t.Fatalf("drug-class name should be flagged once: %+v", result.Issues)
	}
	if result.countIssues(IssueVagueDose) != 1 {
		t.Fatalf("vague dose should be flagged once: %+v", result.Issues)
	}
	if result.countIssues(IssueInvalidRoute) != 1 {
		t.Fatalf("non-whitelisted route should be flagged once: %+v", result.Issues)
	}
	if result.countIssues(IssueVagueFrequency) != 1 {
		t.Fatalf("non-whitelisted frequency should be flagged once: %+v", result.Issues)
	}
}

func TestSpecificityProcedureChecks(t *testing.T) {
	scorer := NewSpecificityScorer(Vocabulary{})
	rec := &chart.ExtractedRecord{
		Procedures: []chart.Procedure{
			{Name: "surgery"},
			{Name: "left frontal craniotomy"},
			{Name: "pterional craniotomy for aneurysm clipping"},
			{Name: "ventriculoperitoneal shunt placement"},
		},
	}
	result := scorer.Score(nil, rec, SpecificityOptions{})

	if result.countIssues(IssueGenericProcedure) != 1 {
		t.Fatalf("bare 'surgery' should be generic: %+v", result.Issues)
	}
	// "left frontal craniotomy" has anatomy but no named approach.
	if result.countIssues(IssueMissingApproach) != 1 {
		t.Fatalf("craniotomy without approach should be flagged once: %+v", result.Issues)
	}
	// Shunt placement lacks an anatomical qualifier: partial credit + minor issue.
	if result.countIssues(IssueMissingAnatomicalDetail) == 0 {
		t.Fatalf("expected a MISSING_ANATOMICAL_DETAIL issue: %+v", result.Issues)
	}
}
