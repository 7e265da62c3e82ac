// Package quality validates extracted clinical data and generated narrative
// text against the source notes.
//
// Both scoring dimensions (accuracy, specificity) run the same declarative
// pipeline: an ordered list of named, weighted checks, each returning a
// check count, an accurate count, and accumulated issues. The aggregate is
//
//	score = Σ(weight_i · accurate_i) / Σ(weight_i · total_i)
//
// Every check guarantees total ≥ 1 by defaulting to full credit when no
// applicable data exists, so absence of data never lowers a score and no
// division by zero can occur. Issues are accumulated as data, never raised:
// a scoring run never aborts partway.
package quality

import "math"

// Severity classifies an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityWarning  Severity = "warning"
)

// impactFor maps a severity tier to its default score impact.
func impactFor(sev Severity) float64 {
	switch sev {
	case SeverityCritical:
		return 0.25
	case SeverityMajor:
		return 0.15
	case SeverityMinor:
		return 0.05
	default:
		return 0.02
	}
}

// Issue is one reported problem. Pure value; never mutated after creation.
type Issue struct {
	Type       string   `json:"type"`
	Field      string   `json:"field,omitempty"`
	Severity   Severity `json:"severity"`
	Impact     float64  `json:"impact"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func newIssue(issueType, field string, sev Severity, suggestion string) Issue {
	return Issue{
		Type:       issueType,
		Field:      field,
		Severity:   sev,
		Impact:     impactFor(sev),
		Suggestion: suggestion,
	}
}

// CheckOutcome is what a single weighted check produces. Counts are floats:
// several checks award fractional partial or reward credit.
type CheckOutcome struct {
	Total    float64 `json:"total"`
	Accurate float64 `json:"accurate"`
	Issues   []Issue `json:"-"`
}

// fullCredit marks a check with no applicable data as passed (1/1).
func fullCredit() CheckOutcome {
	return CheckOutcome{Total: 1, Accurate: 1}
}

// add records one check result.
func (o *CheckOutcome) add(accurate bool) {
	o.Total++
	if accurate {
		o.Accurate++
	}
}

// addPartial records one check worth fractional credit.
func (o *CheckOutcome) addPartial(credit float64) {
	o.Total++
	o.Accurate += credit
}

// reward adds fractional credit to both numerator and denominator, lifting
// the score without creating a failable check.
func (o *CheckOutcome) reward(credit float64) {
	o.Total += credit
	o.Accurate += credit
}

// flag records a failing check with an issue.
func (o *CheckOutcome) flag(issueType, field string, sev Severity, suggestion string) {
	o.Total++
	o.Issues = append(o.Issues, newIssue(issueType, field, sev, suggestion))
}

// flagPartial records a partially-credited check with an issue.
func (o *CheckOutcome) flagPartial(credit float64, issueType, field string, sev Severity, suggestion string) {
	o.Total++
	o.Accurate += credit
	o.Issues = append(o.Issues, newIssue(issueType, field, sev, suggestion))
}

// defaulted returns the outcome, substituting full credit when the check
// found nothing applicable to examine.
func (o CheckOutcome) defaulted() CheckOutcome {
	if o.Total == 0 {
		return fullCredit()
	}
	return o
}

// WeightedCheck is one named sub-check in a dimension's pipeline.
type WeightedCheck struct {
	Name   string
	Weight float64
	Run    func() CheckOutcome
}

// CheckDetail is the per-check breakdown included in a ScoreResult.
type CheckDetail struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	Total    float64 `json:"total"`
	Accurate float64 `json:"accurate"`
	Score    float64 `json:"score"`
}

// ScoreResult is the outcome of scoring one dimension.
type ScoreResult struct {
	Dimension      string        `json:"dimension"`
	Score          float64       `json:"score"`
	RawScore       float64       `json:"raw_score"`
	Weight         float64       `json:"weight"`
	Weighted       float64       `json:"weighted"`
	PenaltyApplied bool          `json:"penalty_applied"`
	Issues         []Issue       `json:"issues"`
	Details        []CheckDetail `json:"details"`
}

// CriticalCount returns the number of critical issues in the result.
func (r ScoreResult) CriticalCount() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// countIssues returns how many issues of the given type are present.
func (r ScoreResult) countIssues(issueType string) int {
	n := 0
	for _, is := range r.Issues {
		if is.Type == issueType {
			n++
		}
	}
	return n
}

// runPipeline executes the checks in order and aggregates the weighted counts.
func runPipeline(dimension string, dimensionWeight float64, checks []WeightedCheck) ScoreResult {
	result := ScoreResult{
		Dimension: dimension,
		Weight:    dimensionWeight,
		Issues:    []Issue{},
		Details:   make([]CheckDetail, 0, len(checks)),
	}

	weightedTotal := 0.0
	weightedAccurate := 0.0
	for _, check := range checks {
		outcome := check.Run().defaulted()

		weightedTotal += check.Weight * outcome.Total
		weightedAccurate += check.Weight * outcome.Accurate
		result.Issues = append(result.Issues, outcome.Issues...)

		detailScore := 1.0
		if outcome.Total > 0 {
			detailScore = clamp01(outcome.Accurate / outcome.Total)
		}
		result.Details = append(result.Details, CheckDetail{
			Name:     check.Name,
			Weight:   check.Weight,
			Total:    outcome.Total,
			Accurate: outcome.Accurate,
			Score:    detailScore,
		})
	}

	raw := 1.0
	if weightedTotal > 0 {
		raw = clamp01(weightedAccurate / weightedTotal)
	}
	result.RawScore = raw
	result.Score = raw
	result.Weighted = result.Score * result.Weight
	return result
}

// applyPenalty subtracts a penalty from the raw score, floored at zero, and
// marks the result. The raw score is preserved alongside the adjusted score.
func (r *ScoreResult) applyPenalty(penalty float64) {
	if penalty <= 0 {
		return
	}
	r.Score = math.Max(0, r.RawScore-penalty)
	r.Weighted = r.Score * r.Weight
	r.PenaltyApplied = true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
