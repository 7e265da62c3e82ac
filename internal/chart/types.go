// Package chart holds the structured clinical data model shared by the
// extraction, deduplication, and quality-scoring layers.
//
// An ExtractedRecord is produced by pattern extraction over free-text notes.
// Every field is optional: the quality pipeline tolerates partial records and
// skips (rather than scores) anything that is absent.
package chart

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Demographics identifies the patient as written in the source notes.
type Demographics struct {
	Name string `json:"name,omitempty"`
	MRN  string `json:"mrn,omitempty"`
	Age  string `json:"age,omitempty"`
	Sex  string `json:"sex,omitempty"`
}

// KeyDates are the clinically pivotal dates of the stay. Values are kept as
// the raw extracted strings so unparseable dates can still be matched
// literally against the source.
type KeyDates struct {
	Admission string `json:"admission_date,omitempty"`
	Discharge string `json:"discharge_date,omitempty"`
	Surgery   string `json:"surgery_date,omitempty"`
	Ictus     string `json:"ictus_date,omitempty"`
}

// Medication is one medication order extracted from the notes.
type Medication struct {
	Name      string `json:"name,omitempty"`
	Dose      string `json:"dose,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Route     string `json:"route,omitempty"`
}

// Procedure is one performed procedure with its (string) date.
type Procedure struct {
	Name string `json:"name,omitempty"`
	Date string `json:"date,omitempty"`
}

// Complication is a reported complication and its severity as written.
type Complication struct {
	Name     string `json:"name,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// FunctionalScores holds standard functional assessment values. Kept as
// strings: the specificity scorer decides whether they are usable numbers.
type FunctionalScores struct {
	GCS string `json:"gcs,omitempty"`
	KPS string `json:"kps,omitempty"`
	MRS string `json:"mrs,omitempty"`
}

// TumorDetail describes the lesion when one is documented.
type TumorDetail struct {
	Size     string `json:"size,omitempty"`
	Location string `json:"location,omitempty"`
}

// Imaging holds free-text imaging findings.
type Imaging struct {
	Findings []string `json:"findings,omitempty"`
}

// LabValue is one laboratory result as extracted.
type LabValue struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// ExtractedRecord is the full structured output of pattern extraction over a
// set of clinical notes.
type ExtractedRecord struct {
	Demographics  *Demographics     `json:"demographics,omitempty"`
	Dates         *KeyDates         `json:"dates,omitempty"`
	Medications   []Medication      `json:"medications,omitempty"`
	Procedures    []Procedure       `json:"procedures,omitempty"`
	Complications []Complication    `json:"complications,omitempty"`
	Functional    *FunctionalScores `json:"functional_scores,omitempty"`
	Tumor         *TumorDetail      `json:"tumor,omitempty"`
	Imaging       *Imaging          `json:"imaging,omitempty"`
	Labs          []LabValue        `json:"labs,omitempty"`
}

// NarrativeText serializes an opaque narrative object to the text the quality
// scorers inspect. Narratives are JSON-serializable by contract; anything that
// fails to marshal falls back to its fmt rendering so scoring never aborts.
// A nil narrative yields the empty string.
func NarrativeText(narrative any) string {
	if narrative == nil {
		return ""
	}
	if s, ok := narrative.(string); ok {
		return s
	}
	b, err := json.Marshal(narrative)
	if err != nil {
		return fmt.Sprint(narrative)
	}
	return string(b)
}

// NormalizeKey produces the comparison form of a text fragment: lower-cased,
// trimmed, inner whitespace collapsed to single spaces. Never displayed.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
