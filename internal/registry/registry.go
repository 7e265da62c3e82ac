// Package registry provides pattern-driven extraction of structured chart
// data from free-text clinical notes.
//
// Rules are generic {field, patterns, confidence, severity} entries loaded
// from YAML, with a compiled-in default set. One matcher loop serves every
// field; there is no per-condition branching. The scoring packages depend
// only on the extracted record shape, never on this package.
package registry

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/caretext/fidelis/internal/chart"
)

// Rule declares how one chart field is recognized in source text.
type Rule struct {
	Field      string   `yaml:"field" json:"field"`
	Patterns   []string `yaml:"patterns" json:"patterns"`
	Confidence float64  `yaml:"confidence" json:"confidence"`
	Severity   string   `yaml:"severity" json:"severity"`
}

// Match is one pattern hit in the source text.
type Match struct {
	Field      string  `json:"field"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Severity   string  `json:"severity"`
	Offset     int     `json:"offset"`

	groups map[string]string
}

// Registry holds compiled extraction rules.
type Registry struct {
	rules []compiledRule
}

type compiledRule struct {
	rule     Rule
	patterns []*regexp.Regexp
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// New compiles a rule set. Every rule needs a field name, at least one
// valid pattern, and a confidence in [0,1].
func New(rules []Rule) (*Registry, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("no extraction rules")
	}

	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(rule.Field) == "" {
			return nil, fmt.Errorf("rule %d: field is required", i)
		}
		if len(rule.Patterns) == 0 {
			return nil, fmt.Errorf("rule %q: at least one pattern is required", rule.Field)
		}
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return nil, fmt.Errorf("rule %q: confidence %v out of range [0,1]", rule.Field, rule.Confidence)
		}

		cr := compiledRule{rule: rule}
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: compiling pattern %q: %w", rule.Field, pattern, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		compiled = append(compiled, cr)
	}

	return &Registry{rules: compiled}, nil
}

// Load reads a YAML rules file ({rules: [...]}) and compiles it.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	return New(file.Rules)
}

// Default returns the compiled-in neurosurgical rule set.
func Default() *Registry {
	reg, err := New(defaultRules)
	if err != nil {
		// The compiled-in rules are covered by tests; a failure here is a
		// programming error, not a data condition.
		panic(fmt.Sprintf("default extraction rules invalid: %v", err))
	}
	return reg
}

// Extract runs every rule over the source text and returns the raw matches
// plus the partial record assembled from them. Scalar fields keep the first
// hit; list fields append with duplicate suppression on the normalized name.
func (r *Registry) Extract(source string) ([]Match, *chart.ExtractedRecord) {
	var matches []Match
	for _, cr := range r.rules {
		for _, re := range cr.patterns {
			locs := re.FindAllStringSubmatchIndex(source, -1)
			for _, loc := range locs {
				text := source[loc[0]:loc[1]]
				m := Match{
					Field:      cr.rule.Field,
					Text:       strings.TrimSpace(text),
					Confidence: cr.rule.Confidence,
					Severity:   cr.rule.Severity,
					Offset:     loc[0],
					groups:     captureGroups(re, source, loc),
				}
				matches = append(matches, m)
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Offset < matches[j].Offset
	})

	return matches, assemble(matches)
}

// captureGroups maps named subexpressions to their captured text.
func captureGroups(re *regexp.Regexp, source string, loc []int) map[string]string {
	groups := make(map[string]string)
	for gi, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		start, end := loc[2*gi], loc[2*gi+1]
		if start < 0 {
			continue
		}
		if value := strings.TrimSpace(source[start:end]); value != "" {
			groups[name] = value
		}
	}
	return groups
}

// group returns a named capture, falling back to the whole match text.
func (m Match) group(name string) string {
	if v, ok := m.groups[name]; ok {
		return v
	}
	return m.Text
}

func assemble(matches []Match) *chart.ExtractedRecord {
	rec := &chart.ExtractedRecord{}
	seen := make(map[string]bool)

	setOnce := func(dst *string, value string) {
		if *dst == "" && value != "" {
			*dst = value
		}
	}
	listKey := func(field, name string) string {
		return field + "|" + chart.NormalizeKey(name)
	}

	for _, m := range matches {
		switch m.Field {
		case "patient_name":
			ensureDemographics(rec)
			setOnce(&rec.Demographics.Name, m.group("name"))
		case "mrn":
			ensureDemographics(rec)
			setOnce(&rec.Demographics.MRN, m.group("mrn"))
		case "age":
			ensureDemographics(rec)
			setOnce(&rec.Demographics.Age, m.group("age"))
		case "sex":
			ensureDemographics(rec)
			setOnce(&rec.Demographics.Sex, strings.ToLower(m.group("sex")))
		case "admission_date":
			ensureDates(rec)
			setOnce(&rec.Dates.Admission, m.group("date"))
		case "discharge_date":
			ensureDates(rec)
			setOnce(&rec.Dates.Discharge, m.group("date"))
		case "surgery_date":
			ensureDates(rec)
			setOnce(&rec.Dates.Surgery, m.group("date"))
		case "medication":
			name := m.group("name")
			key := listKey(m.Field, name)
			if name == "" || seen[key] {
				continue
			}
			seen[key] = true
			rec.Medications = append(rec.Medications, chart.Medication{
				Name:      name,
				Dose:      m.groups["dose"],
				Frequency: m.groups["frequency"],
				Route:     m.groups["route"],
			})
		case "procedure":
			name := m.group("name")
			key := listKey(m.Field, name)
			if name == "" || seen[key] {
				continue
			}
			seen[key] = true
			rec.Procedures = append(rec.Procedures, chart.Procedure{
				Name: name,
				Date: m.groups["date"],
			})
		case "complication":
			name := m.group("name")
			key := listKey(m.Field, name)
			if name == "" || seen[key] {
				continue
			}
			seen[key] = true
			rec.Complications = append(rec.Complications, chart.Complication{
				Name:     name,
				Severity: m.Severity,
			})
		case "gcs":
			ensureFunctional(rec)
			setOnce(&rec.Functional.GCS, m.group("value"))
		case "kps":
			ensureFunctional(rec)
			setOnce(&rec.Functional.KPS, m.group("value"))
		case "tumor_size":
			ensureTumor(rec)
			setOnce(&rec.Tumor.Size, m.group("size"))
		case "tumor_location":
			ensureTumor(rec)
			setOnce(&rec.Tumor.Location, m.group("location"))
		case "imaging_finding":
			key := listKey(m.Field, m.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			if rec.Imaging == nil {
				rec.Imaging = &chart.Imaging{}
			}
			rec.Imaging.Findings = append(rec.Imaging.Findings, m.Text)
		case "lab_value":
			name := m.group("name")
			key := listKey(m.Field, name)
			if name == "" || seen[key] {
				continue
			}
			seen[key] = true
			rec.Labs = append(rec.Labs, chart.LabValue{
				Name:  name,
				Value: m.groups["value"],
			})
		}
	}

	return rec
}

func ensureDemographics(rec *chart.ExtractedRecord) {
	if rec.Demographics == nil {
		rec.Demographics = &chart.Demographics{}
	}
}

func ensureDates(rec *chart.ExtractedRecord) {
	if rec.Dates == nil {
		rec.Dates = &chart.KeyDates{}
	}
}

func ensureFunctional(rec *chart.ExtractedRecord) {
	if rec.Functional == nil {
		rec.Functional = &chart.FunctionalScores{}
	}
}

func ensureTumor(rec *chart.ExtractedRecord) {
	if rec.Tumor == nil {
		rec.Tumor = &chart.TumorDetail{}
	}
}
