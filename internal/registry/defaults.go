package registry

// datePattern matches the date renderings accepted across the quality
// pipeline: ISO, slash dates, and spelled-out month names.
const datePattern = `(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})`

// defaultRules is the compiled-in neurosurgical rule set. Confidence values
// reflect how specific each pattern is; severity feeds straight into the
// assembled record where the field carries one.
var defaultRules = []Rule{
	{
		Field: "patient_name",
		Patterns: []string{
			`(?i)patient(?:\s+name)?[:\s]+(?P<name>[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)`,
		},
		Confidence: 0.7,
	},
	{
		Field: "mrn",
		Patterns: []string{
			`(?i)\bMRN[:\s#]+(?P<mrn>\d{6,10})\b`,
		},
		Confidence: 0.95,
	},
	{
		Field: "age",
		Patterns: []string{
			`(?i)\b(?P<age>\d{1,3})[\s-]*(?:year[\s-]*old|y/?o\b)`,
			`(?i)\bage[:\s]+(?P<age>\d{1,3})\b`,
		},
		Confidence: 0.9,
	},
	{
		Field: "sex",
		Patterns: []string{
			`(?i)\b(?P<sex>male|female)\b`,
		},
		Confidence: 0.8,
	},
	{
		Field: "admission_date",
		Patterns: []string{
			`(?i)\badmit(?:ted|ssion)?(?:\s+(?:on|date))?[:\s]+(?P<date>` + datePattern + `)`,
		},
		Confidence: 0.85,
	},
	{
		Field: "discharge_date",
		Patterns: []string{
			`(?i)\bdischarge[d]?(?:\s+(?:on|date|home))?[:\s]+(?:home\s+)?(?:on\s+)?(?P<date>` + datePattern + `)`,
		},
		Confidence: 0.85,
	},
	{
		Field: "surgery_date",
		Patterns: []string{
			`(?i)\b(?:surgery|operation|operative)(?:\s+(?:on|date|performed))?[:\s]+(?:on\s+)?(?P<date>` + datePattern + `)`,
			`(?i)\b(?:underwent|performed)\b[^.\n]*?\bon\s+(?P<date>` + datePattern + `)`,
		},
		Confidence: 0.75,
	},
	{
		Field: "medication",
		Patterns: []string{
			`(?i)\b(?P<name>nimodipine|levetiracetam|keppra|dexamethasone|decadron|phenytoin|dilantin|mannitol|aspirin|heparin|enoxaparin|warfarin|insulin|morphine|oxycodone|acetaminophen|ondansetron|famotidine|labetalol|nicardipine|vancomycin|cefazolin|ceftriaxone)\b[\s,]*(?P<dose>\d+(?:\.\d+)?\s*(?:mg|mcg|g|ml|units?))?[\s,]*(?P<route>po|iv|im|sc|subcutaneous|oral)?[\s,]*(?P<frequency>bid|tid|qid|q\d+h|daily|once daily|twice daily|three times daily|nightly|prn)?`,
		},
		Confidence: 0.8,
	},
	{
		Field: "procedure",
		Patterns: []string{
			`(?i)\b(?P<name>(?:\w+[\s-]+){0,3}(?:craniotomy|craniectomy|aneurysm clipping|coil embolization|coiling|shunt placement|evd placement|ventriculostomy|laminectomy|tumor resection|biopsy))\b(?:[^.\n]*?\bon\s+(?P<date>` + datePattern + `))?`,
		},
		Confidence: 0.75,
	},
	{
		Field: "complication",
		Patterns: []string{
			`(?i)\b(?P<name>vasospasm|hydrocephalus|rebleed(?:ing)?|seizures?|csf leak|wound infection|meningitis|ventriculitis|deep vein thrombosis|pulmonary embolism|hyponatremia)\b`,
		},
		Confidence: 0.7,
		Severity:   "documented",
	},
	{
		Field: "gcs",
		Patterns: []string{
			`(?i)\bGCS[:\s]+(?P<value>\d{1,2})\b`,
		},
		Confidence: 0.95,
	},
	{
		Field: "kps",
		Patterns: []string{
			`(?i)\bKPS[:\s]+(?P<value>\d{1,3})%?`,
		},
		Confidence: 0.95,
	},
	{
		Field: "tumor_size",
		Patterns: []string{
			`(?i)\b(?P<size>\d+(?:\.\d+)?\s*x\s*\d+(?:\.\d+)?(?:\s*x\s*\d+(?:\.\d+)?)?\s*(?:cm|mm))\b`,
		},
		Confidence: 0.85,
	},
	{
		Field: "tumor_location",
		Patterns: []string{
			`(?i)\b(?P<location>(?:left|right)\s+(?:frontal|temporal|parietal|occipital|cerebellar)(?:\s+(?:lobe|region|convexity))?)`,
		},
		Confidence: 0.7,
	},
	{
		Field: "imaging_finding",
		Patterns: []string{
			`(?i)\b(?:CT|CTA|MRI|MRA|angiogram)\b[^.\n]{4,120}`,
		},
		Confidence: 0.6,
	},
	{
		Field: "lab_value",
		Patterns: []string{
			`(?i)\b(?P<name>sodium|potassium|creatinine|hemoglobin|platelets?|wbc|inr|glucose)[:\s]+(?P<value>\d+(?:\.\d+)?)`,
		},
		Confidence: 0.85,
	},
}
