package quality

import "strings"

// Vocabulary holds the constant dictionaries the scorers consult. It is
// injected at scorer construction and treated as immutable, so tests can
// supply restricted vocabularies and the scoring core stays decoupled from
// any specific clinical taxonomy.
type Vocabulary struct {
	// Abbreviations maps a term to its accepted alternates in either
	// direction (brand/generic, abbreviation/expansion).
	Abbreviations map[string][]string

	// FrequencyVariations maps a dosing frequency to equivalent renderings,
	// e.g. "bid" ↔ "twice daily" ↔ "q12h".
	FrequencyVariations map[string][]string

	// VagueQuantifiers are narrative terms penalized by value specificity.
	VagueQuantifiers []string

	// VagueTemporal are time references penalized by temporal specificity.
	VagueTemporal []string

	// VagueDoseTerms are dose descriptions that carry no usable quantity.
	VagueDoseTerms []string

	// CommonMedications is the fixed hallucination-scan drug list.
	CommonMedications []string

	// AnatomicalTerms qualify tumor locations and procedure names.
	AnatomicalTerms []string

	// SurgicalApproaches are the named approaches expected on
	// craniotomy/approach-described procedures.
	SurgicalApproaches []string

	// GenericComplications are bare complication names flagged when they
	// appear with no qualifier at all.
	GenericComplications []string

	// GenericProcedures are bare procedure names flagged as non-specific.
	GenericProcedures []string

	// DrugClassNames are drug-class words flagged when used as a
	// medication name.
	DrugClassNames []string

	// Routes is the accepted administration-route whitelist.
	Routes []string

	// Frequencies is the accepted dosing-frequency whitelist.
	Frequencies []string
}

// DefaultVocabulary returns the standard neurosurgical vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Abbreviations: map[string][]string{
			"levetiracetam":                  {"keppra"},
			"dexamethasone":                  {"decadron"},
			"phenytoin":                      {"dilantin"},
			"acetaminophen":                  {"tylenol", "apap"},
			"enoxaparin":                     {"lovenox"},
			"metoprolol":                     {"lopressor"},
			"nicardipine":                    {"cardene"},
			"external ventricular drain":     {"evd"},
			"ventriculoperitoneal shunt":     {"vp shunt", "vps"},
			"subarachnoid hemorrhage":        {"sah"},
			"intracranial pressure":          {"icp"},
			"cerebrospinal fluid":            {"csf"},
			"deep vein thrombosis":           {"dvt"},
			"magnetic resonance imaging":     {"mri"},
			"computed tomography":            {"ct"},
			"digital subtraction angiogram":  {"dsa", "angiogram"},
			"transsphenoidal resection":      {"tsr"},
			"endoscopic third ventriculostomy": {"etv"},
		},
		FrequencyVariations: map[string][]string{
			"bid":    {"twice daily", "twice a day", "two times daily", "q12h"},
			"tid":    {"three times daily", "three times a day", "q8h"},
			"qid":    {"four times daily", "four times a day", "q6h"},
			"daily":  {"qd", "once daily", "every day", "q24h"},
			"qhs":    {"at bedtime", "nightly", "every night"},
			"prn":    {"as needed"},
			"weekly": {"once weekly", "every week", "qweek"},
		},
		VagueQuantifiers: []string{
			"several", "some", "many", "few", "moderate", "mild",
			"significant", "substantial", "adequate", "appropriate",
			"considerable", "various",
		},
		VagueTemporal: []string{
			"recently", "previously", "earlier", "later", "soon",
			"eventually", "brief", "prolonged", "a while", "some time",
		},
		VagueDoseTerms: []string{
			"as directed", "per protocol", "standard dose", "usual dose",
			"titrate", "taper",
		},
		CommonMedications: []string{
			"aspirin", "heparin", "warfarin", "insulin", "morphine",
			"fentanyl", "vancomycin", "metformin", "lisinopril",
			"atorvastatin", "omeprazole", "ondansetron",
		},
		AnatomicalTerms: []string{
			"frontal", "parietal", "temporal", "occipital", "cerebellar",
			"cerebellum", "brainstem", "thalamus", "thalamic", "basal ganglia",
			"sellar", "suprasellar", "parasagittal", "convexity", "falx",
			"sphenoid", "ventricle", "ventricular", "pineal", "corpus callosum",
			"left", "right", "bilateral", "midline",
		},
		SurgicalApproaches: []string{
			"pterional", "retrosigmoid", "suboccipital", "transsphenoidal",
			"supraorbital", "translabyrinthine", "orbitozygomatic",
		},
		GenericComplications: []string{"infection", "bleeding", "swelling", "pain"},
		GenericProcedures:    []string{"surgery", "operation", "procedure", "intervention"},
		DrugClassNames: []string{
			"antibiotic", "anticoagulant", "analgesic", "antiepileptic", "steroid",
		},
		Routes: []string{
			"po", "oral", "iv", "intravenous", "im", "intramuscular",
			"sq", "subq", "subcutaneous", "sl", "sublingual", "pr",
			"topical", "inhaled", "intrathecal",
		},
		Frequencies: []string{
			"daily", "qd", "bid", "tid", "qid", "qhs", "qam",
			"q4h", "q6h", "q8h", "q12h", "q24h",
			"once daily", "twice daily", "three times daily", "four times daily",
			"every morning", "at bedtime", "nightly", "weekly", "monthly",
		},
	}
}

// isZero reports whether no dictionary was populated at all, in which case
// scorers substitute DefaultVocabulary.
func (v Vocabulary) isZero() bool {
	return len(v.Abbreviations) == 0 && len(v.FrequencyVariations) == 0 &&
		len(v.VagueQuantifiers) == 0 && len(v.VagueTemporal) == 0 &&
		len(v.VagueDoseTerms) == 0 && len(v.CommonMedications) == 0 &&
		len(v.AnatomicalTerms) == 0 && len(v.SurgicalApproaches) == 0 &&
		len(v.GenericComplications) == 0 && len(v.GenericProcedures) == 0 &&
		len(v.DrugClassNames) == 0 && len(v.Routes) == 0 && len(v.Frequencies) == 0
}

// normalized lookups below operate on chart.NormalizeKey-style keys; the
// vocabulary itself stores lower-case entries.

// alternatesFor returns the accepted alternates of a normalized term,
// searching the abbreviation map in both directions.
func (v Vocabulary) alternatesFor(term string) []string {
	if alts, ok := v.Abbreviations[term]; ok {
		return alts
	}
	for canonical, alts := range v.Abbreviations {
		for _, alt := range alts {
			if alt == term {
				out := []string{canonical}
				for _, other := range alts {
					if other != term {
						out = append(out, other)
					}
				}
				return out
			}
		}
	}
	return nil
}

// frequencyAlternatesFor returns equivalent renderings of a normalized
// frequency, searching the variation table in both directions.
func (v Vocabulary) frequencyAlternatesFor(freq string) []string {
	if alts, ok := v.FrequencyVariations[freq]; ok {
		return alts
	}
	for canonical, alts := range v.FrequencyVariations {
		for _, alt := range alts {
			if alt == freq {
				out := []string{canonical}
				for _, other := range alts {
					if other != freq {
						out = append(out, other)
					}
				}
				return out
			}
		}
	}
	return nil
}

// containsTerm reports whether the normalized term equals any list entry.
func containsTerm(list []string, term string) bool {
	for _, entry := range list {
		if entry == term {
			return true
		}
	}
	return false
}

// containsAnyTerm reports whether the text contains any list entry as a
// substring. Text must already be lower-cased.
func containsAnyTerm(text string, list []string) bool {
	for _, entry := range list {
		if strings.Contains(text, entry) {
			return true
		}
	}
	return false
}
