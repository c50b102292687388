package extraction

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
)

// finder returns up to n submatch slices for text, n < 0 meaning all.
type finder func(text string, n int) [][]string

// rule pairs a finder with the function that turns one of its submatches
// into a field value. pick returns false to reject a match.
type rule[T any] struct {
	name string
	find finder
	pick func(sub []string) (T, bool)
}

func reFinder(expr string) finder {
	re := regexp.MustCompile(expr)
	return func(text string, n int) [][]string {
		return re.FindAllStringSubmatch(text, n)
	}
}

func newRule[T any](name, expr string, pick func([]string) (T, bool)) rule[T] {
	return rule[T]{name: name, find: reFinder(expr), pick: pick}
}

// firstMatch evaluates rules in priority order, looking only at the first
// match of each, and returns the first accepted value.
func firstMatch[T any](rules []rule[T], text string) (T, string, bool) {
	for _, r := range rules {
		subs := r.find(text, 1)
		if len(subs) == 0 {
			continue
		}
		if v, ok := r.pick(subs[0]); ok {
			return v, r.name, true
		}
	}
	var zero T
	return zero, "", false
}

// allMatches collects every accepted match of every rule, rules in order and
// matches in text order.
func allMatches[T any](rules []rule[T], text string) []T {
	var out []T
	for _, r := range rules {
		for _, sub := range r.find(text, -1) {
			if v, ok := r.pick(sub); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// blockFinder captures the text following each header match up to the first
// stop marker on the same line. A line with no stop marker is captured only
// when it is the last line of text.
func blockFinder(header, stop string) finder {
	headerRe := regexp.MustCompile(header)
	stopRe := regexp.MustCompile(stop)
	return func(text string, n int) [][]string {
		var out [][]string
		for _, loc := range headerRe.FindAllStringIndex(text, -1) {
			if n >= 0 && len(out) >= n {
				break
			}
			rest := text[loc[1]:]
			line, tail, _ := strings.Cut(rest, "\n")
			if s := stopRe.FindStringIndex(line); s != nil {
				line = line[:s[0]]
			} else if tail != "" {
				continue
			}
			out = append(out, []string{text[loc[0]:loc[1]] + line, line})
		}
		return out
	}
}

// group returns a pick that accepts the trimmed, non-empty submatch i.
func group(i int) func([]string) (string, bool) {
	return func(sub []string) (string, bool) {
		if i >= len(sub) {
			return "", false
		}
		v := strings.TrimSpace(sub[i])
		return v, v != ""
	}
}

// constant returns a pick that maps any match to v.
func constant(v string) func([]string) (string, bool) {
	return func([]string) (string, bool) { return v, true }
}

const (
	titleExpr  = `(?i:Mrs|Ms|Mr|Miss|Mx|Dr)\.`
	namePart   = `(?:[A-Z]{2,}\b(?:[ \t]+[A-Z]{2,}\b)?|[A-Z][a-z]*(?:[ \t]+[A-Z][a-z]*)?)`
	fullName   = `[A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)+`
	twoNames   = `[A-Z][a-z]+[ \t]+[A-Z][a-z]+`
	identLabel = `(?i:patient\s+identification)[:\s]+`
	datePart   = `(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`
	doseUnit   = `(mg|ml|g|units?|mcg)`
	medName    = `([A-Za-z\s-]+?)`
	doseValue  = `(\d+(?:\.\d+)?)`
	freeValue  = `([^.\n]+)`
)

// Words a name capture must not consist of.
var nameStopWords = map[string]bool{
	"is": true, "a": true, "the": true, "an": true, "who": true, "presented": true,
}

// pickName reads submatch 1 as an optional title and 2 as the name. A lone
// initial is kept only together with its title ("Ms. J").
func pickName(sub []string) (string, bool) {
	if len(sub) < 3 {
		return "", false
	}
	t := strings.TrimSpace(sub[1])
	name := strings.TrimSpace(sub[2])
	if name == "" || nameStopWords[strings.ToLower(name)] {
		return "", false
	}
	if utf8.RuneCountInString(name) == 1 {
		if t == "" {
			return "", false
		}
		return t + " " + name, true
	}
	return name, true
}

// Name rules applied to the patient_identification section text.
var sectionNameRules = []rule[string]{
	newRule("identification_titled", identLabel+`(`+titleExpr+`)\s+(`+namePart+`)`, pickName),
	newRule("titled", `\b(`+titleExpr+`)\s+(`+namePart+`)`, pickName),
	newRule("identification_untitled", identLabel+`()(`+twoNames+`)`, pickName),
}

// Name rules applied to the whole document.
var documentNameRules = []rule[string]{
	newRule("identification", identLabel+`(?:(`+titleExpr+`)\s*)?(`+namePart+`)`, pickName),
	newRule("patient_name_label", `(?i:patient\s*name)[:\s]+()(`+fullName+`)`, pickName),
	newRule("name_label", `\b(?i:name)[:\s]+()(`+fullName+`)`, pickName),
	newRule("titled", `\b(`+titleExpr+`)\s+(`+namePart+`)`, pickName),
}

type ageGender struct {
	age    string
	gender string
}

func pickAgeGender(sub []string) (ageGender, bool) {
	if len(sub) < 3 {
		return ageGender{}, false
	}
	return ageGender{age: strings.TrimSpace(sub[1]), gender: normalizeGender(sub[2])}, true
}

var ageGenderRules = []rule[ageGender]{
	newRule("hyphenated", `(?i)(\d+)-year-old\s+(man|woman|male|female)\b`, pickAgeGender),
	newRule("spaced", `(?i)(\d+)\s*years?\s*old\s+(man|woman|male|female)\b`, pickAgeGender),
}

var ageRules = []rule[string]{
	newRule("hyphenated", `(?i)(\d+)-year-old`, group(1)),
	newRule("spaced", `(?i)(\d+)\s*years?\s*old`, group(1)),
	newRule("label", `(?i)\bage[:\s]+(\d+)`, group(1)),
}

// Gender rules tried after the age-gender phrase. An honorific counts only
// when a capitalised word follows it, so "5 ms." does not.
var genderRules = []rule[string]{
	newRule("honorific_female", `\b(?i:mrs|ms|miss)\.\s+[A-Z]`, constant(genderFemale)),
	newRule("honorific_male", `\b(?i:mr)\.\s+[A-Z]`, constant(genderMale)),
	newRule("gender_label", `(?i)\bgender[:\s]+(male|female|m|f)\b`, pickGender),
	newRule("sex_label", `(?i)\bsex[:\s]+(male|female|m|f)\b`, pickGender),
}

const (
	genderFemale = "Female"
	genderMale   = "Male"
)

func pickGender(sub []string) (string, bool) {
	if len(sub) < 2 {
		return "", false
	}
	g := normalizeGender(sub[1])
	return g, g != ""
}

func normalizeGender(word string) string {
	w := strings.ToLower(strings.TrimSpace(word))
	switch w {
	case "woman", "female", "f":
		return genderFemale
	case "man", "male", "m":
		return genderMale
	case "":
		return ""
	default:
		return strings.ToUpper(w[:1]) + w[1:]
	}
}

var mrnRules = []rule[string]{
	newRule("mrn_label", `(?i)\b(?:mrn|medical\s+record\s+number|patient\s+id)[:\s]+([A-Z0-9-]+)`, group(1)),
}

var dobRules = []rule[string]{
	newRule("date_of_birth", `(?i)date\s*of\s*birth[:\s]+`+datePart, group(1)),
	newRule("dob", `(?i)\bdob[:\s]+`+datePart, group(1)),
	newRule("birth_date", `(?i)birth\s*date[:\s]+`+datePart, group(1)),
}

// vitalRules lists, per vital sign key, its label patterns in priority order.
var vitalRules = []struct {
	key   string
	rules []rule[string]
}{
	{"blood_pressure", []rule[string]{
		newRule("label", `(?i)blood\s*pressure[:\s]+(\d+/\d+)`, group(1)),
		newRule("abbrev", `(?i)\bbp[:\s]+(\d+/\d+)`, group(1)),
	}},
	{"heart_rate", []rule[string]{
		newRule("label", `(?i)heart\s*rate[:\s]+(\d+)`, group(1)),
		newRule("pulse", `(?i)\bpulse[:\s]+(\d+)`, group(1)),
	}},
	{"temperature", []rule[string]{
		newRule("label", `(?i)temperature[:\s]+(\d+\.?\d*)`, group(1)),
		newRule("abbrev", `(?i)\btemp[:\s]+(\d+\.?\d*)`, group(1)),
	}},
	{"respiratory_rate", []rule[string]{
		newRule("label", `(?i)respiratory\s*rate[:\s]+(\d+)`, group(1)),
		newRule("abbrev", `(?i)\brr[:\s]+(\d+)`, group(1)),
	}},
	{"oxygen_saturation", []rule[string]{
		newRule("label", `(?i)(?:o2\s*sat(?:uration)?|oxygen\s*saturation|spo2)[:\s]+(\d+)`, group(1)),
	}},
}

var (
	ordinalPrefixRe    = regexp.MustCompile(`^\d+\.\s*`)
	numberedMarkerRe   = regexp.MustCompile(`\d+\.\s+`)
	numberedBoundaryRe = regexp.MustCompile(`\d+\.`)
)

// Whole-document diagnosis rules, all matches collected.
var diagnosisRules = []rule[string]{
	newRule("diagnosis_label", `(?i)diagnosis[:\s]+`+freeValue, group(1)),
	newRule("diagnoses_label", `(?i)diagnoses[:\s]+`+freeValue, group(1)),
	newRule("condition_label", `(?i)condition[:\s]+`+freeValue, group(1)),
	newRule("icd_code", `(?i)\bicd(?:-?1[01])?[:\s]+([A-Z0-9.]+)`, group(1)),
	{
		name: "active_issues_block",
		find: blockFinder(`(?i)active\s+medical\s+issues[:\s]+`, `(?i)past\s+medical|reconciled|allergies`),
		pick: group(1),
	},
}

func pickMedication(nameIdx, doseIdx, unitIdx int) func([]string) (document.Medication, bool) {
	return func(sub []string) (document.Medication, bool) {
		if len(sub) <= nameIdx || len(sub) <= doseIdx || len(sub) <= unitIdx {
			return document.Medication{}, false
		}
		name := strings.TrimSpace(sub[nameIdx])
		if name == "" {
			return document.Medication{}, false
		}
		return document.Medication{
			Name:   name,
			Dosage: strings.TrimSpace(sub[doseIdx]) + " " + strings.TrimSpace(sub[unitIdx]),
		}, true
	}
}

func pickMedicationName(i int) func([]string) (document.Medication, bool) {
	pick := group(i)
	return func(sub []string) (document.Medication, bool) {
		name, ok := pick(sub)
		return document.Medication{Name: name}, ok
	}
}

// medicationItemRules read one list item, optionally ordinal-prefixed.
var medicationItemRules = []rule[document.Medication]{
	newRule("dosed_item", `(?i)(?:^\d+\.\s*)?`+medName+`\s+`+doseValue+`\s*`+doseUnit, pickMedication(1, 2, 3)),
}

// numberedMedicationRules find ordinal-prefixed dosed entries in running text.
var numberedMedicationRules = []rule[document.Medication]{
	newRule("numbered", `(?i)(\d+)\.\s+`+medName+`\s+`+doseValue+`\s*`+doseUnit, pickMedication(2, 3, 4)),
}

// Whole-document medication rules, all matches collected.
var medicationRules = []rule[document.Medication]{
	numberedMedicationRules[0],
	{
		name: "reconciled_block",
		find: blockFinder(`(?i)reconciled\s+admission\s+medication\s+list[:\s]+`, `(?i)allergies|social|history`),
		pick: pickMedicationName(1),
	},
	newRule("medication_label", `(?i)medication[:\s]+`+freeValue, pickMedicationName(1)),
	newRule("medications_label", `(?i)medications[:\s]+`+freeValue, pickMedicationName(1)),
	newRule("prescribed_label", `(?i)prescribed[:\s]+`+freeValue, pickMedicationName(1)),
	newRule("routed_dose", `(?i)(\w+)\s+(\d+)\s*(mg|ml|units?)\s*(?:po|iv|im|subq)\b`, pickMedication(1, 2, 3)),
}

var noKnownAllergiesRe = regexp.MustCompile(`(?i)no\s+known\s+allergies`)

var allergyRules = []rule[string]{
	newRule("allergy_label", `(?i)allerg(?:y|ies)[:\s]+`+freeValue, group(1)),
	newRule("nka_label", `(?i)\bnka[:\s]+`+freeValue, group(1)),
}

var procedureRules = []rule[string]{
	newRule("procedure_label", `(?i)procedure[:\s]+`+freeValue, group(1)),
	newRule("procedures_label", `(?i)procedures[:\s]+`+freeValue, group(1)),
	newRule("surgery_label", `(?i)surgery[:\s]+`+freeValue, group(1)),
	newRule("intervention_label", `(?i)intervention[:\s]+`+freeValue, group(1)),
}

// Clinical note classification.
var (
	noteSections = []string{
		sections.KeyHistoryPresentingIllness,
		sections.KeyPhysicalExamination,
		sections.KeyAssessment,
		sections.KeyPlan,
	}
	noteKeywords = []string{"note", "observation", "assessment", "plan", "impression", "history", "examination"}
	// A fragment opening with one of these words continues the current note.
	continuationWords = map[string]bool{
		"she": true, "he": true, "they": true, "we": true, "the": true, "patient": true,
	}
)

// minNoteRunes is the length a fragment must exceed to count as note text.
const minNoteRunes = 30
