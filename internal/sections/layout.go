package sections

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxLayoutFileSize = 256 * 1024

// CurrentLayoutVersion is the version of the built-in layout table.
const CurrentLayoutVersion = 1

// Alias maps header text to a canonical section key. A header matches when
// its upper-cased text contains Match.
type Alias struct {
	Match string `koanf:"match" toml:"match" json:"match"`
	Key   string `koanf:"key" toml:"key" json:"key"`
}

// Layout is the static lookup data driving segmentation: the known clinical
// headers recognized anywhere in an element's text, and the ordered alias
// table used to name sections. Aliases are evaluated in order, first match
// wins.
type Layout struct {
	Version      int      `koanf:"version" toml:"version" json:"version"`
	KnownHeaders []string `koanf:"known_headers" toml:"known_headers" json:"known_headers"`
	Aliases      []Alias  `koanf:"aliases" toml:"aliases" json:"aliases"`
}

var sectionKeyRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// DefaultLayout returns the built-in layout for admission notes.
func DefaultLayout() Layout {
	return Layout{
		Version: CurrentLayoutVersion,
		KnownHeaders: []string{
			"PATIENT IDENTIFICATION",
			"ACTIVE MEDICAL ISSUES",
			"PAST MEDICAL HISTORY",
			"RECONCILED ADMISSION MEDICATION LIST",
			"MEDICATION LIST",
			"ALLERGIES",
			"SOCIAL HISTORY",
			"HISTORY OF PRESENTING ILLNESS",
			"REVIEW OF SYSTEMS",
			"PHYSICAL EXAMINATION",
			"VITAL SIGNS",
			"INVESTIGATIONS",
			"ASSESSMENT",
			"REASON FOR REFERRAL",
		},
		Aliases: []Alias{
			{Match: "PATIENT IDENTIFICATION", Key: KeyPatientIdentification},
			{Match: "ACTIVE MEDICAL ISSUES", Key: KeyActiveMedicalIssues},
			{Match: "PAST MEDICAL HISTORY", Key: "past_medical_history"},
			{Match: "RECONCILED ADMISSION MEDICATION LIST", Key: KeyMedications},
			{Match: "MEDICATION LIST", Key: KeyMedications},
			{Match: "MEDICATIONS", Key: KeyMedications},
			{Match: "ALLERGIES", Key: KeyAllergies},
			{Match: "SOCIAL HISTORY", Key: "social_history"},
			{Match: "HISTORY OF PRESENTING ILLNESS", Key: KeyHistoryPresentingIllness},
			{Match: "REVIEW OF SYSTEMS", Key: "review_of_systems"},
			{Match: "PHYSICAL EXAMINATION", Key: KeyPhysicalExamination},
			{Match: "INVESTIGATIONS", Key: "investigations"},
			{Match: "ASSESSMENT", Key: KeyAssessment},
			{Match: "VITAL SIGNS", Key: "vital_signs"},
		},
	}
}

// Validate checks that the layout can drive a segmenter.
func (l Layout) Validate() error {
	if l.Version <= 0 {
		return fmt.Errorf("layout version must be positive, got %d", l.Version)
	}
	if len(l.KnownHeaders) == 0 && len(l.Aliases) == 0 {
		return errors.New("layout has neither known headers nor aliases")
	}
	for i, h := range l.KnownHeaders {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("known_headers[%d] is empty", i)
		}
	}
	for i, a := range l.Aliases {
		if strings.TrimSpace(a.Match) == "" {
			return fmt.Errorf("aliases[%d]: match is empty", i)
		}
		if !sectionKeyRe.MatchString(a.Key) {
			return fmt.Errorf("aliases[%d]: invalid section key %q", i, a.Key)
		}
	}
	return nil
}

// LoadLayout reads a layout table from a YAML (.yaml, .yml) or TOML (.toml)
// file. Missing header and alias lists are filled from DefaultLayout so a
// file may override only one of them.
func LoadLayout(path string) (Layout, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Layout{}, fmt.Errorf("stat layout file: %w", err)
	}
	if info.Size() > maxLayoutFileSize {
		return Layout{}, fmt.Errorf("layout file %s exceeds %d bytes", path, maxLayoutFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read layout file: %w", err)
	}

	var layout Layout
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		layout, err = ParseYAMLLayout(content)
	case ".toml":
		layout, err = ParseTOMLLayout(content)
	default:
		return Layout{}, fmt.Errorf("unsupported layout format %q", ext)
	}
	if err != nil {
		return Layout{}, fmt.Errorf("load layout %s: %w", path, err)
	}
	return layout, nil
}

// ParseYAMLLayout decodes a YAML layout document.
func ParseYAMLLayout(content []byte) (Layout, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return Layout{}, fmt.Errorf("parse yaml: %w", err)
	}
	var layout Layout
	if err := k.Unmarshal("", &layout); err != nil {
		return Layout{}, fmt.Errorf("unmarshal layout: %w", err)
	}
	return finishLayout(layout)
}

// ParseTOMLLayout decodes a TOML layout document.
func ParseTOMLLayout(content []byte) (Layout, error) {
	var layout Layout
	if _, err := toml.Decode(string(content), &layout); err != nil {
		return Layout{}, fmt.Errorf("parse toml: %w", err)
	}
	return finishLayout(layout)
}

func finishLayout(layout Layout) (Layout, error) {
	def := DefaultLayout()
	if layout.Version == 0 {
		layout.Version = def.Version
	}
	if len(layout.KnownHeaders) == 0 {
		layout.KnownHeaders = def.KnownHeaders
	}
	if len(layout.Aliases) == 0 {
		layout.Aliases = def.Aliases
	}
	if err := layout.Validate(); err != nil {
		return Layout{}, err
	}
	return layout, nil
}
