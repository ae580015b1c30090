// Package knowledge loads the static product knowledge base and answers keyword lookups against it.
package knowledge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// Section names
const (
	SectionPricing  = "pricing_plans"
	SectionPolicies = "company_policies"
	SectionCompany  = "company_info"
)

// RequiredSections must be present for a knowledge base to load
var RequiredSections = []string{SectionPricing, SectionPolicies, SectionCompany}

// ErrMissingSection indicates a required section is absent
var ErrMissingSection = errors.New("knowledge base section missing")

// KnowledgeBase is an immutable set of named sections.
// Each section keeps its rendered text so the document's key order survives.
type KnowledgeBase struct {
	sections map[string]string
}

// Load reads a knowledge base file and checks that every required section is present
func Load(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base: %w", err)
	}

	kb, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := kb.Validate(); err != nil {
		return nil, err
	}
	return kb, nil
}

// Parse builds a knowledge base from a JSON object without requiring any section
func Parse(data []byte) (*KnowledgeBase, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}

	kb := &KnowledgeBase{sections: make(map[string]string, len(raw))}
	for name, value := range raw {
		var buf bytes.Buffer
		if err := json.Indent(&buf, value, "", "  "); err != nil {
			return nil, fmt.Errorf("failed to render section %s: %w", name, err)
		}
		kb.sections[name] = buf.String()
	}
	return kb, nil
}

// Validate returns ErrMissingSection wrapped with the first absent required section
func (kb *KnowledgeBase) Validate() error {
	for _, name := range RequiredSections {
		if _, ok := kb.sections[name]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingSection, name)
		}
	}
	return nil
}

// Section returns the serialized section, two-space indented
func (kb *KnowledgeBase) Section(name string) (string, bool) {
	s, ok := kb.sections[name]
	return s, ok
}

// Sections returns all section names, sorted
func (kb *KnowledgeBase) Sections() []string {
	names := make([]string, 0, len(kb.sections))
	for name := range kb.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
