package service

import (
	"regexp"
	"strings"
)

// amountRe matches a 2-7 digit amount immediately followed by the
// currency unit, e.g. "2000元".
var amountRe = regexp.MustCompile(`(\d{2,7})\s*元`)

// SlotExtractor performs rule-based fact extraction from free text,
// driven entirely by the per-template keyword tables.
type SlotExtractor struct {
	catalog *CaseTemplateCatalog
}

// NewSlotExtractor creates a new slot extractor
func NewSlotExtractor(catalog *CaseTemplateCatalog) *SlotExtractor {
	return &SlotExtractor{catalog: catalog}
}

// Extract returns only the slots the extractor is confident about;
// unmentioned slots are omitted, never defaulted. The evidence_types
// value holds the labels found in this text only; the caller merges
// them into the session's accumulated set.
func (e *SlotExtractor) Extract(caseID, text string) (map[string]any, error) {
	template, err := e.catalog.TemplateFor(caseID)
	if err != nil {
		return nil, err
	}

	found := make(map[string]any)

	for _, rule := range template.BoolSlots {
		if value, ok := extractBool(text, rule.Positive, rule.Negative); ok {
			found[rule.Slot] = value
		}
	}

	if template.AmountSlot != "" {
		if amount := extractAmount(text); amount != "" {
			found[template.AmountSlot] = amount
		}
	}

	if labels := extractEvidenceTypes(text, template.EvidenceKeywords); len(labels) > 0 {
		found["evidence_types"] = labels
	}

	return found, nil
}

// extractBool checks negative cues before positive ones, so text carrying
// both polarities resolves to false.
func extractBool(text string, positive, negative []string) (bool, bool) {
	lowered := strings.ToLower(text)
	for _, keyword := range negative {
		if strings.Contains(lowered, keyword) {
			return false, true
		}
	}
	for _, keyword := range positive {
		if strings.Contains(lowered, keyword) {
			return true, true
		}
	}
	return false, false
}

func extractAmount(text string) string {
	m := amountRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1] + "元"
}

func extractEvidenceTypes(text string, mapping map[string][]string) []string {
	var found []string
	for label, keywords := range mapping {
		for _, keyword := range keywords {
			if strings.Contains(text, keyword) {
				found = append(found, label)
				break
			}
		}
	}
	return found
}
