package playbook

import (
	"testing"

	"github.com/mailpilot/triage-engine/internal/core"
)

func shippingTemplate() *core.Template {
	return &core.Template{
		ID:              "tpl-shipping",
		Category:        core.IntentFAQShipping,
		SafetyLevel:     core.SafetySafe,
		TriggerIntents:  []core.IntentCategory{core.IntentFAQShipping},
		TriggerKeywords: []string{"shipping", "postage"},
		Active:          true,
	}
}

func faqShippingClassification() *core.ClassificationResult {
	return &core.ClassificationResult{
		IntentCategory:       core.IntentFAQShipping,
		AutomationConfidence: 0.9,
	}
}

func TestBestFullMatchScore(t *testing.T) {
	m := NewMatcher(0.85, nil)
	tpl := shippingTemplate()

	got := m.Best([]*core.Template{tpl}, faqShippingClassification(), "how much is shipping to France?")

	if got == nil {
		t.Fatal("Best returned nil")
	}
	// intent 10 + keyword 2 + safe 5 + confidence 3
	if got.Score != 20 {
		t.Fatalf("Score = %d, want 20", got.Score)
	}
	if got.Template.ID != "tpl-shipping" {
		t.Fatalf("Template = %s", got.Template.ID)
	}
}

func TestBestKeywordBonusNeedsTextMatch(t *testing.T) {
	m := NewMatcher(0.85, nil)
	tpl := shippingTemplate()

	got := m.Best([]*core.Template{tpl}, faqShippingClassification(), "completely unrelated text")

	if got == nil {
		t.Fatal("Best returned nil")
	}
	// Declared keywords absent from the text earn nothing: 10 + 5 + 3.
	if got.Score != 18 {
		t.Fatalf("Score = %d, want 18", got.Score)
	}
}

func TestBestSkipsInactiveAndExcluded(t *testing.T) {
	m := NewMatcher(0.85, nil)

	inactive := shippingTemplate()
	inactive.ID = "tpl-inactive"
	inactive.Active = false

	excluded := shippingTemplate()
	excluded.ID = "tpl-excluded"
	excluded.ExcludeIfPresent = []string{"damaged"}

	got := m.Best([]*core.Template{inactive, excluded}, faqShippingClassification(),
		"my shipping box arrived damaged")

	if got != nil {
		t.Fatalf("Best = %s, want nil", got.Template.ID)
	}
}

func TestBestGeneralFAQFallbackBonus(t *testing.T) {
	m := NewMatcher(0.85, nil)

	tpl := &core.Template{
		ID:             "tpl-general",
		Category:       core.IntentGeneralEnquiry,
		SafetyLevel:    core.SafetyModerate,
		TriggerIntents: []core.IntentCategory{core.IntentGeneralEnquiry},
		Active:         true,
	}
	cls := &core.ClassificationResult{
		IntentCategory:       core.IntentProductQuestion,
		AutomationConfidence: 0.9,
	}

	got := m.Best([]*core.Template{tpl}, cls, "is this compatible with my model?")

	if got == nil {
		t.Fatal("Best returned nil")
	}
	// fallback 3 + moderate 2 + confidence 3
	if got.Score != 8 {
		t.Fatalf("Score = %d, want 8", got.Score)
	}
}

func TestBestEqualScoreKeepsEarlierTemplate(t *testing.T) {
	m := NewMatcher(0.85, nil)

	first := shippingTemplate()
	first.ID = "tpl-first"
	second := shippingTemplate()
	second.ID = "tpl-second"

	got := m.Best([]*core.Template{first, second}, faqShippingClassification(), "shipping please")

	if got == nil || got.Template.ID != "tpl-first" {
		t.Fatalf("Best = %v, want tpl-first", got)
	}
}

func TestBestNilWhenNothingScores(t *testing.T) {
	m := NewMatcher(0.85, nil)

	tpl := &core.Template{
		ID:          "tpl-risky",
		Category:    core.IntentOrderIssue,
		SafetyLevel: core.SafetyRisky,
		Active:      true,
	}
	cls := &core.ClassificationResult{
		IntentCategory:       core.IntentFAQReturns,
		AutomationConfidence: 0.1,
	}

	if got := m.Best([]*core.Template{tpl}, cls, "anything"); got != nil {
		t.Fatalf("Best = %v, want nil", got)
	}
}
