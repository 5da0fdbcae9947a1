package automation

import (
	"testing"
	"time"

	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
)

var gateNow = time.Date(2026, time.August, 31, 11, 0, 0, 0, time.UTC)

func testAutomationConfig() config.AutomationConfig {
	return config.AutomationConfig{
		AutoSendEnabled:            true,
		BusinessHours:              config.BusinessHours{Enabled: false, From: "09:00", To: "17:30"},
		NeverAutoSend:              []string{"refund_cancellation"},
		DailyMax:                   50,
		DefaultConfidenceThreshold: 0.85,
		AutoResolveCategories:      []string{"faq_shipping", "faq_returns"},
		AutoReplyCategories:        []string{"product_question", "general_enquiry"},
	}
}

func eligibleClassification() *core.ClassificationResult {
	return &core.ClassificationResult{
		IntentCategory:       core.IntentFAQShipping,
		AutomationConfidence: 0.92,
		Sentiment:            core.SentimentAnalysis{Label: core.SentimentNeutral},
	}
}

func safeTemplate() *core.Template {
	return &core.Template{
		ID:              "tpl-shipping",
		AutoSendEnabled: true,
		SafetyLevel:     core.SafetySafe,
		Active:          true,
	}
}

func TestEvaluateAllChecksPass(t *testing.T) {
	gate := NewGate(testAutomationConfig(), nil)

	decision := gate.Evaluate(eligibleClassification(), safeTemplate(), gateNow, 0)

	if !decision.CanAutoSend {
		t.Fatalf("CanAutoSend = false, failed: %v", decision.FailedChecks)
	}
	if decision.Reason != "all checks passed" {
		t.Fatalf("Reason = %q", decision.Reason)
	}
	if len(decision.ChecksPerformed) != 8 {
		t.Fatalf("ChecksPerformed = %d, want all 8", len(decision.ChecksPerformed))
	}
}

func TestEvaluateRecordsEveryCheckEvenWhenFailing(t *testing.T) {
	cfg := testAutomationConfig()
	cfg.AutoSendEnabled = false
	gate := NewGate(cfg, nil)

	cls := eligibleClassification()
	cls.Risk.LegalThreat = true

	decision := gate.Evaluate(cls, safeTemplate(), gateNow, 0)

	if decision.CanAutoSend {
		t.Fatal("CanAutoSend = true despite failures")
	}
	if len(decision.ChecksPerformed) != 8 {
		t.Fatalf("ChecksPerformed = %d, want 8 (no short-circuit)", len(decision.ChecksPerformed))
	}
	if len(decision.FailedChecks) != 2 {
		t.Fatalf("FailedChecks = %v, want enabled flag and risk flags", decision.FailedChecks)
	}
}

func TestEvaluateSingleCheckFailures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.AutomationConfig, *core.ClassificationResult, *core.Template)
		sentToday int
		wantFail  string
	}{
		{
			"global flag off",
			func(cfg *config.AutomationConfig, cls *core.ClassificationResult, tpl *core.Template) {
				cfg.AutoSendEnabled = false
			},
			0, CheckAutoSendEnabled,
		},
		{
			"outside business hours",
			func(cfg *config.AutomationConfig, cls *core.ClassificationResult, tpl *core.Template) {
				cfg.BusinessHours.Enabled = true
				cfg.BusinessHours.From = "12:00"
				cfg.BusinessHours.To = "13:00"
			},
			0, CheckBusinessHours,
		},
		{
			"template opts out",
			func(cfg *config.AutomationConfig, cls *core.ClassificationResult, tpl *core.Template) {
				tpl.AutoSendEnabled = false
			},
			0, CheckTemplateAutoSend,
		},
		{
			"never-send category",
			func(cfg *config.AutomationConfig, cls *core.ClassificationResult, tpl *core.Template) {
				cls.IntentCategory = core.IntentRefundCancellation
			},
			0, CheckCategoryAllowed,
		},
		{
			"confidence below template threshold",
			func(cfg *config.AutomationConfig, cls *core.ClassificationResult, tpl *core.Template) {
				tpl.AutoSendConfidenceThreshold = 0.95
			},
			0, CheckConfidence,
		},
		{
			"risky template",
			func(cfg *config.AutomationConfig, cls *core.ClassificationResult, tpl *core.Template) {
				tpl.SafetyLevel = core.SafetyRisky
			},
			0, CheckSafetyLevel,
		},
		{
			"refund risk flag",
			func(cfg *config.AutomationConfig, cls *core.ClassificationResult, tpl *core.Template) {
				cls.Risk.RefundRequired = true
			},
			0, CheckRiskFlags,
		},
		{
			"daily limit reached",
			func(cfg *config.AutomationConfig, cls *core.ClassificationResult, tpl *core.Template) {},
			50, CheckDailyLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testAutomationConfig()
			cls := eligibleClassification()
			tpl := safeTemplate()
			tt.mutate(&cfg, cls, tpl)

			decision := NewGate(cfg, nil).Evaluate(cls, tpl, gateNow, tt.sentToday)

			if decision.CanAutoSend {
				t.Fatal("CanAutoSend = true, want blocked")
			}
			if len(decision.FailedChecks) != 1 || decision.FailedChecks[0] != tt.wantFail {
				t.Fatalf("FailedChecks = %v, want [%s]", decision.FailedChecks, tt.wantFail)
			}
		})
	}
}

func TestRiskFlagFailureCombinations(t *testing.T) {
	tests := []struct {
		name string
		cls  core.ClassificationResult
		want bool
	}{
		{"legal threat", core.ClassificationResult{Risk: core.RiskFlags{LegalThreat: true}}, true},
		{"chargeback", core.ClassificationResult{Risk: core.RiskFlags{ChargebackMention: true}}, true},
		{
			"review threat with very negative sentiment",
			core.ClassificationResult{
				Risk:      core.RiskFlags{NegativeReviewThreat: true},
				Sentiment: core.SentimentAnalysis{Label: core.SentimentVeryNegative},
			},
			true,
		},
		{
			"review threat alone does not block",
			core.ClassificationResult{
				Risk:      core.RiskFlags{NegativeReviewThreat: true},
				Sentiment: core.SentimentAnalysis{Label: core.SentimentNegative},
			},
			false,
		},
		{"refund required", core.ClassificationResult{Risk: core.RiskFlags{RefundRequired: true}}, true},
		{"clean", core.ClassificationResult{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, _ := riskFlagFailure(&tt.cls)
			if blocked != tt.want {
				t.Fatalf("riskFlagFailure = %t, want %t", blocked, tt.want)
			}
		})
	}
}

func TestResolveTag(t *testing.T) {
	gate := NewGate(testAutomationConfig(), nil)

	tests := []struct {
		name     string
		cls      core.ClassificationResult
		wantTag  core.AutomationTag
		wantConf float64
	}{
		{
			"legal threat escalates with absolute confidence",
			core.ClassificationResult{
				IntentCategory:       core.IntentFAQShipping,
				AutomationConfidence: 0.3,
				Risk:                 core.RiskFlags{LegalThreat: true},
			},
			core.TagEscalate, 1.0,
		},
		{
			"chargeback escalates",
			core.ClassificationResult{
				IntentCategory:       core.IntentGeneralEnquiry,
				AutomationConfidence: 0.95,
				Risk:                 core.RiskFlags{ChargebackMention: true},
			},
			core.TagEscalate, 1.0,
		},
		{
			"never-send category goes to a human",
			core.ClassificationResult{
				IntentCategory:       core.IntentRefundCancellation,
				AutomationConfidence: 0.95,
			},
			core.TagHumanRequired, 0.95,
		},
		{
			"very negative sentiment goes to a human",
			core.ClassificationResult{
				IntentCategory:       core.IntentFAQShipping,
				AutomationConfidence: 0.95,
				Sentiment:            core.SentimentAnalysis{Label: core.SentimentVeryNegative},
			},
			core.TagHumanRequired, 0.95,
		},
		{
			"low confidence goes to a human",
			core.ClassificationResult{
				IntentCategory:       core.IntentFAQShipping,
				AutomationConfidence: 0.6,
			},
			core.TagHumanRequired, 0.6,
		},
		{
			"faq category auto-resolves",
			core.ClassificationResult{
				IntentCategory:       core.IntentFAQReturns,
				AutomationConfidence: 0.9,
			},
			core.TagAutoResolve, 0.9,
		},
		{
			"safe category auto-replies",
			core.ClassificationResult{
				IntentCategory:       core.IntentProductQuestion,
				AutomationConfidence: 0.9,
			},
			core.TagAutoReply, 0.9,
		},
		{
			"unlisted category defaults to a human",
			core.ClassificationResult{
				IntentCategory:       core.IntentOrderIssue,
				AutomationConfidence: 0.9,
			},
			core.TagHumanRequired, 0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, conf, reason := gate.ResolveTag(&tt.cls)
			if tag != tt.wantTag {
				t.Fatalf("tag = %s, want %s (reason %q)", tag, tt.wantTag, reason)
			}
			if conf != tt.wantConf {
				t.Fatalf("confidence = %v, want %v", conf, tt.wantConf)
			}
			if reason == "" {
				t.Fatal("reason is empty")
			}
		})
	}
}

func TestWithinWindow(t *testing.T) {
	day := func(h, m int) time.Time {
		return time.Date(2026, time.August, 31, h, m, 0, 0, time.UTC)
	}

	tests := []struct {
		name     string
		now      time.Time
		from, to string
		want     bool
	}{
		{"inside", day(11, 0), "09:00", "17:30", true},
		{"at open", day(9, 0), "09:00", "17:30", true},
		{"at close is outside", day(17, 30), "09:00", "17:30", false},
		{"before open", day(8, 59), "09:00", "17:30", false},
		{"overnight wrap, late evening", day(23, 0), "22:00", "06:00", true},
		{"overnight wrap, early morning", day(5, 0), "22:00", "06:00", true},
		{"overnight wrap, midday", day(12, 0), "22:00", "06:00", false},
		{"malformed clock", day(12, 0), "nine", "17:30", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withinWindow(tt.now, tt.from, tt.to); got != tt.want {
				t.Fatalf("withinWindow = %t, want %t", got, tt.want)
			}
		})
	}
}
