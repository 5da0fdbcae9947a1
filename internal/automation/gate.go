// Package automation decides whether a templated reply may go out without a
// human. The gate is fail-closed: every check is evaluated and recorded, and
// a single failure blocks the send.
package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
)

// Check names, in evaluation order.
const (
	CheckAutoSendEnabled  = "auto_send_enabled"
	CheckBusinessHours    = "business_hours"
	CheckTemplateAutoSend = "template_auto_send"
	CheckCategoryAllowed  = "category_allowed"
	CheckConfidence       = "confidence_threshold"
	CheckSafetyLevel      = "safety_level"
	CheckRiskFlags        = "risk_flags"
	CheckDailyLimit       = "daily_limit"
)

// Gate evaluates auto-send eligibility against a configuration snapshot.
type Gate struct {
	cfg    config.AutomationConfig
	logger *zap.Logger
}

// NewGate creates an eligibility gate.
func NewGate(cfg config.AutomationConfig, logger *zap.Logger) *Gate {
	return &Gate{cfg: cfg, logger: logger}
}

// Evaluate runs every gate check and returns the full decision. sentToday is
// the day's auto-send count at evaluation time; the actual send must still go
// through the atomic counter.
func (g *Gate) Evaluate(cls *core.ClassificationResult, tpl *core.Template, now time.Time, sentToday int) *core.AutomationDecision {
	decision := &core.AutomationDecision{}

	record := func(name string, passed bool, detail string) {
		decision.ChecksPerformed = append(decision.ChecksPerformed, core.CheckResult{
			Name:   name,
			Passed: passed,
			Detail: detail,
		})
		if !passed {
			decision.FailedChecks = append(decision.FailedChecks, name)
		}
	}

	record(CheckAutoSendEnabled, g.cfg.AutoSendEnabled, "global auto-send flag")

	if g.cfg.BusinessHours.Enabled {
		inside := withinWindow(now, g.cfg.BusinessHours.From, g.cfg.BusinessHours.To)
		record(CheckBusinessHours, inside,
			fmt.Sprintf("window %s-%s", g.cfg.BusinessHours.From, g.cfg.BusinessHours.To))
	} else {
		record(CheckBusinessHours, true, "business hours not enforced")
	}

	record(CheckTemplateAutoSend, tpl.AutoSendEnabled, "template auto-send flag")

	blockedCategory := containsString(g.cfg.NeverAutoSend, string(cls.IntentCategory))
	record(CheckCategoryAllowed, !blockedCategory,
		fmt.Sprintf("category %s", cls.IntentCategory))

	threshold := tpl.ConfidenceThreshold(g.cfg.DefaultConfidenceThreshold)
	record(CheckConfidence, cls.AutomationConfidence >= threshold,
		fmt.Sprintf("confidence %.2f vs threshold %.2f", cls.AutomationConfidence, threshold))

	record(CheckSafetyLevel, tpl.SafetyLevel != core.SafetyRisky,
		fmt.Sprintf("safety level %s", tpl.SafetyLevel))

	riskBlocked, riskDetail := riskFlagFailure(cls)
	record(CheckRiskFlags, !riskBlocked, riskDetail)

	record(CheckDailyLimit, sentToday < g.cfg.DailyMax,
		fmt.Sprintf("%d of %d sent today", sentToday, g.cfg.DailyMax))

	decision.CanAutoSend = len(decision.FailedChecks) == 0
	if decision.CanAutoSend {
		decision.Reason = "all checks passed"
	} else {
		decision.Reason = "blocked by: " + strings.Join(decision.FailedChecks, ", ")
	}

	if g.logger != nil {
		g.logger.Debug("Automation gate evaluated",
			zap.Bool("can_auto_send", decision.CanAutoSend),
			zap.Strings("failed_checks", decision.FailedChecks))
	}

	return decision
}

// riskFlagFailure applies the risk-flag rail: legal threat, chargeback,
// negative-review threat combined with very negative sentiment, or a refund
// requirement all block auto-send.
func riskFlagFailure(cls *core.ClassificationResult) (bool, string) {
	switch {
	case cls.Risk.LegalThreat:
		return true, "legal threat flagged"
	case cls.Risk.ChargebackMention:
		return true, "chargeback mentioned"
	case cls.Risk.NegativeReviewThreat && cls.Sentiment.Label == core.SentimentVeryNegative:
		return true, "review threat with very negative sentiment"
	case cls.Risk.RefundRequired:
		return true, "refund required"
	default:
		return false, "no risk flags set"
	}
}

// ResolveTag decides the automation tag for a classification. A legal threat
// or chargeback mention always escalates with confidence 1.0, overriding
// every other outcome.
func (g *Gate) ResolveTag(cls *core.ClassificationResult) (core.AutomationTag, float64, string) {
	if cls.Risk.EscalationRequired() {
		return core.TagEscalate, 1.0, "legal threat or chargeback mention"
	}

	if containsString(g.cfg.NeverAutoSend, string(cls.IntentCategory)) {
		return core.TagHumanRequired, cls.AutomationConfidence,
			fmt.Sprintf("category %s is never auto-sent", cls.IntentCategory)
	}

	if cls.Sentiment.Label == core.SentimentVeryNegative {
		return core.TagHumanRequired, cls.AutomationConfidence, "very negative sentiment"
	}

	if cls.AutomationConfidence < g.cfg.DefaultConfidenceThreshold {
		return core.TagHumanRequired, cls.AutomationConfidence,
			"confidence " + strconv.FormatFloat(cls.AutomationConfidence, 'f', 2, 64) +
				" below threshold " + strconv.FormatFloat(g.cfg.DefaultConfidenceThreshold, 'f', 2, 64)
	}

	if containsString(g.cfg.AutoResolveCategories, string(cls.IntentCategory)) {
		return core.TagAutoResolve, cls.AutomationConfidence, "self-contained FAQ category"
	}
	if containsString(g.cfg.AutoReplyCategories, string(cls.IntentCategory)) {
		return core.TagAutoReply, cls.AutomationConfidence, "safe category with sufficient confidence"
	}

	return core.TagHumanRequired, cls.AutomationConfidence, "no safe automation path"
}

// withinWindow reports whether now falls inside an HH:MM window. A from later
// than to is treated as an overnight wrap-around.
func withinWindow(now time.Time, from, to string) bool {
	fromMin, okFrom := parseClock(from)
	toMin, okTo := parseClock(to)
	if !okFrom || !okTo {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()
	if fromMin <= toMin {
		return nowMin >= fromMin && nowMin < toMin
	}
	// Overnight window, e.g. 22:00-06:00.
	return nowMin >= fromMin || nowMin < toMin
}

func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
