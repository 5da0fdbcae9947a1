// Package triage wires the pipeline together: extraction, rule
// classification, the optional semantic consult, merging, tag resolution,
// priority scoring and the auto-send attempt.
package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/automation"
	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/extract"
	"github.com/mailpilot/triage-engine/internal/playbook"
	"github.com/mailpilot/triage-engine/internal/rules"
	"github.com/mailpilot/triage-engine/internal/scoring"
)

// ErrNoTemplate is returned by AttemptAutoSend when no template matches.
var ErrNoTemplate = errors.New("no matching template")

// ErrNotEligible is returned by AttemptAutoSend when the classification's
// automation tag does not permit an automated reply at all.
var ErrNotEligible = errors.New("classification not eligible for auto-send")

// Service runs triage passes. All state is injected; the service is safe for
// concurrent use across conversations.
type Service struct {
	classifier    *rules.Classifier
	semantic      core.SemanticClassifier
	engine        *scoring.Engine
	gate          *automation.Gate
	matcher       *playbook.Matcher
	templates     core.TemplateStore
	counter       core.SendCounter
	conversations core.ConversationStore
	semCfg        config.SemanticConfig
	autoCfg       config.AutomationConfig
	logger        *zap.Logger
}

// NewService creates a triage service. semantic and conversations may be nil;
// the pipeline then runs rule-only and skips write-back.
func NewService(
	classifier *rules.Classifier,
	semantic core.SemanticClassifier,
	engine *scoring.Engine,
	gate *automation.Gate,
	matcher *playbook.Matcher,
	templates core.TemplateStore,
	counter core.SendCounter,
	conversations core.ConversationStore,
	semCfg config.SemanticConfig,
	autoCfg config.AutomationConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		classifier:    classifier,
		semantic:      semantic,
		engine:        engine,
		gate:          gate,
		matcher:       matcher,
		templates:     templates,
		counter:       counter,
		conversations: conversations,
		semCfg:        semCfg,
		autoCfg:       autoCfg,
		logger:        logger,
	}
}

// Triage runs one full pass over a conversation. It never fails: any internal
// error or panic degrades to a conservative human_required classification so
// no conversation is ever left unclassified.
func (s *Service) Triage(ctx context.Context, email *core.EmailContent, conv *core.Conversation) *core.TriageResult {
	start := time.Now()
	passID := uuid.NewString()

	cls := s.classify(ctx, email, conv, start)
	priority := s.engine.Score(&cls, email, conv, start)

	if s.conversations != nil && conv.ID != "" {
		if err := s.conversations.SaveTriage(ctx, conv.ID, &cls, &priority); err != nil {
			s.logger.Error("Failed to persist triage result",
				zap.String("conversation_id", conv.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("Triage pass complete",
		zap.String("pass_id", passID),
		zap.String("category", string(cls.IntentCategory)),
		zap.String("tag", string(cls.AutomationTag)),
		zap.Float64("priority", priority.Score),
		zap.String("band", string(priority.Band)),
		zap.String("source", string(cls.Source)))

	return &core.TriageResult{
		PassID:         passID,
		Classification: cls,
		Priority:       priority,
		Elapsed:        time.Since(start),
	}
}

// classify produces the merged classification, converting any panic into the
// conservative fallback.
func (s *Service) classify(ctx context.Context, email *core.EmailContent, conv *core.Conversation, now time.Time) (cls core.ClassificationResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Classification failed, using conservative fallback",
				zap.Any("panic", r))
			cls = FallbackClassification(now)
		}
	}()

	sig := extract.Extract(email, now)
	rule := s.classifier.Classify(email, conv, sig)

	var sem *core.SemanticResult
	usedFallback := false
	if s.shouldConsultSemantic(rule.Score) {
		sem, usedFallback = s.consultSemantic(ctx, email, conv, rule)
	}

	cls = rules.Merge(rule, sem, sig, usedFallback, now)

	tag, confidence, reason := s.gate.ResolveTag(&cls)
	cls.AutomationTag = tag
	cls.AutomationConfidence = confidence
	cls.AutomationReason = reason

	return cls
}

func (s *Service) shouldConsultSemantic(ruleScore float64) bool {
	if s.semantic == nil || !s.semCfg.Enabled {
		return false
	}
	return ruleScore >= s.semCfg.AmbiguousLow && ruleScore <= s.semCfg.AmbiguousHigh
}

// consultSemantic makes the single bounded attempt at the external
// classifier. It never propagates failure; the second return reports whether
// the rule result had to stand in for a degraded call.
func (s *Service) consultSemantic(ctx context.Context, email *core.EmailContent, conv *core.Conversation, rule rules.Classification) (*core.SemanticResult, bool) {
	callCtx, cancel := context.WithTimeout(ctx, s.semCfg.Timeout)
	defer cancel()

	req := &core.SemanticRequest{
		Subject:      email.Subject,
		Previews:     recentPreviews(conv, s.semCfg.MaxPreviews),
		RuleScore:    rule.Score,
		RuleCategory: rule.Category,
	}

	result, err := s.semantic.Classify(callCtx, req)
	if err != nil {
		s.logger.Warn("Semantic classifier unavailable, using rule result",
			zap.Error(err),
			zap.Float64("rule_score", rule.Score))
		return nil, true
	}

	return result, false
}

// recentPreviews returns up to max of the most recent message previews,
// newest last.
func recentPreviews(conv *core.Conversation, max int) []core.MessagePreview {
	if max <= 0 || len(conv.Messages) <= max {
		return conv.Messages
	}
	return conv.Messages[len(conv.Messages)-max:]
}

// FallbackClassification is the maximally conservative result used when
// classification itself fails.
func FallbackClassification(now time.Time) core.ClassificationResult {
	return core.ClassificationResult{
		SenderType:           core.SenderUnknown,
		IntentCategory:       core.IntentGeneralEnquiry,
		IntentConfidence:     0.3,
		AutomationTag:        core.TagHumanRequired,
		AutomationConfidence: 0.3,
		AutomationReason:     "classification failed, conservative fallback",
		Sentiment:            core.SentimentAnalysis{Label: core.SentimentNeutral},
		RequiresHumanReview:  true,
		Source:               core.SourceRules,
		ClassifiedAt:         now,
	}
}

// AttemptAutoSend matches a template for the triaged conversation, evaluates
// the eligibility gate and renders the reply. The returned decision always
// explains the outcome; the reply text is non-empty only when every check
// passed, the atomic daily counter admitted the send and rendering succeeded.
func (s *Service) AttemptAutoSend(ctx context.Context, result *core.TriageResult, email *core.EmailContent, vars map[string]string) (string, *core.AutomationDecision, error) {
	cls := &result.Classification

	if cls.AutomationTag != core.TagAutoResolve && cls.AutomationTag != core.TagAutoReply {
		return "", nil, fmt.Errorf("%w: tag %s", ErrNotEligible, cls.AutomationTag)
	}

	templates, err := s.templates.ListActive(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to list templates: %w", err)
	}

	match := s.matcher.Best(templates, cls, email.Subject+"\n"+email.Body)
	if match == nil {
		return "", nil, ErrNoTemplate
	}

	now := time.Now()
	sentToday, err := s.counter.Current(ctx, now)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read send counter: %w", err)
	}

	decision := s.gate.Evaluate(cls, match.Template, now, sentToday)
	result.Decision = decision
	if !decision.CanAutoSend {
		return "", decision, nil
	}

	rendered, err := playbook.Render(match.Template, mergeVars(cls, vars))
	if err != nil {
		// A partially rendered reply must never go out.
		return "", decision, fmt.Errorf("template %s: %w", match.Template.ID, err)
	}

	admitted, err := s.counter.IncrementIfBelow(ctx, now, s.autoCfg.DailyMax)
	if err != nil {
		return "", decision, fmt.Errorf("failed to increment send counter: %w", err)
	}
	if !admitted {
		// Lost the race to the daily cap between the check and the send.
		decision.CanAutoSend = false
		decision.FailedChecks = append(decision.FailedChecks, automation.CheckDailyLimit)
		decision.Reason = "daily auto-send limit reached"
		return "", decision, nil
	}

	if err := s.templates.RecordUsage(ctx, match.Template.ID, now); err != nil {
		s.logger.Error("Failed to record template usage",
			zap.String("template_id", match.Template.ID),
			zap.Error(err))
	}

	s.logger.Info("Auto-send approved",
		zap.String("template_id", match.Template.ID),
		zap.String("tag", string(cls.AutomationTag)))

	return rendered, decision, nil
}

// mergeVars layers caller-supplied values over the variables the engine can
// derive from the classification itself.
func mergeVars(cls *core.ClassificationResult, vars map[string]string) map[string]string {
	merged := make(map[string]string, len(vars)+2)
	if cls.Entities.CustomerName != "" {
		merged["customer_name"] = cls.Entities.CustomerName
	}
	if cls.Entities.OrderID != "" {
		merged["order_id"] = cls.Entities.OrderID
	}
	for k, v := range vars {
		merged[k] = v
	}
	return merged
}
