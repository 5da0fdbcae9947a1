package filter

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/triage"
)

// CliFilter runs a single triage pass and prints a human-readable report
type CliFilter struct {
	service *triage.Service
	logger  *zap.Logger
	verbose bool
}

// NewCliFilter creates a new CLI filter
func NewCliFilter(service *triage.Service, logger *zap.Logger, verbose bool) (*CliFilter, error) {
	return &CliFilter{
		service: service,
		logger:  logger,
		verbose: verbose,
	}, nil
}

// ProcessEmail triages an email and displays the results
func (f *CliFilter) ProcessEmail(ctx context.Context, email *core.EmailContent, conv *core.Conversation) (*core.TriageResult, error) {
	f.logger.Debug("Processing email", zap.String("sender", email.FromAddress))

	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", email.FromAddress)
	fmt.Printf("To: %s\n", strings.Join(email.ToAddresses, ", "))
	fmt.Printf("Subject: %s\n", email.Subject)
	fmt.Printf("Body length: %d bytes\n", len(email.Body))

	if f.verbose {
		preview := email.Body
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		fmt.Printf("\nBody preview:\n%s\n", preview)
	}

	result := f.service.Triage(ctx, email, conv)
	cls := &result.Classification

	fmt.Printf("\n=== Classification ===\n")
	fmt.Printf("Category: %s (confidence %.2f, source %s)\n", cls.IntentCategory, cls.IntentConfidence, cls.Source)
	fmt.Printf("Rule score: %.0f/100\n", cls.RuleScore)
	fmt.Printf("Sentiment: %s (%.2f)\n", cls.Sentiment.Label, cls.Sentiment.Score)
	fmt.Printf("Sender type: %s\n", cls.SenderType)
	if cls.Entities.OrderID != "" {
		fmt.Printf("Order ID: %s\n", cls.Entities.OrderID)
	}
	if len(cls.Entities.MoneyAmounts) > 0 {
		fmt.Printf("Amounts: %v\n", cls.Entities.MoneyAmounts)
	}
	if cls.UsedFallback {
		fmt.Printf("Note: semantic classifier unavailable, rule result used\n")
	}

	fmt.Printf("\n=== Priority ===\n")
	fmt.Printf("Score: %.2f (band %s, confidence %s)\n", result.Priority.Score, result.Priority.Band, result.Priority.Confidence)
	for _, driver := range result.Priority.TopDrivers {
		fmt.Printf("  - %s\n", driver)
	}

	fmt.Printf("\n=== Automation ===\n")
	fmt.Printf("Tag: %s (confidence %.2f)\n", cls.AutomationTag, cls.AutomationConfidence)
	fmt.Printf("Reason: %s\n", cls.AutomationReason)
	fmt.Printf("Requires human review: %t\n", cls.RequiresHumanReview)

	if f.verbose {
		d := result.Priority.Dimensions
		fmt.Printf("\n=== Dimensions ===\n")
		fmt.Printf("risk=%.1f time=%.1f sentiment=%.1f blocker=%.1f value=%.1f age=%.1f escalation=%.1f base=%.1f\n",
			d.Risk, d.Time, d.Sentiment, d.Blocker, d.Value, d.Age, d.Escalation, d.CategoryBase)
	}

	fmt.Printf("\nProcessing time: %v\n", result.Elapsed)

	return result, nil
}

// Start is a no-op for the CLI filter
func (f *CliFilter) Start() error {
	return nil
}

// Stop is a no-op for the CLI filter
func (f *CliFilter) Stop() error {
	return nil
}
