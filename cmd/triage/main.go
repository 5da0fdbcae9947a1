package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/adapters/filter"
	"github.com/mailpilot/triage-engine/internal/adapters/store"
	"github.com/mailpilot/triage-engine/internal/automation"
	"github.com/mailpilot/triage-engine/internal/config"
	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/factory"
	"github.com/mailpilot/triage-engine/internal/logging"
	"github.com/mailpilot/triage-engine/internal/playbook"
	"github.com/mailpilot/triage-engine/internal/rules"
	"github.com/mailpilot/triage-engine/internal/scoring"
	"github.com/mailpilot/triage-engine/internal/triage"
)

var (
	// Semantic classifier flags
	provider    = flag.String("provider", "openai", "Semantic provider (openai, bedrock, gemini)")
	semantic    = flag.Bool("semantic", false, "Consult the semantic classifier for ambiguous scores")
	maxTokens   = flag.Int("max-tokens", 1000, "Maximum tokens for model response")
	temperature = flag.Float64("temperature", 0.1, "Temperature for model generation")
	topP        = flag.Float64("top-p", 0.9, "Top-p for model generation")
	maxBodySize = flag.Int("max-body-size", 4096, "Maximum preview size sent to the model")

	// Bedrock flags
	bedrockRegion  = flag.String("bedrock-region", "us-east-1", "AWS region for Bedrock")
	bedrockModelID = flag.String("bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	geminiAPIKey    = flag.String("gemini-api-key", "", "API key for Google Gemini")
	geminiModelName = flag.String("gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4", "OpenAI model name")

	// Automation flags
	templatesFile = flag.String("templates", "", "JSON file with reply templates")
	autoSend      = flag.Bool("auto-send", false, "Attempt an auto-send after triage")

	// Input flags
	inputFile  = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()

	// Initialize logger
	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.New()
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		cfg = createConfigFromFlags()
	}

	// Build the pipeline by hand; the one-shot tool does not need the
	// container or a background server.
	textProcessor := factory.NewTextProcessorFactory(logger).CreateTextProcessor()

	classifier, err := factory.NewLLMFactory(cfg, logger, textProcessor).CreateSemanticClassifier()
	if err != nil {
		logger.Fatal("Failed to create semantic classifier", zap.Error(err))
	}

	storeCfg := cfg.GetStore()
	memStore := store.NewMemoryStore(logger, storeCfg.CleanupFrequency)
	defer memStore.Stop()

	autoCfg := cfg.GetAutomation()
	service := triage.NewService(
		rules.NewClassifier(cfg.GetRules(), logger),
		classifier,
		scoring.NewEngine(cfg.GetScoring(), logger),
		automation.NewGate(autoCfg, logger),
		playbook.NewMatcher(autoCfg.DefaultConfidenceThreshold, logger),
		memStore,
		memStore,
		memStore,
		cfg.GetSemantic(),
		autoCfg,
		logger,
	)

	if *templatesFile != "" {
		if err := loadTemplates(memStore, *templatesFile); err != nil {
			logger.Fatal("Failed to load templates", zap.Error(err), zap.String("file", *templatesFile))
		}
	}

	email, conv, err := readEmail(logger)
	if err != nil {
		logger.Fatal("Failed to read email", zap.Error(err))
	}

	cli, err := filter.NewCliFilter(service, logger, *verbose)
	if err != nil {
		logger.Fatal("Failed to create CLI filter", zap.Error(err))
	}

	ctx := context.Background()
	result, err := cli.ProcessEmail(ctx, email, conv)
	if err != nil {
		logger.Fatal("Failed to triage email", zap.Error(err))
	}

	if *autoSend {
		attemptSend(ctx, service, result, email)
	}

	// Close any resources that need closing
	if closer, ok := classifier.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close semantic classifier", zap.Error(err))
		}
	}
}

// readEmail parses the input message into the triage shapes. A standalone
// message is treated as a one-message unread conversation.
func readEmail(logger *zap.Logger) (*core.EmailContent, *core.Conversation, error) {
	var emailReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", *inputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	msg, err := mail.ReadMessage(bufio.NewReader(emailReader))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse email: %w", err)
	}

	bodyBytes, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read email body: %w", err)
	}

	from := msg.Header.Get("From")
	fromAddr := from
	fromName := ""
	if addr, perr := mail.ParseAddress(from); perr == nil {
		fromAddr = addr.Address
		fromName = addr.Name
	}

	receivedAt := time.Now()
	if date, derr := msg.Header.Date(); derr == nil {
		receivedAt = date
	}

	email := &core.EmailContent{
		Subject:      msg.Header.Get("Subject"),
		Body:         string(bodyBytes),
		FromAddress:  fromAddr,
		FromName:     fromName,
		ToAddresses:  strings.Split(msg.Header.Get("To"), ","),
		ReceivedTime: receivedAt,
	}

	conv := &core.Conversation{
		ID:             strings.Trim(msg.Header.Get("Message-Id"), "<>"),
		Subject:        email.Subject,
		MessageCount:   1,
		UnreadCount:    1,
		FirstMessageAt: receivedAt,
		LastMessageAt:  receivedAt,
		Messages: []core.MessagePreview{{
			Subject: email.Subject,
			Preview: email.Body,
			From:    fromAddr,
			SentAt:  receivedAt,
		}},
	}

	return email, conv, nil
}

func attemptSend(ctx context.Context, service *triage.Service, result *core.TriageResult, email *core.EmailContent) {
	fmt.Printf("\n=== Auto-Send ===\n")

	reply, decision, err := service.AttemptAutoSend(ctx, result, email, nil)
	if err != nil {
		fmt.Printf("Not sent: %v\n", err)
		return
	}
	if decision != nil {
		fmt.Printf("Eligible: %t (%s)\n", decision.CanAutoSend, decision.Reason)
		for _, check := range decision.ChecksPerformed {
			fmt.Printf("  [%s] %s\n", passMark(check.Passed), check.Name)
		}
	}
	if reply != "" {
		fmt.Printf("\nRendered reply:\n%s\n", reply)
	}
}

func passMark(passed bool) string {
	if passed {
		return "pass"
	}
	return "FAIL"
}

// templateSpec mirrors core.Template for JSON import
type templateSpec struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Category            string   `json:"category"`
	SafetyLevel         string   `json:"safety_level"`
	AutoSendEnabled     bool     `json:"auto_send_enabled"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	TriggerIntents      []string `json:"trigger_intents"`
	TriggerKeywords     []string `json:"trigger_keywords"`
	ExcludeIfPresent    []string `json:"exclude_if_present"`
	AvailableVariables  []string `json:"available_variables"`
	RequiredVariables   []string `json:"required_variables"`
	Body                string   `json:"body"`
	Active              bool     `json:"active"`
}

func loadTemplates(memStore *store.MemoryStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var specs []templateSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("failed to parse templates file: %w", err)
	}

	for _, spec := range specs {
		intents := make([]core.IntentCategory, len(spec.TriggerIntents))
		for i, intent := range spec.TriggerIntents {
			intents[i] = core.IntentCategory(intent)
		}

		tpl := &core.Template{
			ID:                          spec.ID,
			Name:                        spec.Name,
			Category:                    core.IntentCategory(spec.Category),
			SafetyLevel:                 core.SafetyLevel(spec.SafetyLevel),
			AutoSendEnabled:             spec.AutoSendEnabled,
			AutoSendConfidenceThreshold: spec.ConfidenceThreshold,
			TriggerIntents:              intents,
			TriggerKeywords:             spec.TriggerKeywords,
			ExcludeIfPresent:            spec.ExcludeIfPresent,
			AvailableVariables:          spec.AvailableVariables,
			RequiredVariables:           spec.RequiredVariables,
			Body:                        spec.Body,
			Active:                      spec.Active,
		}
		if err := memStore.SaveTemplate(context.Background(), tpl); err != nil {
			return err
		}
	}
	return nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	v.Set("semantic.provider", *provider)
	v.Set("semantic.enabled", *semantic)

	switch *provider {
	case "bedrock":
		v.Set("bedrock.region", *bedrockRegion)
		v.Set("bedrock.model_id", *bedrockModelID)
		v.Set("bedrock.max_tokens", *maxTokens)
		v.Set("bedrock.temperature", *temperature)
		v.Set("bedrock.top_p", *topP)
		v.Set("bedrock.max_body_size", *maxBodySize)
	case "gemini":
		v.Set("gemini.api_key", *geminiAPIKey)
		v.Set("gemini.model_name", *geminiModelName)
		v.Set("gemini.max_tokens", *maxTokens)
		v.Set("gemini.temperature", *temperature)
		v.Set("gemini.top_p", *topP)
		v.Set("gemini.max_body_size", *maxBodySize)
	case "openai":
		v.Set("openai.api_key", *openaiAPIKey)
		v.Set("openai.model_name", *openaiModelName)
		v.Set("openai.max_tokens", *maxTokens)
		v.Set("openai.temperature", *temperature)
		v.Set("openai.top_p", *topP)
		v.Set("openai.max_body_size", *maxBodySize)
	}

	v.Set("store.type", "memory")

	return config.NewFromViper(v)
}
