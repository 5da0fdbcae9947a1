package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/triage-engine/")
	v.AddConfigPath("$HOME/.triage-engine")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Semantic classifier defaults
	v.SetDefault("semantic.provider", "openai")
	v.SetDefault("semantic.enabled", true)
	v.SetDefault("semantic.ambiguous_low", 50)
	v.SetDefault("semantic.ambiguous_high", 75)
	v.SetDefault("semantic.timeout", "10s")
	v.SetDefault("semantic.max_previews", 5)

	// Rule classifier defaults
	v.SetDefault("rules.risk_keywords", []string{
		"legal action", "lawyer", "solicitor", "sue you", "trading standards",
		"chargeback", "dispute the charge",
	})
	v.SetDefault("rules.refund_keywords", []string{
		"refund", "money back", "cancel my order", "return my item",
	})
	v.SetDefault("rules.urgency_keywords", []string{
		"urgent", "asap", "immediately", "right away", "as soon as possible",
		"emergency",
	})

	// Priority scoring defaults
	v.SetDefault("scoring.weights.risk", 3.0)
	v.SetDefault("scoring.weights.time", 2.5)
	v.SetDefault("scoring.weights.sentiment", 2.0)
	v.SetDefault("scoring.weights.blocker", 2.0)
	v.SetDefault("scoring.weights.value", 1.5)
	v.SetDefault("scoring.weights.age", 1.0)
	v.SetDefault("scoring.weights.escalation", 2.0)
	v.SetDefault("scoring.thresholds.p0", 28.0)
	v.SetDefault("scoring.thresholds.p1", 18.0)
	v.SetDefault("scoring.thresholds.p2", 9.0)
	v.SetDefault("scoring.base_scores.refund_cancellation", 8.0)
	v.SetDefault("scoring.base_scores.delivery_deadline", 8.0)
	v.SetDefault("scoring.base_scores.order_issue", 6.0)
	v.SetDefault("scoring.base_scores.technical_help", 4.0)
	v.SetDefault("scoring.base_scores.product_question", 3.0)
	v.SetDefault("scoring.base_scores.faq_shipping", 2.0)
	v.SetDefault("scoring.base_scores.faq_returns", 2.0)
	v.SetDefault("scoring.base_scores.general_enquiry", 1.0)

	// Automation gate defaults
	v.SetDefault("automation.auto_send_enabled", true)
	v.SetDefault("automation.business_hours.enabled", false)
	v.SetDefault("automation.business_hours.from", "09:00")
	v.SetDefault("automation.business_hours.to", "17:30")
	v.SetDefault("automation.never_auto_send", []string{"refund_cancellation"})
	v.SetDefault("automation.daily_max", 50)
	v.SetDefault("automation.default_confidence_threshold", 0.85)
	v.SetDefault("automation.auto_resolve_categories", []string{"faq_shipping", "faq_returns"})
	v.SetDefault("automation.auto_reply_categories", []string{"product_question", "general_enquiry"})

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)

	// Store defaults
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.cleanup_frequency", "1h")
	v.SetDefault("store.sqlite_path", "/data/triage.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/triage_engine")

	// Server defaults
	v.SetDefault("server.filter_type", "smtp")
	v.SetDefault("server.listen_address", "0.0.0.0:10025")
	v.SetDefault("server.relay_address", "127.0.0.1")
	v.SetDefault("server.relay_port", 10026)
	v.SetDefault("server.relay_enabled", true)
	v.SetDefault("server.headers.tag", "X-Triage-Tag")
	v.SetDefault("server.headers.priority", "X-Triage-Priority")
	v.SetDefault("server.headers.score", "X-Triage-Score")
	v.SetDefault("server.headers.reason", "X-Triage-Reason")
	v.SetDefault("server.modify_subject", false)
	v.SetDefault("server.subject_prefix", "[ESCALATE] ")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
