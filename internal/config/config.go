package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	CORSOrigins string `envconfig:"CORS_ORIGINS"`

	// Shared secret expected in X-Webhook-Secret on the quote webhook.
	// Empty disables the check.
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	// Durable store (sessions, chat history, review queue)
	DBPath string `envconfig:"DB_PATH" default:"leadflow.db"`

	// Counter/cache backend: "memory" or "redis"
	KVDriver         string `envconfig:"KV_DRIVER" default:"memory"`
	RedisAddr        string `envconfig:"REDIS_ADDR"`
	RedisPassword    string `envconfig:"REDIS_PASSWORD"`
	RedisDB          int    `envconfig:"REDIS_DB" default:"0"`
	MemoryKVCapacity int    `envconfig:"MEMORY_KV_CAPACITY" default:"10000"`

	// Generation provider
	AIProvider  string        `envconfig:"AI_PROVIDER" default:"anthropic"` // anthropic | openai
	AIAPIKey    string        `envconfig:"AI_API_KEY"`
	AIModel     string        `envconfig:"AI_MODEL"` // empty = provider default
	AITimeout   time.Duration `envconfig:"AI_TIMEOUT" default:"45s"`
	AIMaxTokens int           `envconfig:"AI_MAX_TOKENS" default:"2048"`

	// Rate limits
	SubmissionLimitPerHour int `envconfig:"SUBMISSION_LIMIT_PER_HOUR" default:"20"`
	ChatLimitPerMinute     int `envconfig:"CHAT_LIMIT_PER_MINUTE" default:"10"`
	ChatLimitPerSession    int `envconfig:"CHAT_LIMIT_PER_SESSION" default:"50"`

	// Conversation
	BlueprintCacheTTL time.Duration `envconfig:"BLUEPRINT_CACHE_TTL" default:"168h"`
	SessionRetention  time.Duration `envconfig:"SESSION_RETENTION" default:"720h"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"24h"`
	RequiredAnswers   int           `envconfig:"REQUIRED_ANSWERS" default:"3"`
	PromptsFile       string        `envconfig:"PROMPTS_FILE"` // optional YAML override

	// Slack lead notifications (optional)
	SlackBotToken     string `envconfig:"SLACK_BOT_TOKEN"`
	SlackLeadsChannel string `envconfig:"SLACK_LEADS_CHANNEL"`
}

// SlackEnabled returns true if lead notifications can be posted to Slack.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackLeadsChannel != ""
}

// RedisEnabled returns true if counters and cache live in Redis.
func (c *Config) RedisEnabled() bool {
	return strings.EqualFold(c.KVDriver, "redis")
}

// CORSOriginList returns the parsed list of allowed origins, or nil.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks cross-field constraints envconfig cannot express.
// A missing AI key is not an error here: the orchestrator reports it as a
// misconfigured service on every generation attempt.
func (c *Config) Validate() error {
	switch strings.ToLower(c.KVDriver) {
	case "memory":
		if c.MemoryKVCapacity < 1 {
			return fmt.Errorf("MEMORY_KV_CAPACITY must be >= 1")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when KV_DRIVER=redis")
		}
	default:
		return fmt.Errorf("unknown KV_DRIVER %q, expected memory or redis", c.KVDriver)
	}
	if c.SubmissionLimitPerHour < 1 || c.ChatLimitPerMinute < 1 || c.ChatLimitPerSession < 1 {
		return fmt.Errorf("rate limits must be >= 1")
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("SESSION_RETENTION must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive")
	}
	if c.RequiredAnswers < 1 {
		return fmt.Errorf("REQUIRED_ANSWERS must be >= 1")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
