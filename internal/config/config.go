// Package config loads the root YAML configuration the way the donor's
// main.go does: a Config struct composed of nested structs per concern,
// loaded with gopkg.in/yaml.v3 and overlaid with a local .env via
// github.com/joho/godotenv for secrets that should not live in the
// checked-in YAML.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AnthropicPromptCacheConfig controls which blocks the Anthropic provider
// adapter attaches cache_control markers to (spec §4.3 / §4.1).
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

// AnthropicConfig configures the Anthropic provider adapter and first-party
// tokenizer.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"api_key"`
	BaseURL     string                     `yaml:"base_url,omitempty"`
	Model       string                     `yaml:"model"`
	PromptCache AnthropicPromptCacheConfig `yaml:"prompt_cache"`
	ExtraParams map[string]any             `yaml:"extra_params,omitempty"`
}

// OpenAIConfig configures the OpenAI-family provider adapter.
type OpenAIConfig struct {
	APIKey      string         `yaml:"api_key"`
	BaseURL     string         `yaml:"base_url,omitempty"`
	Model       string         `yaml:"model"`
	ExtraParams map[string]any `yaml:"extra_params,omitempty"`
	LogPayloads bool           `yaml:"log_payloads,omitempty"`
}

// GoogleConfig configures the Gemini provider adapter.
type GoogleConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeout_seconds,omitempty"`
}

// ProvidersConfig is the root LLM provider section.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Google    GoogleConfig    `yaml:"google"`
	// SecondaryPrefix is the model-id prefix the Thread Runner's failover
	// path (spec §4.6 step 10) rewrites to on AgentOverloaded, e.g.
	// "openrouter/".
	SecondaryPrefix string `yaml:"secondary_prefix,omitempty"`
}

// DatabaseConfig is the Postgres connection the Message Store, Trigger
// Service, and billing Ledger share.
type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
	MaxConns         int32  `yaml:"max_conns,omitempty"`
}

// RedisConfig backs active-run registration, webhook-id idempotency
// reservation, and the per-account credit lock fallback.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// QueueConfig configures the Background Runner's Kafka queue.
type QueueConfig struct {
	Brokers           []string `yaml:"brokers"`
	RunTopic          string   `yaml:"run_topic"`
	DLQTopic          string   `yaml:"dlq_topic,omitempty"`
	ReplyTopic        string   `yaml:"reply_topic"`
	GroupID           string   `yaml:"group_id"`
	WorkerCount       int      `yaml:"worker_count,omitempty"`
	DedupeTTLSeconds  int      `yaml:"dedupe_ttl_seconds,omitempty"`
	RunTimeoutSeconds int      `yaml:"run_timeout_seconds,omitempty"`
}

// TriggersConfig configures the Schedule/Webhook/Event provider adapters.
type TriggersConfig struct {
	WebhookBaseURL  string `yaml:"webhook_base_url"`
	SharedSecret    string `yaml:"shared_secret"`
	ComposioAPIKey  string `yaml:"composio_api_key,omitempty"`
	ComposioBaseURL string `yaml:"composio_base_url,omitempty"`
}

// BillingConfig configures credit pricing and the grant cadence.
type BillingConfig struct {
	PricingFile string `yaml:"pricing_file,omitempty"`
}

// ObsConfig controls OpenTelemetry tracing/metrics export.
type ObsConfig struct {
	OTLP            string `yaml:"otlp_endpoint,omitempty"`
	ServiceName     string `yaml:"service_name"`
	ServiceVersion  string `yaml:"service_version,omitempty"`
	Environment     string `yaml:"environment,omitempty"`
}

// TelemetryConfig is the logging/tracing umbrella.
type TelemetryConfig struct {
	LogLevel string    `yaml:"log_level"`
	LogPath  string    `yaml:"log_path,omitempty"`
	Obs      ObsConfig `yaml:"otel"`
}

// Config is the root configuration document.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	Database   DatabaseConfig  `yaml:"database"`
	Redis      RedisConfig     `yaml:"redis"`
	Providers  ProvidersConfig `yaml:"providers"`
	Triggers   TriggersConfig  `yaml:"triggers"`
	Billing    BillingConfig   `yaml:"billing"`
	Queue      QueueConfig     `yaml:"queue"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
}

// LoadConfig reads and parses the YAML configuration at path, first loading
// a sibling .env (if present) so ${ENV_VAR}-style secrets referenced by the
// YAML are resolvable. Matches the donor's LoadConfig(path) shape.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; local secrets file is optional

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
