package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile   = "config.yaml"
	DefaultSessionPath  = ".topicrelay/session.json"
	DefaultStateBackend = "yaml"
	DefaultStatePath    = "state.yaml"
	DefaultSQLitePath   = "state.db"
	DefaultPebblePath   = "state.pebble"

	// DefaultBackfillLimit caps the first run for a source, which starts at
	// today's UTC midnight instead of walking the whole topic history.
	DefaultBackfillLimit = 10
	// DefaultResumeLimit caps a pass that resumes from a message id, so a
	// long backlog is replayed over several runs.
	DefaultResumeLimit = 42

	SourceTypeGroupTopic = "group_topic"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Sources  []SourceConfig `yaml:"sources"`
	Slack    SlackConfig    `yaml:"slack"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	State    StateConfig    `yaml:"state"`
	Sync     SyncConfig     `yaml:"sync"`
	Privacy  PrivacyConfig  `yaml:"privacy"`
}

type TelegramConfig struct {
	APIID       int    `yaml:"api_id"`
	APIHash     string `yaml:"api_hash"`
	APIIDEnv    string `yaml:"api_id_env"`
	APIHashEnv  string `yaml:"api_hash_env"`
	SessionPath string `yaml:"session_path"`
}

// SourceConfig is one entry of the sources list. Fields are checked by the
// relay planner, not here, so unknown types can be skipped per source.
type SourceConfig struct {
	Type    string `yaml:"type"`
	Group   string `yaml:"group"`
	TopicID *int   `yaml:"topic_id"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type SyncConfig struct {
	BackfillLimit int `yaml:"backfill_limit"`
	ResumeLimit   int `yaml:"resume_limit"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// Overrides carries command-line values that win over the file.
type Overrides struct {
	APIID   int
	APIHash string
}

// ValidationError names the config field that made the configuration unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// HasSlack reports whether a Slack webhook target is configured.
func (c *Config) HasSlack() bool {
	return strings.TrimSpace(c.Slack.WebhookURL) != ""
}

// HasKafka reports whether a Kafka target is configured.
func (c *Config) HasKafka() bool {
	return len(c.Kafka.Brokers) > 0
}

// Load reads the config file at path and validates everything a sync run
// needs, including credentials and at least one source.
func Load(path string, ov Overrides) (*Config, error) {
	cfg, err := Read(path, ov)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("validate config: %w", &ValidationError{Field: "sources", Reason: "at least one source must be configured"})
	}
	return cfg, nil
}

// Read reads the config file at path, applies defaults, resolves env vars and
// overrides, and validates the optional sections. Credentials and sources
// are not required; commands that need them call ValidateCredentials.
func Read(path string, ov Overrides) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := resolveEnv(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	applyOverrides(&cfg, ov)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// ValidateCredentials checks that the Telegram API id and hash are set.
func (c *Config) ValidateCredentials() error {
	if c.Telegram.APIID <= 0 {
		return &ValidationError{Field: "telegram.api_id", Reason: "must be provided via --api-id, config, or api_id_env"}
	}
	if strings.TrimSpace(c.Telegram.APIHash) == "" {
		return &ValidationError{Field: "telegram.api_hash", Reason: "must be provided via --api-hash, config, or api_hash_env"}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Telegram.SessionPath == "" {
		cfg.Telegram.SessionPath = DefaultSessionPath
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = DefaultStateBackend
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaultStatePath(cfg.State.Backend)
	}
	if cfg.Sync.BackfillLimit == 0 {
		cfg.Sync.BackfillLimit = DefaultBackfillLimit
	}
	if cfg.Sync.ResumeLimit == 0 {
		cfg.Sync.ResumeLimit = DefaultResumeLimit
	}
}

// defaultStatePath names the state file or directory after its backend.
func defaultStatePath(backend string) string {
	switch backend {
	case "sqlite":
		return DefaultSQLitePath
	case "pebble":
		return DefaultPebblePath
	default:
		return DefaultStatePath
	}
}

func resolveEnv(cfg *Config) error {
	if cfg.Telegram.APIIDEnv != "" && cfg.Telegram.APIID == 0 {
		if v := strings.TrimSpace(os.Getenv(cfg.Telegram.APIIDEnv)); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil {
				return &ValidationError{Field: "telegram.api_id_env", Reason: fmt.Sprintf("%s is not an integer", cfg.Telegram.APIIDEnv)}
			}
			cfg.Telegram.APIID = id
		}
	}
	if cfg.Telegram.APIHashEnv != "" && cfg.Telegram.APIHash == "" {
		cfg.Telegram.APIHash = os.Getenv(cfg.Telegram.APIHashEnv)
	}
	return nil
}

func applyOverrides(cfg *Config, ov Overrides) {
	if ov.APIID != 0 {
		cfg.Telegram.APIID = ov.APIID
	}
	if ov.APIHash != "" {
		cfg.Telegram.APIHash = ov.APIHash
	}
}

func validate(cfg *Config) error {
	switch cfg.State.Backend {
	case "yaml", "sqlite", "pebble":
		// valid
	default:
		return &ValidationError{Field: "state.backend", Reason: fmt.Sprintf("unknown backend %q (want yaml, sqlite, or pebble)", cfg.State.Backend)}
	}

	if cfg.Sync.BackfillLimit < 0 {
		return &ValidationError{Field: "sync.backfill_limit", Reason: "must not be negative"}
	}
	if cfg.Sync.ResumeLimit < 0 {
		return &ValidationError{Field: "sync.resume_limit", Reason: "must not be negative"}
	}

	if cfg.HasSlack() {
		u, err := url.Parse(cfg.Slack.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Field: "slack.webhook_url", Reason: fmt.Sprintf("invalid URL %q", cfg.Slack.WebhookURL)}
		}
	}
	if cfg.HasKafka() && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		return &ValidationError{Field: "kafka.topic", Reason: "required when kafka.brokers is set"}
	}

	return nil
}
