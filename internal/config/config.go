// Package config loads leadflow configuration from a YAML file and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Model call tasks with their own timeouts
const (
	TaskClassify = "classify"
	TaskExtract  = "extract"
	TaskRespond  = "respond"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreBadger = "badger"
)

// CRM backends
const (
	CRMLog        = "log"
	CRMSalesforce = "salesforce"
)

// Log formats
const (
	LogFormatAuto   = "auto"
	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
)

// Config holds all leadflow configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Store     StoreConfig     `yaml:"store"`
	CRM       CRMConfig       `yaml:"crm"`
	Slack     SlackConfig     `yaml:"slack"`
	Dgraph    DgraphConfig    `yaml:"dgraph"`
	Audit     AuditConfig     `yaml:"audit"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Agent     AgentConfig     `yaml:"agent"`
}

// LLMConfig configures the Ollama inference backend.
type LLMConfig struct {
	Endpoint      string                `yaml:"endpoint"`
	Model         string                `yaml:"model"`
	Temperature   float64               `yaml:"temperature"`
	ContextSize   int                   `yaml:"context_size"`
	TimeoutMs     int                   `yaml:"timeout_ms"`
	MaxRetries    int                   `yaml:"max_retries"`
	MaxConcurrent int                   `yaml:"max_concurrent"`
	QueueSize     int                   `yaml:"queue_size"` // calls waiting for a model slot
	Tasks         map[string]TaskConfig `yaml:"tasks"`
}

// TaskConfig holds per-task model parameters.
// Fields left out of a task entry in the file keep that task's defaults.
type TaskConfig struct {
	Temperature *float64 `yaml:"temperature,omitempty"`
	TimeoutMs   int      `yaml:"timeout_ms"` // overrides global if > 0
}

// KnowledgeConfig points at the knowledge base document.
type KnowledgeConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig selects the conversation state backend.
type StoreConfig struct {
	Backend string       `yaml:"backend"` // memory, redis, badger
	Redis   RedisConfig  `yaml:"redis"`
	Badger  BadgerConfig `yaml:"badger"`
}

// RedisConfig configures the Redis state backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"` // "0" keeps threads forever
}

// BadgerConfig configures the embedded Badger state backend.
type BadgerConfig struct {
	Path string `yaml:"path"`
}

// CRMConfig configures lead capture.
type CRMConfig struct {
	Backend          string           `yaml:"backend"` // log, salesforce
	Salesforce       SalesforceConfig `yaml:"salesforce"`
	RateLimitPerHour int              `yaml:"rate_limit_per_hour"`
	CaptureAttempts  int              `yaml:"capture_attempts"`
	BackoffMs        int              `yaml:"backoff_ms"`
}

// SalesforceConfig holds Salesforce REST API settings.
type SalesforceConfig struct {
	InstanceURL string `yaml:"instance_url"`
	APIVersion  string `yaml:"api_version"`
	AccessToken string `yaml:"access_token"`
	LeadSource  string `yaml:"lead_source"`
	// DefaultCompany fills the required Lead.Company field; empty means "<name> (<platform>)"
	DefaultCompany string `yaml:"default_company"`
}

// SlackConfig configures the new-lead Slack notification.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DgraphConfig configures the lead graph.
type DgraphConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// AuditConfig configures the SQLite audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json, pretty
}

// AgentConfig configures dialogue behavior.
type AgentConfig struct {
	ProductName     string `yaml:"product_name"`
	ClassifyRetries int    `yaml:"classify_retries"`
	IntentCacheTTL  string `yaml:"intent_cache_ttl"` // "0" disables the cache
	TemplateReplies bool   `yaml:"template_replies"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Endpoint:      "http://localhost:11434",
			Model:         "llama3.2",
			Temperature:   0.3,
			ContextSize:   4096,
			TimeoutMs:     30000,
			MaxRetries:    1,
			MaxConcurrent: 4,
			QueueSize:     64,
			Tasks: map[string]TaskConfig{
				TaskClassify: {Temperature: floatPtr(0), TimeoutMs: 10000},
				TaskExtract:  {Temperature: floatPtr(0), TimeoutMs: 15000},
				TaskRespond:  {Temperature: floatPtr(0.7), TimeoutMs: 30000},
			},
		},
		Knowledge: KnowledgeConfig{
			Path: "knowledge_base.json",
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Redis: RedisConfig{
				Addr: "localhost:6379",
				TTL:  "24h",
			},
			Badger: BadgerConfig{
				Path: "data/threads",
			},
		},
		CRM: CRMConfig{
			Backend: CRMLog,
			Salesforce: SalesforceConfig{
				APIVersion: "v59.0",
				LeadSource: "AutoStream Chat",
			},
			RateLimitPerHour: 1000,
			CaptureAttempts:  3,
			BackoffMs:        200,
		},
		Slack: SlackConfig{
			BaseURL: "https://slack.com/api",
			Channel: "#leads",
		},
		Dgraph: DgraphConfig{
			Address: "localhost:9080",
		},
		Audit: AuditConfig{
			Path: "data/audit.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatAuto,
		},
		Agent: AgentConfig{
			ProductName:     "AutoStream",
			ClassifyRetries: 0,
			IntentCacheTTL:  "0",
		},
	}
}

// Load reads configuration from a YAML file, then applies environment overrides.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
			cfg.LLM.mergeTaskDefaults(Default().LLM.Tasks)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from LEADFLOW_* environment variables.
func (c *Config) ApplyEnv() {
	setString(&c.LLM.Endpoint, "LEADFLOW_LLM_ENDPOINT")
	setString(&c.LLM.Model, "LEADFLOW_LLM_MODEL")
	setPositiveInt(&c.LLM.TimeoutMs, "LEADFLOW_LLM_TIMEOUT_MS")
	setNonNegativeInt(&c.LLM.MaxRetries, "LEADFLOW_LLM_MAX_RETRIES")
	setPositiveInt(&c.LLM.MaxConcurrent, "LEADFLOW_LLM_MAX_CONCURRENT")
	setPositiveInt(&c.LLM.QueueSize, "LEADFLOW_LLM_QUEUE_SIZE")
	c.applyTaskTimeoutEnv(TaskClassify, "LEADFLOW_LLM_CLASSIFY_TIMEOUT_MS")
	c.applyTaskTimeoutEnv(TaskExtract, "LEADFLOW_LLM_EXTRACT_TIMEOUT_MS")
	c.applyTaskTimeoutEnv(TaskRespond, "LEADFLOW_LLM_RESPOND_TIMEOUT_MS")

	setString(&c.Knowledge.Path, "LEADFLOW_KNOWLEDGE_PATH")

	setString(&c.Store.Backend, "LEADFLOW_STORE_BACKEND")
	setString(&c.Store.Redis.Addr, "LEADFLOW_REDIS_ADDR")
	setString(&c.Store.Redis.Password, "LEADFLOW_REDIS_PASSWORD")
	setString(&c.Store.Badger.Path, "LEADFLOW_BADGER_PATH")

	setString(&c.CRM.Backend, "LEADFLOW_CRM_BACKEND")
	setString(&c.CRM.Salesforce.InstanceURL, "LEADFLOW_SALESFORCE_INSTANCE_URL")
	setString(&c.CRM.Salesforce.AccessToken, "LEADFLOW_SALESFORCE_ACCESS_TOKEN")
	setString(&c.CRM.Salesforce.DefaultCompany, "LEADFLOW_SALESFORCE_DEFAULT_COMPANY")

	setBool(&c.Slack.Enabled, "LEADFLOW_SLACK_ENABLED")
	setString(&c.Slack.BotToken, "LEADFLOW_SLACK_BOT_TOKEN")
	setString(&c.Slack.Channel, "LEADFLOW_SLACK_CHANNEL")

	setBool(&c.Dgraph.Enabled, "LEADFLOW_DGRAPH_ENABLED")
	setString(&c.Dgraph.Address, "LEADFLOW_DGRAPH_ADDRESS")

	setBool(&c.Audit.Enabled, "LEADFLOW_AUDIT_ENABLED")
	setString(&c.Audit.Path, "LEADFLOW_AUDIT_PATH")

	setString(&c.Server.Addr, "LEADFLOW_SERVER_ADDR")
	setString(&c.Log.Level, "LEADFLOW_LOG_LEVEL")
	setString(&c.Log.Format, "LEADFLOW_LOG_FORMAT")

	setString(&c.Agent.ProductName, "LEADFLOW_PRODUCT_NAME")
	setNonNegativeInt(&c.Agent.ClassifyRetries, "LEADFLOW_CLASSIFY_RETRIES")
	setString(&c.Agent.IntentCacheTTL, "LEADFLOW_INTENT_CACHE_TTL")
}

// Validate rejects unknown backends and unusable limits.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreRedis, StoreBadger:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.CRM.Backend {
	case CRMLog:
	case CRMSalesforce:
		if c.CRM.Salesforce.InstanceURL == "" {
			return fmt.Errorf("crm.salesforce.instance_url is required for the salesforce backend")
		}
	default:
		return fmt.Errorf("unknown crm backend %q", c.CRM.Backend)
	}

	switch c.Log.Format {
	case LogFormatAuto, LogFormatJSON, LogFormatPretty:
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	if c.LLM.TimeoutMs <= 0 {
		return fmt.Errorf("llm.timeout_ms must be positive, got %d", c.LLM.TimeoutMs)
	}
	for task, tc := range c.LLM.Tasks {
		if tc.TimeoutMs < 0 {
			return fmt.Errorf("llm.tasks.%s.timeout_ms must not be negative, got %d", task, tc.TimeoutMs)
		}
	}
	if c.LLM.MaxConcurrent <= 0 {
		return fmt.Errorf("llm.max_concurrent must be positive, got %d", c.LLM.MaxConcurrent)
	}
	if c.LLM.QueueSize <= 0 {
		return fmt.Errorf("llm.queue_size must be positive, got %d", c.LLM.QueueSize)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative, got %d", c.LLM.MaxRetries)
	}
	if c.CRM.CaptureAttempts <= 0 {
		return fmt.Errorf("crm.capture_attempts must be positive, got %d", c.CRM.CaptureAttempts)
	}
	if c.CRM.RateLimitPerHour <= 0 {
		return fmt.Errorf("crm.rate_limit_per_hour must be positive, got %d", c.CRM.RateLimitPerHour)
	}
	if c.Agent.ClassifyRetries < 0 {
		return fmt.Errorf("agent.classify_retries must not be negative, got %d", c.Agent.ClassifyRetries)
	}
	if c.Knowledge.Path == "" {
		return fmt.Errorf("knowledge.path is required")
	}

	if _, err := parseDuration(c.Store.Redis.TTL); err != nil {
		return fmt.Errorf("invalid store.redis.ttl: %w", err)
	}
	if _, err := parseDuration(c.Agent.IntentCacheTTL); err != nil {
		return fmt.Errorf("invalid agent.intent_cache_ttl: %w", err)
	}
	return nil
}

// TaskTimeout returns the effective timeout for a task.
// Uses the task-specific timeout if set, otherwise the global timeout.
func (c LLMConfig) TaskTimeout(task string) time.Duration {
	if tc, ok := c.Tasks[task]; ok && tc.TimeoutMs > 0 {
		return time.Duration(tc.TimeoutMs) * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// TaskTemperature returns the temperature for a task, falling back to the global one.
func (c LLMConfig) TaskTemperature(task string) float64 {
	if tc, ok := c.Tasks[task]; ok && tc.Temperature != nil {
		return *tc.Temperature
	}
	return c.Temperature
}

// GetRedisTTL returns the Redis key TTL, 0 meaning no expiry.
func (c *Config) GetRedisTTL() time.Duration {
	d, _ := parseDuration(c.Store.Redis.TTL)
	return d
}

// GetIntentCacheTTL returns the intent cache TTL, 0 meaning disabled.
func (c *Config) GetIntentCacheTTL() time.Duration {
	d, _ := parseDuration(c.Agent.IntentCacheTTL)
	return d
}

// GetCaptureBackoff returns the initial backoff between capture attempts.
func (c *Config) GetCaptureBackoff() time.Duration {
	return time.Duration(c.CRM.BackoffMs) * time.Millisecond
}

// mergeTaskDefaults fills fields a task entry left unset.
// yaml.v3 decodes each map value from zero, so a partial entry would otherwise drop them.
func (c *LLMConfig) mergeTaskDefaults(defaults map[string]TaskConfig) {
	if c.Tasks == nil {
		c.Tasks = make(map[string]TaskConfig, len(defaults))
	}
	for name, def := range defaults {
		tc, ok := c.Tasks[name]
		if !ok {
			c.Tasks[name] = def
			continue
		}
		if tc.Temperature == nil {
			tc.Temperature = def.Temperature
		}
		if tc.TimeoutMs == 0 {
			tc.TimeoutMs = def.TimeoutMs
		}
		c.Tasks[name] = tc
	}
}

func floatPtr(f float64) *float64 { return &f }

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", s)
	}
	return d, nil
}

func (c *Config) applyTaskTimeoutEnv(task, envName string) {
	v := os.Getenv(envName)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return
	}
	if c.LLM.Tasks == nil {
		c.LLM.Tasks = make(map[string]TaskConfig)
	}
	tc := c.LLM.Tasks[task]
	tc.TimeoutMs = n
	c.LLM.Tasks[task] = tc
}

func setString(dst *string, envName string) {
	if v := os.Getenv(envName); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, envName string) {
	if v := os.Getenv(envName); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setPositiveInt(dst *int, envName string) {
	if v := os.Getenv(envName); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setNonNegativeInt(dst *int, envName string) {
	if v := os.Getenv(envName); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}
