package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"deanalyse/adapters/coercer"
	"deanalyse/internal/errors"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DEANALYSE_SERVER_PORT
const EnvPrefix = "DEANALYSE"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig           `mapstructure:"server" yaml:"server"`
	LLM       LLMConfig              `mapstructure:"llm" yaml:"llm"`
	Sandbox   SandboxConfig          `mapstructure:"sandbox" yaml:"sandbox"`
	Session   SessionConfig          `mapstructure:"session" yaml:"session"`
	Database  DatabaseConfig         `mapstructure:"database" yaml:"database"`
	Metrics   MetricsConfig          `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig              `mapstructure:"log" yaml:"log"`
	Profiling ProfilingConfig        `mapstructure:"profiling" yaml:"profiling"`
	Coercion  coercer.CoercionConfig `mapstructure:"coercion" yaml:"coercion"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port           string   `mapstructure:"port" yaml:"port"`
	GinMode        string   `mapstructure:"gin_mode" yaml:"gin_mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// requests per minute per client address
	UploadRateLimit int `mapstructure:"upload_rate_limit" yaml:"upload_rate_limit"`
	ChatRateLimit   int `mapstructure:"chat_rate_limit" yaml:"chat_rate_limit"`
	// DebugAnswers adds generated code and execution output to chat responses
	DebugAnswers bool          `mapstructure:"debug_answers" yaml:"debug_answers"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// LLMConfig holds AI/LLM related settings. An empty APIKey disables the model.
type LLMConfig struct {
	Provider   string        `mapstructure:"provider" yaml:"provider"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	Model      string        `mapstructure:"model" yaml:"model"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries    int           `mapstructure:"retries" yaml:"retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	PromptsDir string        `mapstructure:"prompts_dir" yaml:"prompts_dir"`
}

// SandboxConfig controls where and how generated code runs
type SandboxConfig struct {
	Mode          string        `mapstructure:"mode" yaml:"mode"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MemoryLimitMB int64         `mapstructure:"memory_limit_mb" yaml:"memory_limit_mb"`
	MaxConcurrent int64         `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// SessionConfig holds context store retention
type SessionConfig struct {
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	// RetainRows keeps uploaded rows in memory so generated code can run on them
	RetainRows bool `mapstructure:"retain_rows" yaml:"retain_rows"`
}

// DatabaseConfig selects the usage ledger backend. An empty driver keeps the
// ledger in memory.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig selects the metrics backend
type MetricsConfig struct {
	Datadog DatadogConfig `mapstructure:"datadog" yaml:"datadog"`
}

// DatadogConfig holds Datadog submission settings. Credentials are read by the
// Datadog client from DD_API_KEY and DD_SITE.
type DatadogConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Service       string        `mapstructure:"service" yaml:"service"`
	Tags          []string      `mapstructure:"tags" yaml:"tags"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// ProfilingConfig holds the ops server settings (pprof and health)
type ProfilingConfig struct {
	Port    string `mapstructure:"port" yaml:"port"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// legacyEnv lists unprefixed variable names that are still honoured
var legacyEnv = map[string][]string{
	"llm.api_key":       {"OPENAI_API_KEY"},
	"llm.model":         {"LLM_MODEL"},
	"llm.provider":      {"LLM_PROVIDER"},
	"llm.prompts_dir":   {"PROMPTS_DIR"},
	"server.port":       {"PORT"},
	"server.gin_mode":   {"GIN_MODE"},
	"database.url":      {"DATABASE_URL"},
	"log.level":         {"LOG_LEVEL"},
	"profiling.port":    {"PPROF_PORT"},
	"profiling.enabled": {"PPROF_ENABLED"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.gin_mode", "release")
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost:5173",
		"http://localhost:3000",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:3000",
	})
	v.SetDefault("server.upload_rate_limit", 10)
	v.SetDefault("server.chat_rate_limit", 30)
	v.SetDefault("server.debug_answers", false)
	v.SetDefault("server.query_timeout", 90*time.Second)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.retries", 3)
	v.SetDefault("llm.base_delay", 500*time.Millisecond)
	v.SetDefault("llm.max_delay", 4*time.Second)
	v.SetDefault("llm.prompts_dir", "")

	v.SetDefault("sandbox.mode", "subprocess")
	v.SetDefault("sandbox.timeout", 5*time.Second)
	v.SetDefault("sandbox.memory_limit_mb", 256)
	v.SetDefault("sandbox.max_concurrent", 4)

	v.SetDefault("session.retention", 24*time.Hour)
	v.SetDefault("session.sweep_interval", 5*time.Minute)
	v.SetDefault("session.retain_rows", true)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.url", "")

	v.SetDefault("metrics.datadog.enabled", false)
	v.SetDefault("metrics.datadog.service", "deanalyse")
	v.SetDefault("metrics.datadog.tags", []string{})
	v.SetDefault("metrics.datadog.flush_interval", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("profiling.port", "6060")
	v.SetDefault("profiling.enabled", false)

	v.SetDefault("coercion.detect_temporal", true)
	v.SetDefault("coercion.extra_missing_tokens", []string{})
}

// Load reads configuration from defaults, the optional YAML file, a .env file
// in the working directory and the environment, in increasing precedence.
func Load(cfgFile string) (*Config, error) {
	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, envKey}, names...)...); err != nil {
			return nil, errors.Wrapf(err, "failed to bind %s", key)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", cfgFile)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return &c, nil
}

// Validate checks values that would otherwise fail later and less clearly
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.ConfigInvalid("server port is required")
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "", "openai", "gemini":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}
	switch strings.ToLower(c.Sandbox.Mode) {
	case "subprocess":
	case "inprocess":
		// a panic in a goroutine spawned by generated code kills the whole process
		if strings.EqualFold(c.Server.GinMode, "release") {
			return errors.ConfigInvalid("the inprocess sandbox is only allowed with gin_mode debug or test")
		}
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown sandbox mode %q", c.Sandbox.Mode))
	}
	if c.Sandbox.Timeout <= 0 {
		return errors.ConfigInvalid("sandbox timeout must be positive")
	}
	if c.Sandbox.MemoryLimitMB <= 0 {
		return errors.ConfigInvalid("sandbox memory limit must be positive")
	}
	switch c.Database.Driver {
	case "":
	case "postgres", "sqlite":
		if c.Database.Driver == "postgres" && c.Database.URL == "" {
			return errors.ConfigInvalid("DATABASE_URL is required for the postgres driver")
		}
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Server.UploadRateLimit < 0 || c.Server.ChatRateLimit < 0 {
		return errors.ConfigInvalid("rate limits cannot be negative")
	}
	return nil
}

// LLMEnabled reports whether a model is configured
func (c *Config) LLMEnabled() bool {
	return strings.TrimSpace(c.LLM.APIKey) != ""
}
