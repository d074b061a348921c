package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the quiz solver service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Solver    SolverConfig    `mapstructure:"solver"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// ServerConfig contains HTTP front-door settings.
type ServerConfig struct {
	Address    string `mapstructure:"address"`
	QuizSecret string `mapstructure:"quiz_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.QuizSecret) == "" {
		return fmt.Errorf("server.quiz_secret is required")
	}
	return nil
}

// LLMConfig contains reasoning provider configurations.
type LLMConfig struct {
	// Primary names the provider tried first; the remaining configured
	// providers form the fallback order.
	Primary         string                       `mapstructure:"primary"`
	FallbackEnabled bool                         `mapstructure:"fallback_enabled"`
	Providers       map[string]LLMProviderConfig `mapstructure:"providers"`
	MaxAttempts     int                          `mapstructure:"max_attempts"`
	Timeout         time.Duration                `mapstructure:"timeout"`
}

// LLMProviderConfig represents a single reasoning provider.
type LLMProviderConfig struct {
	Type        string        `mapstructure:"type"` // gemini, aipipe
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if len(l.Providers) == 0 {
		return fmt.Errorf("llm.providers must configure at least one provider")
	}
	if l.Primary == "" {
		return fmt.Errorf("llm.primary is required")
	}
	if _, ok := l.Providers[l.Primary]; !ok {
		return fmt.Errorf("llm.primary %q is not a configured provider", l.Primary)
	}
	for name, p := range l.Providers {
		if p.Type == "" {
			return fmt.Errorf("llm.providers.%s.type is required", name)
		}
	}
	return nil
}

// SolverConfig contains per-question control loop settings.
type SolverConfig struct {
	// QuestionBudget is the per-question wall-clock budget before a
	// forced best-effort submission. The quiz allows 180s per question;
	// the default leaves a 10s buffer for the submission itself.
	QuestionBudget   time.Duration `mapstructure:"question_budget"`
	MaxRounds        int           `mapstructure:"max_rounds"`
	ContextMaxBytes  int           `mapstructure:"context_max_bytes"`
	ContextTrimBytes int           `mapstructure:"context_trim_bytes"`
	MaxPayloadBytes  int           `mapstructure:"max_payload_bytes"`
}

func (s SolverConfig) Validate() error {
	if s.QuestionBudget <= 0 {
		return fmt.Errorf("solver.question_budget must be positive")
	}
	if s.MaxRounds <= 0 {
		return fmt.Errorf("solver.max_rounds must be positive")
	}
	if s.ContextTrimBytes > s.ContextMaxBytes {
		return fmt.Errorf("solver.context_trim_bytes cannot exceed solver.context_max_bytes")
	}
	return nil
}

// BrowserConfig contains headless page loader settings.
type BrowserConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
	Headless bool          `mapstructure:"headless"`
}

// ToolsConfig contains tool execution bounds.
type ToolsConfig struct {
	RunCodeTimeout  time.Duration `mapstructure:"run_code_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxResultChars  int           `mapstructure:"max_result_chars"`
	PythonBin       string        `mapstructure:"python_bin"`
}

// JobsConfig selects the job status store backend.
type JobsConfig struct {
	Backend string      `mapstructure:"backend"` // memory, redis
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains redis connection settings for the job store.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (j JobsConfig) Validate() error {
	switch j.Backend {
	case "", "memory":
		return nil
	case "redis":
		if j.Redis.Host == "" || j.Redis.Port == "" {
			return fmt.Errorf("jobs.redis.host and jobs.redis.port are required for the redis backend")
		}
		return nil
	default:
		return fmt.Errorf("jobs.backend must be memory or redis, got %q", j.Backend)
	}
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Solver.Validate(); err != nil {
		return err
	}
	return c.Jobs.Validate()
}

// LoadConfig loads config from file and environment. A missing config
// file is not an error: deployments drive everything through
// QUIZSOLVER_* environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("QUIZSOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.data_dir", "data")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("llm.primary", "gemini")
	v.SetDefault("llm.fallback_enabled", true)
	v.SetDefault("llm.max_attempts", 4)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("solver.question_budget", 170*time.Second)
	v.SetDefault("solver.max_rounds", 30)
	v.SetDefault("solver.context_max_bytes", 12000)
	v.SetDefault("solver.context_trim_bytes", 8000)
	v.SetDefault("solver.max_payload_bytes", 1<<20)
	v.SetDefault("browser.timeout", 30*time.Second)
	v.SetDefault("browser.max_chars", 20000)
	v.SetDefault("browser.headless", true)
	v.SetDefault("tools.run_code_timeout", 60*time.Second)
	v.SetDefault("tools.download_timeout", 45*time.Second)
	v.SetDefault("tools.request_timeout", 20*time.Second)
	v.SetDefault("tools.max_result_chars", 1500)
	v.SetDefault("tools.python_bin", "python3")
	v.SetDefault("jobs.backend", "memory")
	v.SetDefault("jobs.redis.timeout", 5*time.Second)
	v.SetDefault("telemetry.enabled", true)
}
