// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest): environment variables, config file
// (~/.loom/config.yaml or ./config.yaml), built-in defaults. Sensitive
// fields are masked in MarshalJSON; update it when adding secrets.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/loomchat/loom/internal/llm"
)

var (
	ErrInvalidModelName   = errors.New("invalid model name")
	ErrMissingAPIKey      = errors.New("missing API key")
	ErrInvalidTemperature = errors.New("invalid temperature")
	ErrInvalidStepBudget  = errors.New("invalid step budget")
	ErrInvalidPostgres    = errors.New("invalid PostgreSQL configuration")
	ErrInvalidAuthSecret  = errors.New("invalid auth secret")
)

const (
	// DefaultModel answers chats when no model is configured or requested.
	DefaultModel = "gpt-4.1"

	// DefaultStepBudget caps model/tool round-trips per turn.
	DefaultStepBudget = 15

	minAuthSecretLen = 16
	maxStepBudget    = 100
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Model selection and generation behavior
	ModelName       string  `mapstructure:"model_name" json:"model_name"`
	Temperature     float64 `mapstructure:"temperature" json:"temperature"`
	StepBudget      int     `mapstructure:"step_budget" json:"step_budget"`
	ToolMaxParallel int     `mapstructure:"tool_max_parallel" json:"tool_max_parallel"` // 0 = unbounded
	ProviderRPS     float64 `mapstructure:"provider_rps" json:"provider_rps"`           // 0 = unpaced

	// Provider credentials. SENSITIVE: masked in MarshalJSON
	OpenAIAPIKey    string `mapstructure:"openai_api_key" json:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key" json:"anthropic_api_key"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key" json:"gemini_api_key"`
	DeepSeekAPIKey  string `mapstructure:"deepseek_api_key" json:"deepseek_api_key"`
	XAIAPIKey       string `mapstructure:"xai_api_key" json:"xai_api_key"`

	// Tooling
	SerpAPIKey        string `mapstructure:"serpapi_api_key" json:"serpapi_api_key"` // SENSITIVE: masked in MarshalJSON
	ScraperMaxBytes   int64  `mapstructure:"scraper_max_bytes" json:"scraper_max_bytes"`
	ScraperMaxChars   int    `mapstructure:"scraper_max_chars" json:"scraper_max_chars"`
	ToolHTTPTimeoutMS int    `mapstructure:"tool_http_timeout_ms" json:"tool_http_timeout_ms"`

	// Storage
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server
	HTTPAddr   string `mapstructure:"http_addr" json:"http_addr"`
	AuthSecret string `mapstructure:"auth_secret" json:"auth_secret"` // SENSITIVE: masked in MarshalJSON

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load reads configuration with environment > file > defaults priority.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".loom"))
	}
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModel)
	v.SetDefault("temperature", 0.3)
	v.SetDefault("step_budget", DefaultStepBudget)
	v.SetDefault("tool_max_parallel", 0)
	v.SetDefault("provider_rps", 0)

	v.SetDefault("scraper_max_bytes", 5*1024*1024)
	v.SetDefault("scraper_max_chars", 20000)
	v.SetDefault("tool_http_timeout_ms", 30000)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "loom")
	v.SetDefault("postgres_password", "loom_dev_password")
	v.SetDefault("postgres_db_name", "loom")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("http_addr", ":8080")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly. Hardcoded keys
// cannot fail to bind; a panic here is a bug, not a runtime error.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("anthropic_api_key", "ANTHROPIC_API_KEY")
	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("deepseek_api_key", "DEEPSEEK_API_KEY")
	mustBind("xai_api_key", "XAI_API_KEY")
	mustBind("serpapi_api_key", "SERPAPI_API_KEY")

	mustBind("auth_secret", "LOOM_AUTH_SECRET")
	mustBind("model_name", "LOOM_MODEL")
	mustBind("http_addr", "LOOM_HTTP_ADDR")
	mustBind("log_level", "LOOM_LOG_LEVEL")
	mustBind("log_json", "LOOM_LOG_JSON")
}

// Validate checks the configuration and fails fast on the first problem.
func (c *Config) Validate() error {
	kind := llm.DetectProvider(c.ModelName)
	if kind == llm.ProviderUnknown {
		return fmt.Errorf("%w: %q maps to no known provider", ErrInvalidModelName, c.ModelName)
	}
	if c.APIKeyFor(kind) == "" {
		return fmt.Errorf("%w: provider %s requires a key", ErrMissingAPIKey, kind)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v not in [0, 2]", ErrInvalidTemperature, c.Temperature)
	}
	if c.StepBudget < 1 || c.StepBudget > maxStepBudget {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidStepBudget, c.StepBudget, maxStepBudget)
	}

	if c.PostgresHost == "" || c.PostgresDBName == "" || c.PostgresUser == "" {
		return fmt.Errorf("%w: host, user and db name are required", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: unknown ssl mode %q", ErrInvalidPostgres, c.PostgresSSLMode)
	}

	if c.AuthSecret != "" && len(c.AuthSecret) < minAuthSecretLen {
		return fmt.Errorf("%w: shorter than %d characters", ErrInvalidAuthSecret, minAuthSecretLen)
	}
	return nil
}

// APIKeyFor returns the credential for a provider family.
func (c *Config) APIKeyFor(kind llm.ProviderKind) string {
	switch kind {
	case llm.ProviderOpenAI:
		return c.OpenAIAPIKey
	case llm.ProviderAnthropic:
		return c.AnthropicAPIKey
	case llm.ProviderGemini:
		return c.GeminiAPIKey
	case llm.ProviderDeepSeek:
		return c.DeepSeekAPIKey
	case llm.ProviderXAI:
		return c.XAIAPIKey
	default:
		return ""
	}
}

// PostgresConnectionString returns the DSN for the pgx driver. The password
// is single-quoted so special characters survive DSN parsing.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser,
		quoteDSNValue(c.PostgresPassword), c.PostgresDBName, c.PostgresSSLMode)
}

// PostgresURL returns the URL form used by golang-migrate.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	return u.String()
}

// parseDatabaseURL lets DATABASE_URL override the individual postgres_*
// settings, the form cloud deployments usually provide.
func (c *Config) parseDatabaseURL() error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}

	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("invalid DATABASE_URL scheme %q", parsed.Scheme)
	}

	c.PostgresHost = parsed.Hostname()
	if port := parsed.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_URL port: %w", err)
		}
		c.PostgresPort = p
	}
	if parsed.User != nil {
		c.PostgresUser = parsed.User.Username()
		if pw, ok := parsed.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := strings.TrimPrefix(parsed.Path, "/"); name != "" {
		c.PostgresDBName = name
	}
	if mode := parsed.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

const maskedValue = "████████"

// maskSecret keeps the first and last two characters of long secrets for
// debugging and fully masks short ones so substrings never leak.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.AnthropicAPIKey = maskSecret(a.AnthropicAPIKey)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.DeepSeekAPIKey = maskSecret(a.DeepSeekAPIKey)
	a.XAIAPIKey = maskSecret(a.XAIAPIKey)
	a.SerpAPIKey = maskSecret(a.SerpAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.AuthSecret = maskSecret(a.AuthSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String prevents accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
