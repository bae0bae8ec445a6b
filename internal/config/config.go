// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Agent() AgentConfig
	LLM() LLMConfig
	Search() SearchConfig
	Server() ServerConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserUserDataDir(string)

	// Agent Setters
	SetAgentMaxIterations(int)
	SetAgentTaskTimeout(d time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	LLMCfg      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	SearchCfg   SearchConfig   `mapstructure:"search" yaml:"search"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// -- Getters --

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) LLM() LLMConfig           { return c.LLMCfg }
func (c *Config) Search() SearchConfig     { return c.SearchCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }

// -- Setters --

func (c *Config) SetBrowserHeadless(b bool)           { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserUserDataDir(dir string)    { c.BrowserCfg.UserDataDir = dir }
func (c *Config) SetAgentMaxIterations(n int)         { c.AgentCfg.MaxIterations = n }
func (c *Config) SetAgentTaskTimeout(d time.Duration) { c.AgentCfg.TaskTimeout = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables run persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ViewportConfig is the fixed page size. Screenshots are captured at exactly this
// resolution and the decision prompt quotes the same numbers.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the long-lived browser session.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	TypeDelay         time.Duration  `mapstructure:"type_delay" yaml:"type_delay"`
	ScrollAmount      int            `mapstructure:"scroll_amount" yaml:"scroll_amount"`
	QueueSize         int            `mapstructure:"queue_size" yaml:"queue_size"`
}

// SettleConfig holds the pause after each action kind before the next screenshot.
type SettleConfig struct {
	Navigate time.Duration `mapstructure:"navigate" yaml:"navigate"`
	Click    time.Duration `mapstructure:"click" yaml:"click"`
	Type     time.Duration `mapstructure:"type" yaml:"type"`
	Key      time.Duration `mapstructure:"key" yaml:"key"`
	Scroll   time.Duration `mapstructure:"scroll" yaml:"scroll"`
}

// AgentConfig configures the automation controller.
type AgentConfig struct {
	MaxIterations        int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	HistoryWindow        int           `mapstructure:"history_window" yaml:"history_window"`
	HistoryCap           int           `mapstructure:"history_cap" yaml:"history_cap"`
	MaxConsecutiveVerify int           `mapstructure:"max_consecutive_verify" yaml:"max_consecutive_verify"`
	MaxWait              time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	TaskTimeout          time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	FastPathSettle       time.Duration `mapstructure:"fast_path_settle" yaml:"fast_path_settle"`
	Settle               SettleConfig  `mapstructure:"settle" yaml:"settle"`
}

// Supported LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// LLMModelConfig describes a single model endpoint.
type LLMModelConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// Enabled reports whether the model has enough configuration to be used.
func (m LLMModelConfig) Enabled() bool {
	return m.Provider != "" && m.Model != "" && m.APIKey != ""
}

// LLMConfig holds the primary vision model and an optional fallback.
type LLMConfig struct {
	Primary  LLMModelConfig `mapstructure:"primary" yaml:"primary"`
	Fallback LLMModelConfig `mapstructure:"fallback" yaml:"fallback"`
}

// SearchConfig configures the web search backend used to resolve direct links.
type SearchConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	MaxResults        int           `mapstructure:"max_results" yaml:"max_results"`
	SnippetLength     int           `mapstructure:"snippet_length" yaml:"snippet_length"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig configures the chat webhook server.
type ServerConfig struct {
	ListenAddr       string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	WebhookPath      string        `mapstructure:"webhook_path" yaml:"webhook_path"`
	MetricsPath      string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	TelegramToken    string        `mapstructure:"telegram_token" yaml:"-"`
	TelegramAPIBase  string        `mapstructure:"telegram_api_base" yaml:"telegram_api_base"`
	ConversationCap  int           `mapstructure:"conversation_cap" yaml:"conversation_cap"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxConcurrentRun int           `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "browserpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_dir", "~/.browserpilot/profile")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.type_delay", "50ms")
	v.SetDefault("browser.scroll_amount", 300)
	v.SetDefault("browser.queue_size", 16)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 20)
	v.SetDefault("agent.history_window", 5)
	v.SetDefault("agent.history_cap", 20)
	v.SetDefault("agent.max_consecutive_verify", 2)
	v.SetDefault("agent.max_wait", "30s")
	v.SetDefault("agent.task_timeout", "10m")
	v.SetDefault("agent.fast_path_settle", "3s")
	v.SetDefault("agent.settle.navigate", "2s")
	v.SetDefault("agent.settle.click", "1s")
	v.SetDefault("agent.settle.type", "500ms")
	v.SetDefault("agent.settle.key", "1s")
	v.SetDefault("agent.settle.scroll", "0s")

	// -- LLM --
	v.SetDefault("llm.primary.provider", ProviderGemini)
	v.SetDefault("llm.primary.model", "gemini-2.5-flash")
	v.SetDefault("llm.primary.api_key", "")
	v.SetDefault("llm.primary.endpoint", "")
	v.SetDefault("llm.primary.api_timeout", "60s")
	v.SetDefault("llm.primary.temperature", 0.2)
	v.SetDefault("llm.primary.max_tokens", 1024)
	v.SetDefault("llm.fallback.provider", ProviderOpenAI)
	v.SetDefault("llm.fallback.model", "nvidia/nemotron-nano-12b-v2-vl")
	v.SetDefault("llm.fallback.endpoint", "https://integrate.api.nvidia.com/v1")
	v.SetDefault("llm.fallback.api_key", "")
	v.SetDefault("llm.fallback.api_timeout", "60s")
	v.SetDefault("llm.fallback.temperature", 0.2)
	v.SetDefault("llm.fallback.max_tokens", 1024)

	// -- Search --
	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.endpoint", "https://api.tavily.com/search")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.snippet_length", 200)
	v.SetDefault("search.requests_per_second", 1.0)
	v.SetDefault("search.timeout", "15s")

	// -- Database --
	v.SetDefault("database.url", "")

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.webhook_path", "/webhook/telegram")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.telegram_token", "")
	v.SetDefault("server.telegram_api_base", "https://api.telegram.org")
	v.SetDefault("server.conversation_cap", 20)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_concurrent_runs", 4)
}

// NewConfigFromViper unmarshals a viper instance into a validated Config.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	dir, err := ExpandPath(cfg.BrowserCfg.UserDataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand browser.user_data_dir: %w", err)
	}
	cfg.BrowserCfg.UserDataDir = dir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPath resolves a leading "~" to the current user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return homedir.Expand(path)
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.Viewport.Width <= 0 || c.BrowserCfg.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport must have a positive width and height")
	}
	if c.BrowserCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.BrowserCfg.ActionTimeout <= 0 {
		return fmt.Errorf("browser.action_timeout must be a positive duration")
	}
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Primary.validateProvider(); err != nil {
		return fmt.Errorf("llm.primary: %w", err)
	}
	if err := c.LLMCfg.Fallback.validateProvider(); err != nil {
		return fmt.Errorf("llm.fallback: %w", err)
	}
	return nil
}

// Validate checks the controller limits.
func (a *AgentConfig) Validate() error {
	if a.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be a positive integer")
	}
	if a.HistoryWindow <= 0 {
		return fmt.Errorf("history_window must be a positive integer")
	}
	if a.HistoryCap < a.HistoryWindow {
		return fmt.Errorf("history_cap (%d) must be at least history_window (%d)", a.HistoryCap, a.HistoryWindow)
	}
	if a.MaxConsecutiveVerify < 0 {
		return fmt.Errorf("max_consecutive_verify must not be negative")
	}
	if a.MaxWait <= 0 {
		return fmt.Errorf("max_wait must be positive")
	}
	if a.TaskTimeout < 0 || a.FastPathSettle < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	s := a.Settle
	if s.Navigate < 0 || s.Click < 0 || s.Type < 0 || s.Key < 0 || s.Scroll < 0 {
		return fmt.Errorf("settle delays must not be negative")
	}
	return nil
}

func (m LLMModelConfig) validateProvider() error {
	switch strings.ToLower(m.Provider) {
	case "", ProviderGemini, ProviderOpenAI:
		return nil
	default:
		return fmt.Errorf("unsupported provider %q", m.Provider)
	}
}
