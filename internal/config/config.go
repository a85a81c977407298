// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on this rather than the concrete struct so tests can
// hand them a tailored config.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Agent() AgentConfig
	LLM() LLMConfig
	Server() ServerConfig
	Database() DatabaseConfig

	SetBrowserHeadless(bool)
	SetAgentMaxSteps(int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	LLMCfg      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) LLM() LLMConfig           { return c.LLMCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// --- Setters (CLI flag overrides) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetAgentMaxSteps(n int)    { c.AgentCfg.MaxSteps = n }

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

// BrowserConfig holds settings for the single headless browser session.
type BrowserConfig struct {
	Headless        bool              `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string          `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int    `mapstructure:"viewport" yaml:"viewport"`
	UserAgent       string            `mapstructure:"user_agent" yaml:"user_agent"`
	Locale          string            `mapstructure:"locale" yaml:"locale"`
	Timezone        string            `mapstructure:"timezone" yaml:"timezone"`
	Geolocation     GeolocationConfig `mapstructure:"geolocation" yaml:"geolocation"`
	SearchURL       string            `mapstructure:"search_url" yaml:"search_url"`
	// SelectAllModifier maps a GOOS value (or "default") to the modifier key
	// held while pressing "a" to select a field's contents.
	SelectAllModifier  map[string]string `mapstructure:"select_all_modifier" yaml:"select_all_modifier"`
	NavigationTimeout  time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	FallbackTimeout    time.Duration     `mapstructure:"fallback_timeout" yaml:"fallback_timeout"`
	NetworkIdleTimeout time.Duration     `mapstructure:"network_idle_timeout" yaml:"network_idle_timeout"`
	NetworkIdleQuiet   time.Duration     `mapstructure:"network_idle_quiet" yaml:"network_idle_quiet"`
	Perception         PerceptionConfig  `mapstructure:"perception" yaml:"perception"`
}

// GeolocationConfig is the location reported to pages asking for it.
type GeolocationConfig struct {
	Latitude  float64 `mapstructure:"latitude" yaml:"latitude"`
	Longitude float64 `mapstructure:"longitude" yaml:"longitude"`
	Accuracy  float64 `mapstructure:"accuracy" yaml:"accuracy"`
}

// PerceptionConfig tunes the mark/screenshot pipeline.
type PerceptionConfig struct {
	MarkAttempts       int           `mapstructure:"mark_attempts" yaml:"mark_attempts"`
	MarkBackoff        time.Duration `mapstructure:"mark_backoff" yaml:"mark_backoff"`
	ScreenshotAttempts int           `mapstructure:"screenshot_attempts" yaml:"screenshot_attempts"`
	ScreenshotBackoff  time.Duration `mapstructure:"screenshot_backoff" yaml:"screenshot_backoff"`
	MaxDimension       int           `mapstructure:"max_dimension" yaml:"max_dimension"`
	JPEGQuality        int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	GreyLevels         int           `mapstructure:"grey_levels" yaml:"grey_levels"`
}

// SelectAll resolves the select-all modifier for the given GOOS.
func (b BrowserConfig) SelectAll(goos string) string {
	if m, ok := b.SelectAllModifier[goos]; ok && m != "" {
		return m
	}
	if m, ok := b.SelectAllModifier["default"]; ok && m != "" {
		return m
	}
	return "Control"
}

// AgentConfig holds settings for the perceive-decide-act loop.
type AgentConfig struct {
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// HistoryWindow bounds how many of the newest history records are sent
	// to the reasoner. Zero sends all of them. State itself is never trimmed.
	HistoryWindow    int           `mapstructure:"history_window" yaml:"history_window"`
	MaxLocalRetries  int           `mapstructure:"max_local_retries" yaml:"max_local_retries"`
	Timings          TimingsConfig `mapstructure:"timings" yaml:"timings"`
	NavigationEvents bool          `mapstructure:"navigation_events" yaml:"navigation_events"`
}

// TimingsConfig holds the fixed pauses tool nodes take around interactions.
type TimingsConfig struct {
	ClickBefore   time.Duration `mapstructure:"click_before" yaml:"click_before"`
	ClickAfter    time.Duration `mapstructure:"click_after" yaml:"click_after"`
	TypeSelect    time.Duration `mapstructure:"type_select" yaml:"type_select"`
	TypeClear     time.Duration `mapstructure:"type_clear" yaml:"type_clear"`
	TypeDelete    time.Duration `mapstructure:"type_delete" yaml:"type_delete"`
	TypeEntered   time.Duration `mapstructure:"type_entered" yaml:"type_entered"`
	TypeSubmitted time.Duration `mapstructure:"type_submitted" yaml:"type_submitted"`
	Scroll        time.Duration `mapstructure:"scroll" yaml:"scroll"`
	PDFFocus      time.Duration `mapstructure:"pdf_focus" yaml:"pdf_focus"`
	Wait          time.Duration `mapstructure:"wait" yaml:"wait"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig defines the configuration for the reasoning model.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxElapsed        time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address           string        `mapstructure:"address" yaml:"address"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	EventsHeartbeat   time.Duration `mapstructure:"events_heartbeat" yaml:"events_heartbeat"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	EventBacklog      int           `mapstructure:"event_backlog" yaml:"event_backlog"`
}

// DatabaseConfig holds the database connection details for run transcripts.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
	v.SetDefault("logger.service_name", "rover")
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
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 720})
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "America/Los_Angeles")
	v.SetDefault("browser.geolocation.latitude", 37.7749)
	v.SetDefault("browser.geolocation.longitude", -122.4194)
	v.SetDefault("browser.geolocation.accuracy", 100.0)
	v.SetDefault("browser.search_url", "https://www.google.com")
	v.SetDefault("browser.select_all_modifier", map[string]string{"darwin": "Meta", "default": "Control"})
	v.SetDefault("browser.navigation_timeout", "80s")
	v.SetDefault("browser.fallback_timeout", "60s")
	v.SetDefault("browser.network_idle_timeout", "10s")
	v.SetDefault("browser.network_idle_quiet", "500ms")
	v.SetDefault("browser.perception.mark_attempts", 3)
	v.SetDefault("browser.perception.mark_backoff", "3s")
	v.SetDefault("browser.perception.screenshot_attempts", 3)
	v.SetDefault("browser.perception.screenshot_backoff", "2s")
	v.SetDefault("browser.perception.max_dimension", 600)
	v.SetDefault("browser.perception.jpeg_quality", 50)
	v.SetDefault("browser.perception.grey_levels", 64)

	// -- Agent --
	v.SetDefault("agent.max_steps", 400)
	v.SetDefault("agent.history_window", 0)
	v.SetDefault("agent.max_local_retries", 3)
	v.SetDefault("agent.navigation_events", true)
	v.SetDefault("agent.timings.click_before", "2s")
	v.SetDefault("agent.timings.click_after", "4s")
	v.SetDefault("agent.timings.type_select", "2s")
	v.SetDefault("agent.timings.type_clear", "1s")
	v.SetDefault("agent.timings.type_delete", "1s")
	v.SetDefault("agent.timings.type_entered", "3s")
	v.SetDefault("agent.timings.type_submitted", "3s")
	v.SetDefault("agent.timings.scroll", "500ms")
	v.SetDefault("agent.timings.pdf_focus", "1s")
	v.SetDefault("agent.timings.wait", "3s")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.max_elapsed", "2m")
	v.SetDefault("llm.requests_per_minute", 0)

	// -- Server --
	v.SetDefault("server.address", "127.0.0.1:8001")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.events_heartbeat", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.event_backlog", 64)

	// -- Database --
	v.SetDefault("database.enabled", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are usually provided through the environment.
	_ = v.BindEnv("llm.api_key", "ROVER_LLM_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("database.url", "ROVER_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.AgentCfg.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.AgentCfg.HistoryWindow < 0 {
		return fmt.Errorf("agent.history_window must not be negative")
	}
	if c.AgentCfg.MaxLocalRetries < 0 {
		return fmt.Errorf("agent.max_local_retries must not be negative")
	}
	if c.BrowserCfg.Viewport["width"] <= 0 || c.BrowserCfg.Viewport["height"] <= 0 {
		return fmt.Errorf("browser.viewport width and height must be positive")
	}
	if !strings.HasPrefix(c.BrowserCfg.SearchURL, "http://") && !strings.HasPrefix(c.BrowserCfg.SearchURL, "https://") {
		return fmt.Errorf("browser.search_url must be an http(s) URL")
	}
	if q := c.BrowserCfg.Perception.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("browser.perception.jpeg_quality must be between 1 and 100")
	}
	if c.LLMCfg.Provider != ProviderGemini {
		return fmt.Errorf("llm.provider %q is not supported", c.LLMCfg.Provider)
	}
	if c.DatabaseCfg.Enabled && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("database.url is required when database.enabled is set")
	}
	return nil
}
