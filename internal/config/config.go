// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration for a suite run. Fields
// are exported so viper can unmarshal them and tests can build literals; the
// struct is treated as read-only after NewFromViper returns.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	App     AppConfig     `mapstructure:"app" yaml:"app"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Suite   SuiteConfig   `mapstructure:"suite" yaml:"suite"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	AppLog  AppLogConfig  `mapstructure:"applog" yaml:"applog"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify"`
	Triage  TriageConfig  `mapstructure:"triage" yaml:"triage"`
}

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

// ColorConfig defines the color names for the console encoder's level token.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AppConfig describes the MGrant deployment under test. Credentials come from
// the environment (MGRANT_E2E_APP_USERNAME / MGRANT_E2E_APP_PASSWORD), never
// from the config file on disk.
type AppConfig struct {
	BaseURL       string `mapstructure:"base_url" yaml:"base_url"`
	LoginPath     string `mapstructure:"login_path" yaml:"login_path"`
	ProtectedPath string `mapstructure:"protected_path" yaml:"protected_path"`
	Username      string `mapstructure:"username" yaml:"-"`
	Password      string `mapstructure:"password" yaml:"-"`
}

// BrowserConfig holds settings for the single Chrome instance the run drives.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableGPU      bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// SlowMo inserts a minimum gap between page actions so a headed run is
	// watchable and the app's debounced handlers get a chance to fire.
	SlowMo time.Duration `mapstructure:"slow_mo" yaml:"slow_mo"`
}

// NetworkConfig tunes navigation and the probe client.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration     `mapstructure:"action_timeout" yaml:"action_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	IgnoreTLSErrors   bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// AuthConfig controls the authentication-state cache.
type AuthConfig struct {
	// StateFile is where the session snapshot is persisted between runs.
	StateFile string `mapstructure:"state_file" yaml:"state_file"`
	// MaxAge invalidates snapshots older than this; 0 disables the age check.
	MaxAge        time.Duration `mapstructure:"max_age" yaml:"max_age"`
	LoginTimeout  time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`
}

// SuiteConfig selects what to run and where run artifacts land.
type SuiteConfig struct {
	Manifest             string        `mapstructure:"manifest" yaml:"manifest"`
	Profile              string        `mapstructure:"profile" yaml:"profile"`
	ScreenshotDir        string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	DefaultModuleTimeout time.Duration `mapstructure:"default_module_timeout" yaml:"default_module_timeout"`
}

// ReportConfig selects the report writers.
type ReportConfig struct {
	Formats   []string `mapstructure:"formats" yaml:"formats"`
	OutputDir string   `mapstructure:"output_dir" yaml:"output_dir"`
}

// StoreConfig enables the Postgres run-history store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"-"`
}

// CaptureConfig enables the local traffic-capture proxy the browser is pointed
// at.
type CaptureConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// AppLogConfig enables tailing the application's server log during the run.
type AppLogConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	// Lines is how many recent lines are attached to a failure.
	Lines int `mapstructure:"lines" yaml:"lines"`
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	GitHub GitHubConfig `mapstructure:"github" yaml:"github"`
}

// GitHubConfig defines the commit-status integration.
type GitHubConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Token     string `mapstructure:"token" yaml:"-"`
	RepoOwner string `mapstructure:"repo_owner" yaml:"repo_owner"`
	RepoName  string `mapstructure:"repo_name" yaml:"repo_name"`
	Context   string `mapstructure:"context" yaml:"context"`
}

// TriageConfig enables the LLM failure-triage note on halted runs.
type TriageConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Model   string        `mapstructure:"model" yaml:"model"`
	APIKey  string        `mapstructure:"api_key" yaml:"-"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mgrant-e2e")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- App --
	v.SetDefault("app.base_url", "http://localhost:3000")
	v.SetDefault("app.login_path", "/login")
	v.SetDefault("app.protected_path", "/dashboard")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.viewport", map[string]int{"width": 1440, "height": 900})
	v.SetDefault("browser.slow_mo", "0s")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "45s")
	v.SetDefault("network.action_timeout", "15s")
	v.SetDefault("network.post_load_wait", "1500ms")

	// -- Auth --
	v.SetDefault("auth.state_file", ".mgrant-e2e/auth-state.json")
	v.SetDefault("auth.max_age", "12h")
	v.SetDefault("auth.login_timeout", "30s")
	v.SetDefault("auth.verify_timeout", "15s")

	// -- Suite --
	v.SetDefault("suite.manifest", "testplan.yaml")
	v.SetDefault("suite.profile", "full")
	v.SetDefault("suite.screenshot_dir", "screenshots")
	v.SetDefault("suite.default_module_timeout", "5m")

	// -- Report --
	v.SetDefault("report.formats", []string{"console", "json", "junit"})
	v.SetDefault("report.output_dir", "reports")

	// -- Store --
	v.SetDefault("store.enabled", false)

	// -- Capture --
	v.SetDefault("capture.enabled", false)
	v.SetDefault("capture.addr", "127.0.0.1:0")

	// -- AppLog --
	v.SetDefault("applog.enabled", false)
	v.SetDefault("applog.lines", 40)

	// -- Notify --
	v.SetDefault("notify.github.enabled", false)
	v.SetDefault("notify.github.context", "e2e/mgrant")

	// -- Triage --
	v.SetDefault("triage.enabled", false)
	v.SetDefault("triage.model", "gemini-2.5-flash")
	v.SetDefault("triage.timeout", "30s")
}

// NewFromViper creates a configuration instance from a viper object.
func NewFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("app.username", "MGRANT_E2E_APP_USERNAME")
	v.BindEnv("app.password", "MGRANT_E2E_APP_PASSWORD")
	v.BindEnv("store.url", "MGRANT_E2E_STORE_URL")
	v.BindEnv("notify.github.token", "MGRANT_E2E_GH_TOKEN")
	v.BindEnv("triage.api_key", "MGRANT_E2E_TRIAGE_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Env bindings without a file key sometimes miss Unmarshal; read directly.
	if cfg.Notify.GitHub.Enabled && cfg.Notify.GitHub.Token == "" {
		cfg.Notify.GitHub.Token = os.Getenv("MGRANT_E2E_GH_TOKEN")
	}
	if cfg.Triage.Enabled && cfg.Triage.APIKey == "" {
		cfg.Triage.APIKey = os.Getenv("MGRANT_E2E_TRIAGE_API_KEY")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// expandPaths resolves ~ in the user-supplied file paths.
func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Auth.StateFile,
		&c.Suite.Manifest,
		&c.Suite.ScreenshotDir,
		&c.Report.OutputDir,
		&c.AppLog.Path,
		&c.Logger.LogFile,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("cannot expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.App.BaseURL == "" {
		return fmt.Errorf("app.base_url is a required configuration field")
	}
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.Network.ActionTimeout <= 0 {
		return fmt.Errorf("network.action_timeout must be a positive duration")
	}
	if c.Suite.DefaultModuleTimeout <= 0 {
		return fmt.Errorf("suite.default_module_timeout must be a positive duration")
	}
	if c.Auth.StateFile == "" {
		return fmt.Errorf("auth.state_file is a required configuration field")
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store is enabled but MGRANT_E2E_STORE_URL is not set")
	}
	if c.Notify.GitHub.Enabled {
		gh := c.Notify.GitHub
		if gh.RepoOwner == "" || gh.RepoName == "" {
			return fmt.Errorf("notify.github.repo_owner and notify.github.repo_name are required")
		}
		if gh.Token == "" {
			return fmt.Errorf("GitHub token is required but not found. Ensure MGRANT_E2E_GH_TOKEN is set")
		}
	}
	if c.Triage.Enabled && c.Triage.APIKey == "" {
		return fmt.Errorf("triage is enabled but MGRANT_E2E_TRIAGE_API_KEY is not set")
	}
	return nil
}
