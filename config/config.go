package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the miEAA client and CLI
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Web       WebConfig       `mapstructure:"web"`
	Emulator  EmulatorConfig  `mapstructure:"emulator"`
}

// APIConfig describes how to reach the remote service
type APIConfig struct {
	RootURL      string        `mapstructure:"root_url"`
	Version      string        `mapstructure:"version"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinInterval  time.Duration `mapstructure:"min_interval"`  // server-side throttle between requests
	SafetyMargin time.Duration `mapstructure:"safety_margin"` // added on top of min_interval
	UserAgent    string        `mapstructure:"user_agent"`
}

// BaseURL joins the root url and the API version, always with a trailing slash.
func (a APIConfig) BaseURL() string {
	root := strings.TrimRight(a.RootURL, "/") + "/"
	return root + strings.Trim(a.Version, "/") + "/"
}

func (a APIConfig) Validate() error {
	u, err := url.Parse(a.RootURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.root_url must be an absolute url, got %q", a.RootURL)
	}
	if strings.TrimSpace(a.Version) == "" {
		return fmt.Errorf("api.version required")
	}
	if a.MinInterval < 0 {
		return fmt.Errorf("api.min_interval cannot be negative")
	}
	if a.SafetyMargin < 0 {
		return fmt.Errorf("api.safety_margin cannot be negative")
	}
	return nil
}

// JobsConfig controls polling of enrichment jobs
type JobsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxRetries   int           `mapstructure:"max_retries"`
	CategoryTTL  time.Duration `mapstructure:"category_ttl"` // 0 disables the category memo
}

// Normalize applies defaults for unset values.
func (j JobsConfig) Normalize() JobsConfig {
	if j.PollInterval <= 0 {
		j.PollInterval = 5 * time.Second
	}
	if j.MaxRetries <= 0 {
		j.MaxRetries = 5
	}
	if j.CategoryTTL < 0 {
		j.CategoryTTL = 0
	}
	return j
}

// LoggingConfig selects level and sinks
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig contains tracing and metrics export settings
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.OTLPEndpoint) == "" {
		return fmt.Errorf("telemetry.otlp_endpoint required when telemetry is enabled")
	}
	if t.PushgatewayURL != "" && strings.TrimSpace(t.JobName) == "" {
		return fmt.Errorf("telemetry.job_name required when pushgateway_url is set")
	}
	return nil
}

// WebConfig points at the browser frontend of the service
type WebConfig struct {
	URL string `mapstructure:"url"`
}

// EmulatorConfig configures the local emulator
type EmulatorConfig struct {
	Address string `mapstructure:"address"`
}

// LoadConfig loads configuration from defaults, an optional .env file, an
// optional config file and MIEAA_* environment variables, in increasing order
// of precedence. An empty path searches the usual locations; a missing file is
// not an error there.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("mieaa")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mieaa"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("MIEAA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Jobs = cfg.Jobs.Normalize()

	if err := cfg.API.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Jobs = cfg.Jobs.Normalize()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.root_url", "https://anathema.cs.uni-saarland.de/mieaa_tool/api/")
	v.SetDefault("api.version", "v1")
	v.SetDefault("api.timeout", time.Minute)
	v.SetDefault("api.min_interval", time.Second)
	v.SetDefault("api.safety_margin", 100*time.Millisecond)
	v.SetDefault("api.user_agent", "mieaa-go")
	v.SetDefault("jobs.poll_interval", 5*time.Second)
	v.SetDefault("jobs.max_retries", 5)
	v.SetDefault("jobs.category_ttl", time.Duration(0))
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.json", false)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.pushgateway_url", "")
	v.SetDefault("telemetry.job_name", "mieaa")
	v.SetDefault("web.url", "https://anathema.cs.uni-saarland.de/mieaa_tool/")
	v.SetDefault("emulator.address", "127.0.0.1:8787")
}
