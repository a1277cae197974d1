package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the bundler configuration
type Config struct {
	Mode      string          `mapstructure:"mode"`
	Debug     bool            `mapstructure:"debug"`
	Build     BuildConfig     `mapstructure:"build"`
	DevServer DevServerConfig `mapstructure:"devserver"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Analyze   AnalyzeConfig   `mapstructure:"analyze"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// BuildConfig contains project layout and build settings
type BuildConfig struct {
	Root         string `mapstructure:"root"`          // Project root; other paths are relative to it
	Manifest     string `mapstructure:"manifest"`      // Bundle manifest (JSON with comments)
	MediaDir     string `mapstructure:"media_dir"`     // Base for non-vendored references
	VendorDir    string `mapstructure:"vendor_dir"`    // Installed vendored package
	VendorPrefix string `mapstructure:"vendor_prefix"` // References with this prefix resolve into VendorDir
	OutputDir    string `mapstructure:"output_dir"`
	PublicPath   string `mapstructure:"public_path"`
	Concurrency  int    `mapstructure:"concurrency"`
	Precompress  string `mapstructure:"precompress"` // auto, always or never
	Target       string `mapstructure:"target"`      // esbuild target for minification
	SassBinary   string `mapstructure:"sass_binary"` // Empty means locate automatically
}

// DevServerConfig contains live-reloading proxy settings
type DevServerConfig struct {
	Port           int           `mapstructure:"port"`
	UIPort         int           `mapstructure:"ui_port"`
	ProxyURL       string        `mapstructure:"proxy_url"`
	OpenBrowser    bool          `mapstructure:"open_browser"`
	Notify         bool          `mapstructure:"notify"`
	ReloadDelay    time.Duration `mapstructure:"reload_delay"`
	ReloadDebounce time.Duration `mapstructure:"reload_debounce"`
	StaticRoute    string        `mapstructure:"static_route"`
}

// WatchConfig contains file watching settings
type WatchConfig struct {
	AggregateTimeout time.Duration `mapstructure:"aggregate_timeout"`
	Ignored          []string      `mapstructure:"ignored"`
}

// PublishConfig contains settings for uploading build output
type PublishConfig struct {
	Provider     string `mapstructure:"provider"` // local or s3
	LocalPath    string `mapstructure:"local_path"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
	S3Endpoint   string `mapstructure:"s3_endpoint"`
	S3AccessKey  string `mapstructure:"s3_access_key"`
	S3SecretKey  string `mapstructure:"s3_secret_key"`
	S3Bucket     string `mapstructure:"s3_bucket"`
	S3Region     string `mapstructure:"s3_region"`
	S3UseSSL     bool   `mapstructure:"s3_use_ssl"`
}

// AnalyzeConfig contains bundle analysis settings
type AnalyzeConfig struct {
	WarnBytes int64 `mapstructure:"warn_bytes"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Environment variables inherited from the webpack and browser-sync setup.
const (
	EnvNodeEnv     = "NODE_ENV"
	EnvProxyURL    = "BS_PROXY_URL"
	EnvOpenBrowser = "BS_OPEN_BROWSER"
)

// Load loads configuration from the config file (configFile, or
// mediapack.yaml in the usual places when empty) and environment variables.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("mediapack")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	// Set defaults
	setDefaults()

	// Enable environment variable support with underscore replacer
	viper.SetEnvPrefix("MEDIAPACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("mode", "MEDIAPACK_MODE", EnvNodeEnv)
	_ = viper.BindEnv("devserver.proxy_url", "MEDIAPACK_DEVSERVER_PROXY_URL", EnvProxyURL)

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.applyEnvOverrides()

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides handles variables that do not parse as viper values.
// Only the literal "false" disables the browser; any other value leaves
// it enabled.
func (c *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv(EnvOpenBrowser); ok {
		c.DevServer.OpenBrowser = v != "false"
	}
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("mode", "development")
	viper.SetDefault("debug", false)

	// Build defaults
	viper.SetDefault("build.root", ".")
	viper.SetDefault("build.manifest", "media/static-bundles.json")
	viper.SetDefault("build.media_dir", "media")
	viper.SetDefault("build.vendor_dir", "node_modules/@mozilla-protocol/core")
	viper.SetDefault("build.vendor_prefix", "protocol/")
	viper.SetDefault("build.output_dir", "assets")
	viper.SetDefault("build.public_path", "/media/")
	viper.SetDefault("build.concurrency", runtime.NumCPU())
	viper.SetDefault("build.precompress", "auto")
	viper.SetDefault("build.target", "esnext")
	viper.SetDefault("build.sass_binary", "")

	// Dev server defaults
	viper.SetDefault("devserver.port", 8000)
	viper.SetDefault("devserver.ui_port", 8001)
	viper.SetDefault("devserver.proxy_url", "localhost:8080")
	viper.SetDefault("devserver.open_browser", true)
	viper.SetDefault("devserver.notify", true)
	viper.SetDefault("devserver.reload_delay", "500ms")
	viper.SetDefault("devserver.reload_debounce", "500ms")
	viper.SetDefault("devserver.static_route", "/media")

	// Watch defaults
	viper.SetDefault("watch.aggregate_timeout", "600ms")
	viper.SetDefault("watch.ignored", []string{"node_modules"})

	// Publish defaults
	viper.SetDefault("publish.provider", "local")
	viper.SetDefault("publish.local_path", "./public/media")
	viper.SetDefault("publish.prefix", "")
	viper.SetDefault("publish.cache_control", "public, max-age=31536000")
	viper.SetDefault("publish.s3_region", "us-east-1")
	viper.SetDefault("publish.s3_use_ssl", true)

	// Analyze defaults
	viper.SetDefault("analyze.warn_bytes", 250*1024)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")
	viper.SetDefault("tracing.service_name", "mediapack")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Build.Validate(); err != nil {
		return fmt.Errorf("build configuration error: %w", err)
	}
	if err := c.DevServer.Validate(); err != nil {
		return fmt.Errorf("devserver configuration error: %w", err)
	}
	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch configuration error: %w", err)
	}
	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish configuration error: %w", err)
	}
	if c.Analyze.WarnBytes < 0 {
		return fmt.Errorf("analyze warn_bytes cannot be negative, got: %d", c.Analyze.WarnBytes)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing configuration error: %w", err)
	}
	return nil
}

// Validate validates build configuration
func (bc *BuildConfig) Validate() error {
	if bc.Manifest == "" {
		return fmt.Errorf("manifest path cannot be empty")
	}
	if bc.MediaDir == "" {
		return fmt.Errorf("media_dir cannot be empty")
	}
	if bc.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}
	if bc.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got: %d", bc.Concurrency)
	}
	switch bc.Precompress {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("precompress must be 'auto', 'always' or 'never', got: %q", bc.Precompress)
	}
	return nil
}

// Validate validates dev server configuration
func (dc *DevServerConfig) Validate() error {
	if dc.Port < 1 || dc.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", dc.Port)
	}
	if dc.UIPort < 1 || dc.UIPort > 65535 {
		return fmt.Errorf("ui_port must be between 1 and 65535, got: %d", dc.UIPort)
	}
	if dc.Port == dc.UIPort {
		return fmt.Errorf("port and ui_port must differ, both are %d", dc.Port)
	}
	if dc.ProxyURL == "" {
		return fmt.Errorf("proxy_url cannot be empty")
	}
	if dc.ReloadDelay < 0 {
		return fmt.Errorf("reload_delay cannot be negative, got: %v", dc.ReloadDelay)
	}
	if dc.ReloadDebounce < 0 {
		return fmt.Errorf("reload_debounce cannot be negative, got: %v", dc.ReloadDebounce)
	}
	if !strings.HasPrefix(dc.StaticRoute, "/") {
		return fmt.Errorf("static_route must start with '/', got: %q", dc.StaticRoute)
	}
	return nil
}

// Validate validates watch configuration
func (wc *WatchConfig) Validate() error {
	if wc.AggregateTimeout < 0 {
		return fmt.Errorf("aggregate_timeout cannot be negative, got: %v", wc.AggregateTimeout)
	}
	return nil
}

// Validate validates publish configuration. Credentials are only checked
// by the publish command, so builds never need them.
func (pc *PublishConfig) Validate() error {
	if pc.Provider != "local" && pc.Provider != "s3" {
		return fmt.Errorf("publish provider must be 'local' or 's3'")
	}
	return nil
}

// ValidateCredentials checks that the configured provider can be reached.
func (pc *PublishConfig) ValidateCredentials() error {
	switch pc.Provider {
	case "local":
		if pc.LocalPath == "" {
			return fmt.Errorf("local_path is required when using the local provider")
		}
	case "s3":
		if pc.S3Endpoint == "" || pc.S3AccessKey == "" ||
			pc.S3SecretKey == "" || pc.S3Bucket == "" {
			return fmt.Errorf("S3 configuration is incomplete")
		}
	}
	return nil
}

// Validate validates tracing configuration
func (tc *TracingConfig) Validate() error {
	if !tc.Enabled {
		return nil
	}
	if tc.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got: %v", tc.SampleRate)
	}
	return nil
}
