// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Serial    SerialConfig    `mapstructure:"serial"`
	TCP       TCPConfig       `mapstructure:"tcp"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	App       AppConfig       `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration. History falls back to
// memory when Enabled is false.
type DatabaseConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DiscoveryConfig controls port enumeration and probing
type DiscoveryConfig struct {
	DefaultBaudRate int           `mapstructure:"default_baud_rate"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	// MaxConcurrency caps simultaneous probes; 0 probes every port at once
	MaxConcurrency int      `mapstructure:"max_concurrency"`
	PortPatterns   []string `mapstructure:"port_patterns"`
	// ReadInterval bounds each blocking read so a probe notices its deadline
	ReadInterval     time.Duration `mapstructure:"read_interval"`
	USBEnrichment    bool          `mapstructure:"usb_enrichment"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

// SerialConfig holds line settings used when a request leaves them unset
type SerialConfig struct {
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// TCPConfig configures tcp:// serial bridges
type TCPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load reads config.yaml from the given directories (the working directory
// when none are given), then applies NODE_SERVICE_* environment overrides.
// A missing config file is not an error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("NODE_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "node_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")

	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Discovery defaults
	v.SetDefault("discovery.default_baud_rate", 9600)
	v.SetDefault("discovery.default_timeout", "2s")
	v.SetDefault("discovery.max_concurrency", 0)
	v.SetDefault("discovery.port_patterns", []string{})
	v.SetDefault("discovery.read_interval", "50ms")
	v.SetDefault("discovery.usb_enrichment", true)
	v.SetDefault("discovery.history_limit", 50)
	v.SetDefault("discovery.history_retention", "168h")
	v.SetDefault("discovery.cleanup_interval", "1h")

	// Serial line defaults
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")

	v.SetDefault("tcp.connect_timeout", "5s")
	v.SetDefault("tcp.keep_alive", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "node_service")

	// App defaults
	v.SetDefault("app.name", "node-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when the database is enabled")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !slices.Contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.Discovery.DefaultBaudRate <= 0 {
		return fmt.Errorf("discovery.default_baud_rate must be positive")
	}
	if config.Discovery.DefaultTimeout < 0 {
		return fmt.Errorf("discovery.default_timeout must not be negative")
	}
	if config.Discovery.MaxConcurrency < 0 {
		return fmt.Errorf("discovery.max_concurrency must not be negative")
	}
	if config.Discovery.ReadInterval <= 0 {
		return fmt.Errorf("discovery.read_interval must be positive")
	}

	validParity := []string{"none", "odd", "even", "mark", "space"}
	if !slices.Contains(validParity, config.Serial.Parity) {
		return fmt.Errorf("serial.parity must be one of: %v", validParity)
	}

	return nil
}

// DSN returns the lib/pq connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}
