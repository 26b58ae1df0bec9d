package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const AppName = "price-scraper"

var ErrConfigNotFound = errors.New("configuration file not found")

// Config is built from defaults, then an optional YAML file, then the
// environment. Later sources win.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Browser  BrowserConfig  `yaml:"browser"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`

	// File is the YAML file that was applied, if any.
	File string `yaml:"-"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

type ScraperConfig struct {
	BaseURL           string        `yaml:"baseURL"`
	Category          string        `yaml:"category"`
	Session           string        `yaml:"session"`
	MaxCards          int           `yaml:"maxCards"`
	ReadyMarker       string        `yaml:"readyMarker"`
	ReadyTimeout      time.Duration `yaml:"readyTimeout"`
	RateLimitMin      time.Duration `yaml:"rateLimitMin"`
	RateLimitMax      time.Duration `yaml:"rateLimitMax"`
	MaxRetries        int           `yaml:"maxRetries"`
	FailedBatchPolicy string        `yaml:"failedBatchPolicy"`
	TriageDir         string        `yaml:"triageDir"`
	UserAgent         string        `yaml:"userAgent"`
	FetchTimeout      time.Duration `yaml:"fetchTimeout"`
}

type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	Timeout        time.Duration `yaml:"timeout"`
	WSEndpoint     string        `yaml:"wsEndpoint"`
	ConnectRetries int           `yaml:"connectRetries"`
	ConnectDelay   time.Duration `yaml:"connectDelay"`
	ViewportWidth  int           `yaml:"viewportWidth"`
	ViewportHeight int           `yaml:"viewportHeight"`
	AcceptLanguage string        `yaml:"acceptLanguage"`
	TimezoneID     string        `yaml:"timezone"`
	Locale         string        `yaml:"locale"`
	ProxyServer    string        `yaml:"proxy"`
}

type DatabaseConfig struct {
	// ConnectionString selects the sink: postgres://, sqlite:// or file:.
	// Empty disables persistence.
	ConnectionString string `yaml:"connectionString"`
	Table            string `yaml:"table"`
	MaxConns         int32  `yaml:"maxConns"`
}

type RedisConfig struct {
	// Addr enables the outbox relay when set.
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Stream       string        `yaml:"stream"`
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:*", "https://localhost:*"},
		},
		Scraper: ScraperConfig{
			BaseURL:           "https://www.kabum.com.br",
			Category:          "hardware/placas-de-video-vga",
			Session:           "browser",
			MaxCards:          16,
			ReadyMarker:       "R$",
			ReadyTimeout:      20 * time.Second,
			RateLimitMin:      5 * time.Second,
			RateLimitMax:      15 * time.Second,
			MaxRetries:        2,
			FailedBatchPolicy: "discard",
			TriageDir:         filepath.Join(xdg.DataHome, AppName, "triage"),
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			FetchTimeout:      30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        30 * time.Second,
			ConnectRetries: 10,
			ConnectDelay:   3 * time.Second,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			AcceptLanguage: "pt-BR,pt;q=0.9,en;q=0.8",
			TimezoneID:     "America/Sao_Paulo",
			Locale:         "pt-BR",
		},
		Database: DatabaseConfig{
			Table:    "precos_placas_video",
			MaxConns: 5,
		},
		Redis: RedisConfig{
			Stream:       "stream:price_batches",
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// CONFIG_FILE is used, then the XDG config location. Only an explicitly
// named file must exist.
func Load(path string) (*Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_FILE")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultFilePath()
	}

	err := cfg.applyFile(path)
	switch {
	case err == nil:
		cfg.File = path
	case errors.Is(err, ErrConfigNotFound) && !explicit:
	default:
		return nil, err
	}

	cfg.applyEnv()

	return cfg, nil
}

// DefaultFilePath is $XDG_CONFIG_HOME/price-scraper/config.yaml.
func DefaultFilePath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getIntOrDefault("SERVER_PORT", c.Server.Port)
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.ReadTimeout = getDurationOrDefault("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationOrDefault("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Scraper.BaseURL = getEnvOrDefault("SCRAPER_BASE_URL", c.Scraper.BaseURL)
	c.Scraper.Category = getEnvOrDefault("SCRAPER_CATEGORY", c.Scraper.Category)
	c.Scraper.Session = getEnvOrDefault("SCRAPER_SESSION", c.Scraper.Session)
	c.Scraper.MaxCards = getIntOrDefault("SCRAPER_MAX_CARDS", c.Scraper.MaxCards)
	c.Scraper.ReadyMarker = getEnvOrDefault("SCRAPER_READY_MARKER", c.Scraper.ReadyMarker)
	c.Scraper.ReadyTimeout = getDurationOrDefault("SCRAPER_READY_TIMEOUT", c.Scraper.ReadyTimeout)
	c.Scraper.RateLimitMin = getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", c.Scraper.RateLimitMin)
	c.Scraper.RateLimitMax = getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", c.Scraper.RateLimitMax)
	c.Scraper.MaxRetries = getIntOrDefault("SCRAPER_MAX_RETRIES", c.Scraper.MaxRetries)
	c.Scraper.FailedBatchPolicy = getEnvOrDefault("FAILED_BATCH_POLICY", c.Scraper.FailedBatchPolicy)
	c.Scraper.TriageDir = getEnvOrDefault("TRIAGE_DIR", c.Scraper.TriageDir)
	c.Scraper.UserAgent = getEnvOrDefault("SCRAPER_USER_AGENT", c.Scraper.UserAgent)
	c.Scraper.FetchTimeout = getDurationOrDefault("SCRAPER_FETCH_TIMEOUT", c.Scraper.FetchTimeout)

	c.Browser.Headless = getBoolOrDefault("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.Timeout = getDurationOrDefault("BROWSER_TIMEOUT", c.Browser.Timeout)
	c.Browser.WSEndpoint = getEnvOrDefault("BROWSER_WS_ENDPOINT", c.Browser.WSEndpoint)
	c.Browser.ConnectRetries = getIntOrDefault("BROWSER_CONNECT_RETRIES", c.Browser.ConnectRetries)
	c.Browser.ConnectDelay = getDurationOrDefault("BROWSER_CONNECT_DELAY", c.Browser.ConnectDelay)
	c.Browser.ViewportWidth = getIntOrDefault("BROWSER_VIEWPORT_WIDTH", c.Browser.ViewportWidth)
	c.Browser.ViewportHeight = getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", c.Browser.ViewportHeight)
	c.Browser.AcceptLanguage = getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", c.Browser.AcceptLanguage)
	c.Browser.TimezoneID = getEnvOrDefault("BROWSER_TIMEZONE", c.Browser.TimezoneID)
	c.Browser.Locale = getEnvOrDefault("BROWSER_LOCALE", c.Browser.Locale)
	c.Browser.ProxyServer = getEnvOrDefault("BROWSER_PROXY", c.Browser.ProxyServer)

	c.Database.ConnectionString = getEnvOrDefault("DB_CONNECTION_STRING", c.Database.ConnectionString)
	c.Database.Table = getEnvOrDefault("DB_TABLE", c.Database.Table)
	c.Database.MaxConns = int32(getIntOrDefault("DB_MAX_CONNS", int(c.Database.MaxConns)))

	c.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntOrDefault("REDIS_DB", c.Redis.DB)
	c.Redis.Stream = getEnvOrDefault("REDIS_STREAM", c.Redis.Stream)
	c.Redis.PollInterval = getDurationOrDefault("REDIS_POLL_INTERVAL", c.Redis.PollInterval)
	c.Redis.BatchSize = getIntOrDefault("REDIS_BATCH_SIZE", c.Redis.BatchSize)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Scraper.BaseURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("SCRAPER_BASE_URL must be an absolute http(s) URL, got %q", c.Scraper.BaseURL)
	}

	if c.Scraper.Session != "browser" && c.Scraper.Session != "static" {
		return fmt.Errorf("SCRAPER_SESSION must be browser or static, got %q", c.Scraper.Session)
	}

	if c.Scraper.MaxCards < 1 {
		return fmt.Errorf("SCRAPER_MAX_CARDS must be at least 1")
	}

	if c.Scraper.ReadyTimeout <= 0 {
		return fmt.Errorf("SCRAPER_READY_TIMEOUT must be positive")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES cannot be negative")
	}

	switch c.Scraper.FailedBatchPolicy {
	case "discard":
	case "triage":
		if c.Scraper.TriageDir == "" {
			return fmt.Errorf("TRIAGE_DIR is required when FAILED_BATCH_POLICY is triage")
		}
	default:
		return fmt.Errorf("FAILED_BATCH_POLICY must be discard or triage, got %q", c.Scraper.FailedBatchPolicy)
	}

	if c.Browser.ConnectRetries < 1 {
		return fmt.Errorf("BROWSER_CONNECT_RETRIES must be at least 1")
	}

	if c.Database.Table == "" {
		return fmt.Errorf("DB_TABLE cannot be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
