package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Browser    BrowserConfig    `yaml:"browser"`
	Portal     PortalConfig     `yaml:"portal"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	Timeout        time.Duration `yaml:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	Locale         string        `yaml:"locale"`
	TimezoneID     string        `yaml:"timezone"`
}

// PortalConfig describes the order portal: where to log in and which selectors drive it.
type PortalConfig struct {
	BaseURL         string `yaml:"base_url"`
	LoginPath       string `yaml:"login_path"`
	LogoutPath      string `yaml:"logout_path"`
	OrdersPath      string `yaml:"orders_path"`
	EnrichmentPath  string `yaml:"enrichment_path"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	CredentialsFile string `yaml:"credentials_file"`

	UsernameSelector string `yaml:"username_selector"`
	PasswordSelector string `yaml:"password_selector"`
	SubmitSelector   string `yaml:"submit_selector"`
	DateFromSelector string `yaml:"date_from_selector"`
	DateToSelector   string `yaml:"date_to_selector"`
	ChannelSelector  string `yaml:"channel_selector"`
	LimitSelector    string `yaml:"limit_selector"`
	ApplySelector    string `yaml:"apply_selector"`
	TableSelector    string `yaml:"table_selector"`
	ExportButtonText string `yaml:"export_button_text"`
}

type ExtractionConfig struct {
	DateFrom      string        `yaml:"date_from"`
	DateTo        string        `yaml:"date_to"`
	Channel       string        `yaml:"channel"`
	DisplayLimit  int           `yaml:"display_limit"`
	TargetRecords int           `yaml:"target_records"`
	Pages         int           `yaml:"pages"`
	BatchSize     int           `yaml:"batch_size"`
	BatchDelay    time.Duration `yaml:"batch_delay"`
	PageDelay     time.Duration `yaml:"page_delay"`
	PageTimeout   time.Duration `yaml:"page_timeout"`
	APITimeout    time.Duration `yaml:"api_timeout"`
	UITimeout     time.Duration `yaml:"ui_timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	CacheSize     int           `yaml:"cache_size"`
	OutputDir     string        `yaml:"output_dir"`
	FilePrefix    string        `yaml:"file_prefix"`
	DisableUIPath bool          `yaml:"disable_ui_fallback"`
}

// DatabaseConfig is optional: an empty Host disables the Postgres sink.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	MaxConns int32  `yaml:"max_conns"`
}

func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// RedisConfig is optional: an empty Addr disables the outbox relay.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Stream       string        `yaml:"stream"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when neither a file nor the environment says otherwise.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8085,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:*", "https://localhost:*"},
		},
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        30 * time.Second,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			Locale:         "vi-VN",
			TimezoneID:     "Asia/Ho_Chi_Minh",
		},
		Portal: PortalConfig{
			LoginPath:        "/login",
			LogoutPath:       "/logout",
			OrdersPath:       "/so",
			EnrichmentPath:   "/so/invoiceJSON",
			UsernameSelector: "input[name='username']",
			PasswordSelector: "input[name='password']",
			SubmitSelector:   "button[type='submit']",
			DateFromSelector: "input[name='from_date']",
			DateToSelector:   "input[name='to_date']",
			ChannelSelector:  "select[name='channel']",
			LimitSelector:    "select[name='limit']",
			ApplySelector:    "button#btnFilter",
			TableSelector:    "#orderTB",
			ExportButtonText: "Lấy JSON",
		},
		Extraction: ExtractionConfig{
			Channel:       "ecom",
			DisplayLimit:  2000,
			TargetRecords: 23452,
			Pages:         12,
			BatchSize:     50,
			BatchDelay:    500 * time.Millisecond,
			PageDelay:     5 * time.Second,
			PageTimeout:   10 * time.Minute,
			APITimeout:    15 * time.Second,
			UITimeout:     3 * time.Second,
			SettleDelay:   5 * time.Second,
			CacheSize:     10000,
			OutputDir:     "data",
			FilePrefix:    "orders",
		},
		Database: DatabaseConfig{
			Port:     5432,
			User:     "postgres",
			Name:     "order_extractor",
			MaxConns: 5,
		},
		Redis: RedisConfig{
			Stream:       "stream:order_extraction",
			PollInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the optional YAML file at path,
// then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.loadCredentials(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getIntOrDefault("SERVER_PORT", c.Server.Port)
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.ReadTimeout = getDurationOrDefault("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationOrDefault("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Browser.Headless = getBoolOrDefault("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.Timeout = getDurationOrDefault("BROWSER_TIMEOUT", c.Browser.Timeout)
	c.Browser.ViewportWidth = getIntOrDefault("BROWSER_VIEWPORT_WIDTH", c.Browser.ViewportWidth)
	c.Browser.ViewportHeight = getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", c.Browser.ViewportHeight)
	c.Browser.Locale = getEnvOrDefault("BROWSER_LOCALE", c.Browser.Locale)
	c.Browser.TimezoneID = getEnvOrDefault("BROWSER_TIMEZONE", c.Browser.TimezoneID)

	c.Portal.BaseURL = getEnvOrDefault("PORTAL_BASE_URL", c.Portal.BaseURL)
	c.Portal.LoginPath = getEnvOrDefault("PORTAL_LOGIN_PATH", c.Portal.LoginPath)
	c.Portal.LogoutPath = getEnvOrDefault("PORTAL_LOGOUT_PATH", c.Portal.LogoutPath)
	c.Portal.OrdersPath = getEnvOrDefault("PORTAL_ORDERS_PATH", c.Portal.OrdersPath)
	c.Portal.EnrichmentPath = getEnvOrDefault("PORTAL_ENRICHMENT_PATH", c.Portal.EnrichmentPath)
	c.Portal.Username = getEnvOrDefault("PORTAL_USERNAME", c.Portal.Username)
	c.Portal.Password = getEnvOrDefault("PORTAL_PASSWORD", c.Portal.Password)
	c.Portal.CredentialsFile = getEnvOrDefault("PORTAL_CREDENTIALS_FILE", c.Portal.CredentialsFile)
	c.Portal.TableSelector = getEnvOrDefault("PORTAL_TABLE_SELECTOR", c.Portal.TableSelector)

	c.Extraction.DateFrom = getEnvOrDefault("EXTRACT_DATE_FROM", c.Extraction.DateFrom)
	c.Extraction.DateTo = getEnvOrDefault("EXTRACT_DATE_TO", c.Extraction.DateTo)
	c.Extraction.Channel = getEnvOrDefault("EXTRACT_CHANNEL", c.Extraction.Channel)
	c.Extraction.DisplayLimit = getIntOrDefault("EXTRACT_DISPLAY_LIMIT", c.Extraction.DisplayLimit)
	c.Extraction.TargetRecords = getIntOrDefault("EXTRACT_TARGET_RECORDS", c.Extraction.TargetRecords)
	c.Extraction.Pages = getIntOrDefault("EXTRACT_PAGES", c.Extraction.Pages)
	c.Extraction.BatchSize = getIntOrDefault("EXTRACT_BATCH_SIZE", c.Extraction.BatchSize)
	c.Extraction.BatchDelay = getDurationOrDefault("EXTRACT_BATCH_DELAY", c.Extraction.BatchDelay)
	c.Extraction.PageDelay = getDurationOrDefault("EXTRACT_PAGE_DELAY", c.Extraction.PageDelay)
	c.Extraction.PageTimeout = getDurationOrDefault("EXTRACT_PAGE_TIMEOUT", c.Extraction.PageTimeout)
	c.Extraction.APITimeout = getDurationOrDefault("EXTRACT_API_TIMEOUT", c.Extraction.APITimeout)
	c.Extraction.UITimeout = getDurationOrDefault("EXTRACT_UI_TIMEOUT", c.Extraction.UITimeout)
	c.Extraction.SettleDelay = getDurationOrDefault("EXTRACT_SETTLE_DELAY", c.Extraction.SettleDelay)
	c.Extraction.CacheSize = getIntOrDefault("EXTRACT_CACHE_SIZE", c.Extraction.CacheSize)
	c.Extraction.OutputDir = getEnvOrDefault("EXTRACT_OUTPUT_DIR", c.Extraction.OutputDir)
	c.Extraction.FilePrefix = getEnvOrDefault("EXTRACT_FILE_PREFIX", c.Extraction.FilePrefix)
	c.Extraction.DisableUIPath = getBoolOrDefault("EXTRACT_DISABLE_UI_FALLBACK", c.Extraction.DisableUIPath)

	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getIntOrDefault("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnvOrDefault("DB_NAME", c.Database.Name)
	c.Database.MaxConns = int32(getIntOrDefault("DB_MAX_CONNS", int(c.Database.MaxConns)))

	c.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntOrDefault("REDIS_DB", c.Redis.DB)
	c.Redis.Stream = getEnvOrDefault("REDIS_STREAM", c.Redis.Stream)
	c.Redis.PollInterval = getDurationOrDefault("REDIS_POLL_INTERVAL", c.Redis.PollInterval)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
}

// credentials is the shape of PORTAL_CREDENTIALS_FILE (JSON).
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Config) loadCredentials() error {
	if c.Portal.CredentialsFile == "" || (c.Portal.Username != "" && c.Portal.Password != "") {
		return nil
	}

	data, err := os.ReadFile(c.Portal.CredentialsFile)
	if err != nil {
		// A missing file is reported when the first session is opened, not here.
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	if c.Portal.Username == "" {
		c.Portal.Username = creds.Username
	}
	if c.Portal.Password == "" {
		c.Portal.Password = creds.Password
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Extraction.Pages < 1 {
		return fmt.Errorf("EXTRACT_PAGES must be at least 1")
	}

	if c.Extraction.BatchSize < 1 {
		return fmt.Errorf("EXTRACT_BATCH_SIZE must be at least 1")
	}

	if c.Extraction.TargetRecords < 1 {
		return fmt.Errorf("EXTRACT_TARGET_RECORDS must be at least 1")
	}

	if c.Extraction.BatchDelay < 0 || c.Extraction.PageDelay < 0 {
		return fmt.Errorf("delays cannot be negative")
	}

	if c.Extraction.CacheSize < 0 {
		return fmt.Errorf("EXTRACT_CACHE_SIZE cannot be negative")
	}

	if c.Extraction.OutputDir == "" {
		return fmt.Errorf("EXTRACT_OUTPUT_DIR is required")
	}

	if c.Extraction.DateFrom != "" && c.Extraction.DateTo != "" {
		from, err := time.Parse("2006-01-02", c.Extraction.DateFrom)
		if err != nil {
			return fmt.Errorf("invalid EXTRACT_DATE_FROM: %w", err)
		}
		to, err := time.Parse("2006-01-02", c.Extraction.DateTo)
		if err != nil {
			return fmt.Errorf("invalid EXTRACT_DATE_TO: %w", err)
		}
		if to.Before(from) {
			return fmt.Errorf("EXTRACT_DATE_TO cannot be before EXTRACT_DATE_FROM")
		}
	}

	if c.Redis.Enabled() && !c.Database.Enabled() {
		return fmt.Errorf("REDIS_ADDR requires DB_HOST: the relay reads the postgres outbox")
	}

	return nil
}

// DateRange renders the configured range for file metadata.
func (e ExtractionConfig) DateRange() string {
	if e.DateFrom == "" && e.DateTo == "" {
		return ""
	}
	return e.DateFrom + " - " + e.DateTo
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
