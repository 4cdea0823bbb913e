package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration of the sync service
type Config struct {
	Database   Database   `yaml:"database"`
	Data       Data       `yaml:"data"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	Email      Email      `yaml:"email"`
	Server     Server     `yaml:"server"`
	Scheduler  Scheduler  `yaml:"scheduler"`
	Indicators Indicators `yaml:"indicators"`
	Logging    Logging    `yaml:"logging"`
	Debug      bool       `yaml:"debug"`
}

// Database selects the store backend
type Database struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
	Echo   bool   `yaml:"echo"`
}

// Data governs the sync orchestrator's calls to the provider
type Data struct {
	Provider     string  `yaml:"provider"`      // vndirect or alpaca
	BaseURL      string  `yaml:"base_url"`      // provider override, mostly for tests
	RequestDelay float64 `yaml:"request_delay"` // seconds between provider calls
	MaxRetries   int     `yaml:"max_retries"`
	Timeout      float64 `yaml:"timeout"` // seconds per call
	BatchSize    int     `yaml:"batch_size"`
	DaysBack     int     `yaml:"days_back"` // window of the daily data sync
}

// Alpaca holds credentials and endpoints for the Alpaca APIs
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Email configures report delivery
type Email struct {
	SMTPServer     string   `yaml:"smtp_server"`
	SMTPPort       int      `yaml:"smtp_port"`
	SenderEmail    string   `yaml:"sender_email"`
	SenderPassword string   `yaml:"sender_password"`
	Recipients     []string `yaml:"recipients"`
	LogOnly        bool     `yaml:"log_only"` // log reports instead of mailing them
}

// Configured reports whether every credential needed to send mail is present
func (e Email) Configured() bool {
	return e.SenderEmail != "" && e.SenderPassword != "" && len(e.Recipients) > 0
}

// Server configures the status HTTP server
type Server struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// Scheduler configures the dispatch loop
type Scheduler struct {
	Timezone     string  `yaml:"timezone"`
	TickInterval float64 `yaml:"tick_interval"` // seconds
	StopTimeout  float64 `yaml:"stop_timeout"`  // seconds
}

// Indicators configures indicator recomputation
type Indicators struct {
	DaysBack       int `yaml:"days_back"`
	LookbackMargin int `yaml:"lookback_margin"` // bars loaded beyond the longest warm-up
}

// Logging configures the logger and log retention
type Logging struct {
	Level         string `yaml:"level"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Database: Database{
			Driver: "sqlite",
			DSN:    "database.db",
		},
		Data: Data{
			Provider:     "vndirect",
			RequestDelay: 1.0,
			MaxRetries:   3,
			Timeout:      30,
			BatchSize:    100,
			DaysBack:     5,
		},
		Email: Email{
			SMTPServer: "smtp.gmail.com",
			SMTPPort:   587,
		},
		Server: Server{
			Enabled: true,
			Port:    "8080",
		},
		Scheduler: Scheduler{
			Timezone:     "Asia/Ho_Chi_Minh",
			TickInterval: 1,
			StopTimeout:  5,
		},
		Indicators: Indicators{
			DaysBack:       5,
			LookbackMargin: 30,
		},
		Logging: Logging{
			Level:         "info",
			Dir:           "logs",
			RetentionDays: 30,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		driver, dsn := parseDatabaseURL(v)
		cfg.Database.Driver = driver
		cfg.Database.DSN = dsn
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}

	var errs []error
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setBool("DATABASE_ECHO", &cfg.Database.Echo)

	setString("DATA_PROVIDER", &cfg.Data.Provider)
	setString("DATA_BASE_URL", &cfg.Data.BaseURL)
	setFloat("REQUEST_DELAY", &cfg.Data.RequestDelay)
	setInt("MAX_RETRIES", &cfg.Data.MaxRetries)
	setFloat("TIMEOUT", &cfg.Data.Timeout)
	setInt("BATCH_SIZE", &cfg.Data.BatchSize)

	setString("ALPACA_API_KEY", &cfg.Alpaca.APIKey)
	setString("ALPACA_API_SECRET", &cfg.Alpaca.APISecret)
	setString("ALPACA_BASE_URL", &cfg.Alpaca.BaseURL)
	setString("ALPACA_DATA_URL", &cfg.Alpaca.DataURL)

	setString("SMTP_SERVER", &cfg.Email.SMTPServer)
	setInt("SMTP_PORT", &cfg.Email.SMTPPort)
	setString("SENDER_EMAIL", &cfg.Email.SenderEmail)
	setString("SENDER_PASSWORD", &cfg.Email.SenderPassword)
	setBool("REPORT_LOG_ONLY", &cfg.Email.LogOnly)
	if v := os.Getenv("EMAIL_RECIPIENTS"); v != "" {
		cfg.Email.Recipients = splitList(v)
	}

	setString("PORT", &cfg.Server.Port)
	setString("TIMEZONE", &cfg.Scheduler.Timezone)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_DIR", &cfg.Logging.Dir)
	setBool("DEBUG", &cfg.Debug)

	return errors.Join(errs...)
}

// parseDatabaseURL maps a SQLAlchemy-style URL onto a gorm driver and DSN
func parseDatabaseURL(raw string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(raw, "sqlite:///"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite:///")
	case strings.HasPrefix(raw, "sqlite://"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite://")
	default:
		return "postgres", raw
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch c.Data.Provider {
	case "vndirect", "alpaca":
	default:
		errs = append(errs, fmt.Errorf("data.provider must be vndirect or alpaca, got %q", c.Data.Provider))
	}
	if c.Data.RequestDelay < 0 {
		errs = append(errs, errors.New("data.request_delay must not be negative"))
	}
	if c.Data.MaxRetries < 0 {
		errs = append(errs, errors.New("data.max_retries must not be negative"))
	}
	if c.Data.Timeout <= 0 {
		errs = append(errs, errors.New("data.timeout must be positive"))
	}
	if c.Data.BatchSize <= 0 {
		errs = append(errs, errors.New("data.batch_size must be positive"))
	}
	if c.Data.DaysBack <= 0 {
		errs = append(errs, errors.New("data.days_back must be positive"))
	}

	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, errors.New("scheduler.tick_interval must be positive"))
	}
	if c.Scheduler.StopTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.stop_timeout must be positive"))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}

	if c.Indicators.DaysBack <= 0 {
		errs = append(errs, errors.New("indicators.days_back must be positive"))
	}
	if c.Indicators.LookbackMargin < 0 {
		errs = append(errs, errors.New("indicators.lookback_margin must not be negative"))
	}

	return errors.Join(errs...)
}

// Location returns the market timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RequestDelayDuration returns the spacing between provider calls
func (d Data) RequestDelayDuration() time.Duration {
	return seconds(d.RequestDelay)
}

// TimeoutDuration returns the per-call provider timeout
func (d Data) TimeoutDuration() time.Duration {
	return seconds(d.Timeout)
}

// TickDuration returns the dispatch loop's maximum sleep
func (s Scheduler) TickDuration() time.Duration {
	return seconds(s.TickInterval)
}

// StopDuration returns how long Stop waits for the loop
func (s Scheduler) StopDuration() time.Duration {
	return seconds(s.StopTimeout)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
