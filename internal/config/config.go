package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address          string `yaml:"address"`
		ShutdownTimeoutS int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Database DatabaseConfig `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	RabbitMQ struct {
		URL   string `yaml:"url"`
		Queue string `yaml:"queue"`
	} `yaml:"rabbitmq"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console or json
	} `yaml:"log"`

	RateLimit struct {
		Enabled bool    `yaml:"enabled"`
		Rate    float64 `yaml:"rate"` // requests per second per client
		Burst   int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Calendar CalendarConfig `yaml:"calendar"`
	Booking  BookingConfig  `yaml:"booking"`

	TablesConfigPath string `yaml:"tables_config_path"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`

	MaxOpenConns     int `yaml:"max_open_conns"`
	MaxIdleConns     int `yaml:"max_idle_conns"`
	ConnMaxLifetimeM int `yaml:"conn_max_lifetime_minutes"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// HoursConfig is one day's opening hours. Closed wins over Open/Close.
type HoursConfig struct {
	Open   string `yaml:"open"`  // "17:00"
	Close  string `yaml:"close"` // "23:00"
	Closed bool   `yaml:"closed"`
}

// OverrideConfig replaces the weekly hours on one date.
type OverrideConfig struct {
	Date string `yaml:"date"` // "2024-12-25"
	Name string `yaml:"name"`
	HoursConfig `yaml:",inline"`
}

type CalendarConfig struct {
	Timezone    string                 `yaml:"timezone"`
	WeeklyHours map[string]HoursConfig `yaml:"weekly_hours"` // keyed by lower-case weekday
	Overrides   []OverrideConfig       `yaml:"overrides"`
}

type BookingConfig struct {
	DurationMinutes    int    `yaml:"duration_minutes"`
	GranularityMinutes int    `yaml:"granularity_minutes"`
	Policy             string `yaml:"policy"` // random, smallest_first, most_recently_idle
	MaxPartySize       int    `yaml:"max_party_size"`
	LockTimeoutMS      int    `yaml:"lock_timeout_ms"`
	TxTimeoutMS        int    `yaml:"tx_timeout_ms"`
	SlotCacheTTLS      int    `yaml:"slot_cache_ttl_seconds"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":5000"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/fusse.db"
	}
	if c.RabbitMQ.Queue == "" {
		c.RabbitMQ.Queue = "reservation.events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.RateLimit.Rate <= 0 {
		c.RateLimit.Rate = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = "America/New_York"
	}
	if c.Booking.Policy == "" {
		c.Booking.Policy = "random"
	}
	if c.TablesConfigPath == "" {
		c.TablesConfigPath = "configs/tables.yaml"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}

	if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
		return fmt.Errorf("calendar.timezone: %w", err)
	}

	for day, h := range c.Calendar.WeeklyHours {
		if _, ok := weekdays[strings.ToLower(day)]; !ok {
			return fmt.Errorf("calendar.weekly_hours: unknown day %q", day)
		}
		if err := validateHours(h, "calendar.weekly_hours."+day); err != nil {
			return err
		}
	}

	for i, o := range c.Calendar.Overrides {
		prefix := fmt.Sprintf("calendar.overrides[%d]", i)
		if _, err := time.Parse("2006-01-02", o.Date); err != nil {
			return fmt.Errorf("%s: invalid date format '%s', expected YYYY-MM-DD", prefix, o.Date)
		}
		if err := validateHours(o.HoursConfig, prefix); err != nil {
			return err
		}
	}

	if c.Booking.DurationMinutes < 0 || c.Booking.GranularityMinutes < 0 {
		return fmt.Errorf("booking: duration and granularity must not be negative")
	}
	if c.Booking.DurationMinutes >= 24*60 {
		return fmt.Errorf("booking.duration_minutes must be less than 1440")
	}
	if c.Booking.MaxPartySize < 0 {
		return fmt.Errorf("booking.max_party_size must not be negative")
	}

	return nil
}

func validateHours(h HoursConfig, prefix string) error {
	if h.Closed {
		return nil
	}
	open, err := ParseClock(h.Open)
	if err != nil {
		return fmt.Errorf("%s.open: %w", prefix, err)
	}
	closing, err := ParseClock(h.Close)
	if err != nil {
		return fmt.Errorf("%s.close: %w", prefix, err)
	}
	if closing <= open {
		return fmt.Errorf("%s: close must be after open", prefix)
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Weekday maps a weekly_hours key to time.Weekday.
func Weekday(name string) (time.Weekday, bool) {
	d, ok := weekdays[strings.ToLower(name)]
	return d, ok
}

// ParseClock parses "HH:MM" into an offset from midnight. "24:00" is allowed.
func ParseClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid format '%s', expected HH:MM", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("out of range '%s'", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// Location returns the restaurant time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) BookingDuration() time.Duration {
	if c.Booking.DurationMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.Booking.DurationMinutes) * time.Minute
}

func (c *Config) SlotGranularity() time.Duration {
	if c.Booking.GranularityMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.GranularityMinutes) * time.Minute
}

func (c *Config) LockTimeout() time.Duration {
	if c.Booking.LockTimeoutMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Booking.LockTimeoutMS) * time.Millisecond
}

func (c *Config) TxTimeout() time.Duration {
	if c.Booking.TxTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Booking.TxTimeoutMS) * time.Millisecond
}

func (c *Config) SlotCacheTTL() time.Duration {
	if c.Booking.SlotCacheTTLS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Booking.SlotCacheTTLS) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutS) * time.Second
}
