package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/coverage-heatmap/internal/common"
	"github.com/i474232898/coverage-heatmap/internal/coverage"
	"github.com/i474232898/coverage-heatmap/internal/logging"
)

// AppConfig is the resolved service configuration.
type AppConfig struct {
	Server    ServerConfig      `mapstructure:"server"`
	Log       LogConfig         `mapstructure:"log"`
	Report    ReportConfig      `mapstructure:"report"`
	Store     StoreConfig       `mapstructure:"store"`
	Scheduler SchedulerConfig   `mapstructure:"scheduler"`
	Kafka     KafkaConfig       `mapstructure:"kafka"`
	Domains   []coverage.Domain `mapstructure:"domains"`

	// Derived from the raw settings by Load.
	LogLevel    slog.Level      `mapstructure:"-"`
	ReportStart time.Time       `mapstructure:"-"`
	ReportEnd   time.Time       `mapstructure:"-"` // zero = today
	Periods     []coverage.Mode `mapstructure:"-"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// ReportConfig holds the default report window. Dates accept YYYY-MM-DD or
// DD/MM/YYYY; an empty end means "today".
type ReportConfig struct {
	Start           string        `mapstructure:"start"`
	End             string        `mapstructure:"end"`
	Periods         []string      `mapstructure:"periods"`
	Workers         int           `mapstructure:"workers"`
	MaxIntervalSpan time.Duration `mapstructure:"max_interval_span"` // longest interval accepted on ingest
}

type StoreConfig struct {
	Backend      string        `mapstructure:"backend"` // memory or sqlite
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MaxReports   int           `mapstructure:"max_reports"`    // per domain and period (0 = unlimited)
	MaxReportAge time.Duration `mapstructure:"max_report_age"` // 0 = unlimited
}

type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// KafkaConfig enables the submission feed when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	GroupID     string        `mapstructure:"group_id"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// Enabled reports whether the Kafka feed should run.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Load reads settings.yaml (or the file at path, when given), applies
// COVERAGE_* environment overrides and validates the result.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/coverage-heatmap")
	}

	v.SetEnvPrefix("COVERAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("report.start", "2017-01-01")
	v.SetDefault("report.end", "")
	v.SetDefault("report.periods", []string{"monthly", "weekly"})
	v.SetDefault("report.workers", 4)
	v.SetDefault("report.max_interval_span", "8784h")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.sqlite_path", "data/coverage.db")
	v.SetDefault("store.max_reports", 48)
	v.SetDefault("store.max_report_age", "168h")

	v.SetDefault("scheduler.interval", "1h")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "data-object-submissions")
	v.SetDefault("kafka.group_id", "coverage-heatmap")
	v.SetDefault("kafka.poll_timeout", "5s")
}

func (c *AppConfig) resolve() error {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	c.LogLevel = level

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q (allowed: text, json)", c.Log.Format)
	}

	c.ReportStart, err = common.ParseTime(c.Report.Start)
	if err != nil {
		return fmt.Errorf("invalid report.start %q: %w", c.Report.Start, err)
	}
	if strings.TrimSpace(c.Report.End) != "" {
		c.ReportEnd, err = common.ParseTime(c.Report.End)
		if err != nil {
			return fmt.Errorf("invalid report.end %q: %w", c.Report.End, err)
		}
		if c.ReportEnd.Before(c.ReportStart) {
			return fmt.Errorf("report.end %s is before report.start %s", c.Report.End, c.Report.Start)
		}
	}

	c.Periods = c.Periods[:0]
	for _, p := range c.Report.Periods {
		if strings.TrimSpace(p) == "" {
			continue
		}
		mode, err := coverage.ParseMode(p)
		if err != nil {
			return fmt.Errorf("invalid report.periods: %w", err)
		}
		c.Periods = append(c.Periods, mode)
	}
	if len(c.Periods) == 0 {
		return errors.New("report.periods must list at least one of weekly, monthly")
	}
	if c.Report.Workers <= 0 {
		c.Report.Workers = 1
	}
	if c.Report.MaxIntervalSpan < 0 {
		return errors.New("report.max_interval_span must not be negative")
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid store.backend %q (allowed: memory, sqlite)", c.Store.Backend)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("invalid scheduler.interval %s", c.Scheduler.Interval)
	}

	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
	if c.Kafka.Enabled() && strings.TrimSpace(c.Kafka.Topic) == "" {
		return errors.New("kafka.topic must not be empty when brokers are set")
	}

	if len(c.Domains) == 0 {
		c.Domains = coverage.DefaultDomains()
	}
	return nil
}
