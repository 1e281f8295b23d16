package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/i474232898/coverage-heatmap/internal/coverage"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Store.Backend != "memory" {
		t.Errorf("server/store defaults = %+v / %+v", cfg.Server, cfg.Store)
	}
	if !cfg.ReportStart.Equal(time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)) || !cfg.ReportEnd.IsZero() {
		t.Errorf("report window = %s .. %s", cfg.ReportStart, cfg.ReportEnd)
	}
	if len(cfg.Periods) != 2 || cfg.Periods[0] != coverage.Monthly || cfg.Periods[1] != coverage.Weekly {
		t.Errorf("periods = %v", cfg.Periods)
	}
	if cfg.Scheduler.Interval != time.Hour || cfg.Store.MaxReportAge != 168*time.Hour {
		t.Errorf("durations = %s / %s", cfg.Scheduler.Interval, cfg.Store.MaxReportAge)
	}
	if cfg.Kafka.Enabled() {
		t.Error("kafka must be disabled without brokers")
	}
	if cfg.Report.MaxIntervalSpan != 366*24*time.Hour {
		t.Errorf("max interval span = %s, want 366 days", cfg.Report.MaxIntervalSpan)
	}
	if len(cfg.Domains) != 2 {
		t.Errorf("domains = %d, want the two defaults", len(cfg.Domains))
	}
}

func TestLoadFile(t *testing.T) {
	path := writeSettings(t, `
log:
  level: debug
  format: json
report:
  start: 01/06/2019
  end: "2020-12-31"
  periods: [W]
store:
  backend: sqlite
  sqlite_path: /tmp/coverage.db
kafka:
  brokers: ["kafka:9092"]
  topic: submissions
domains:
  - name: ocean
    code: otc
    object_specs: ["http://example.org/otcL0"]
    station_rule:
      prefix_length: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.Log.Format != "json" {
		t.Errorf("log = %v %q", cfg.LogLevel, cfg.Log.Format)
	}
	if !cfg.ReportStart.Equal(time.Date(2019, time.June, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %s", cfg.ReportStart)
	}
	if !cfg.ReportEnd.Equal(time.Date(2020, time.December, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %s", cfg.ReportEnd)
	}
	if len(cfg.Periods) != 1 || cfg.Periods[0] != coverage.Weekly {
		t.Errorf("periods = %v", cfg.Periods)
	}
	if !cfg.Kafka.Enabled() || cfg.Kafka.GroupID != "coverage-heatmap" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if len(cfg.Domains) != 1 || cfg.Domains[0].Code != "otc" || cfg.Domains[0].Rule.PrefixLength != 4 {
		t.Fatalf("domains = %+v", cfg.Domains)
	}
	if len(cfg.Domains[0].ObjectSpecs) != 1 {
		t.Errorf("object specs = %v", cfg.Domains[0].ObjectSpecs)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COVERAGE_SERVER_PORT", "9090")
	t.Setenv("COVERAGE_SCHEDULER_INTERVAL", "30m")
	t.Setenv("COVERAGE_REPORT_PERIODS", "monthly")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Scheduler.Interval != 30*time.Minute {
		t.Errorf("overrides not applied: port=%s interval=%s", cfg.Server.Port, cfg.Scheduler.Interval)
	}
	if len(cfg.Periods) != 1 || cfg.Periods[0] != coverage.Monthly {
		t.Errorf("periods = %v", cfg.Periods)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"bad level":     "log:\n  level: loud\n",
		"bad start":     "report:\n  start: someday\n",
		"end first":     "report:\n  start: 2020-01-01\n  end: 2019-01-01\n",
		"bad period":    "report:\n  periods: [daily]\n",
		"bad backend":   "store:\n  backend: postgres\n",
		"zero interval": "scheduler:\n  interval: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeSettings(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("explicit missing file must fail")
	}
}
