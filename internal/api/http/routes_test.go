package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/coverage-heatmap/internal/coverage"
	"github.com/i474232898/coverage-heatmap/internal/logging"
	"github.com/i474232898/coverage-heatmap/internal/metrics"
	"github.com/i474232898/coverage-heatmap/internal/store"
)

func newTestApp(t *testing.T) (*fiber.App, *coverage.Service) {
	t.Helper()

	reg, err := coverage.NewRegistry(coverage.DefaultDomains())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	memStore := store.NewMemoryStore(10, time.Hour)
	svc := coverage.NewService(reg, memStore, memStore, coverage.Options{
		DefaultStart: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		DefaultEnd:   time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC),
		Workers:      2,
	}, nil, logging.Discard())

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(Metrics(metrics.New()))
	RegisterRoutes(app, svc)
	return app, svc
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response of %s %s: %v", method, target, err)
	}
	return resp.StatusCode, out
}

const threeFullDays = `{"records":[
	{"fileName":"HTM_2020-01-01.dat","timeStart":"2020-01-01T00:00:00Z","timeEnd":"2020-01-02T00:00:00Z"},
	{"fileName":"HTM_2020-01-02.dat","timeStart":"2020-01-02T00:00:00Z","timeEnd":"2020-01-03T00:00:00Z"},
	{"fileName":"HTM_2020-01-03.dat","timeStart":"2020-01-03T00:00:00Z","timeEnd":"2020-01-04T00:00:00Z"},
	{"station":"PAL","timeStart":"2019-06-01","timeEnd":"2019-06-02"}
]}`

func TestIngestAndCoverage(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := do(t, app, http.MethodPost, "/api/v1/domains/atmosphere/intervals", threeFullDays)
	if status != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d (%v)", http.StatusAccepted, status, body)
	}
	if body["stored"].(float64) != 4 {
		t.Fatalf("stored = %v, want 4", body["stored"])
	}

	status, body = do(t, app, http.MethodGet, "/api/v1/domains/atc/stations", "")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
	if got := body["stations"].([]any); len(got) != 2 {
		t.Fatalf("stations = %v, want HTM and PAL", got)
	}

	status, body = do(t, app, http.MethodGet, "/api/v1/coverage?domain=atmosphere&start=2020-01-01&end=31/01/2020&period=monthly&view=matrix", "")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%v)", http.StatusOK, status, body)
	}
	matrix := body["matrix"].(map[string]any)
	if v := matrix["HTM"].(map[string]any)["01-20"]; v != 100.0 {
		t.Errorf("HTM 01-20 = %v, want 100", v)
	}
	if v := matrix["PAL"].(map[string]any)["01-20"]; v != nil {
		t.Errorf("PAL 01-20 = %v, want null", v)
	}
	labels := body["labels"].(map[string]any)
	if labels["HTM"] != "  100.0 %" || labels["PAL"] != "  No Data" {
		t.Errorf("labels = %v", labels)
	}
	if body["periodLabel"] != "01/2020 - 01/2020" {
		t.Errorf("periodLabel = %v", body["periodLabel"])
	}
}

func TestIngestValidation(t *testing.T) {
	app, _ := newTestApp(t)

	cases := map[string]struct {
		target string
		body   string
		want   int
	}{
		"empty records": {"/api/v1/domains/atmosphere/intervals", `{"records":[]}`, http.StatusBadRequest},
		"no file or station": {"/api/v1/domains/atmosphere/intervals",
			`{"records":[{"timeStart":"2020-01-01","timeEnd":"2020-01-02"}]}`, http.StatusBadRequest},
		"end before start": {"/api/v1/domains/atmosphere/intervals",
			`{"records":[{"station":"HTM","timeStart":"2020-01-02","timeEnd":"2020-01-01"}]}`, http.StatusBadRequest},
		"bad time": {"/api/v1/domains/atmosphere/intervals",
			`{"records":[{"station":"HTM","timeStart":"soon","timeEnd":"2020-01-01"}]}`, http.StatusBadRequest},
		"unknown domain": {"/api/v1/domains/ocean/intervals",
			`{"records":[{"station":"HTM","timeStart":"2020-01-01","timeEnd":"2020-01-02"}]}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, body := do(t, app, http.MethodPost, tc.target, tc.body)
			if status != tc.want {
				t.Fatalf("expected status %d, got %d (%v)", tc.want, status, body)
			}
			if body["error"] != true {
				t.Fatalf("expected error envelope, got %v", body)
			}
		})
	}
}

func TestCoverageQueryValidation(t *testing.T) {
	app, _ := newTestApp(t)

	cases := map[string]struct {
		target string
		want   int
	}{
		"missing dates":  {"/api/v1/coverage?domain=atmosphere", http.StatusBadRequest},
		"missing domain": {"/api/v1/coverage?start=2020-01-01&end=2020-02-01", http.StatusBadRequest},
		"end before":     {"/api/v1/coverage?domain=atmosphere&start=2020-02-01&end=2020-01-01", http.StatusBadRequest},
		"same day":       {"/api/v1/coverage?domain=atmosphere&start=2020-01-01T12:00:00Z&end=2020-01-01", http.StatusOK},
		"bad period":     {"/api/v1/coverage?domain=atmosphere&start=2020-01-01&end=2020-02-01&period=daily", http.StatusBadRequest},
		"unknown domain": {"/api/v1/coverage?domain=ocean&start=2020-01-01&end=2020-02-01", http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, body := do(t, app, http.MethodGet, tc.target, "")
			if status != tc.want {
				t.Fatalf("expected status %d, got %d (%v)", tc.want, status, body)
			}
		})
	}
}

func TestLatestAndHistory(t *testing.T) {
	app, svc := newTestApp(t)

	status, _ := do(t, app, http.MethodGet, "/api/v1/coverage/latest?domain=atmosphere&period=weekly", "")
	if status != http.StatusNotFound {
		t.Fatalf("expected status %d before any refresh, got %d", http.StatusNotFound, status)
	}

	do(t, app, http.MethodPost, "/api/v1/domains/atmosphere/intervals", threeFullDays)
	report, err := svc.Refresh(t.Context(), "atmosphere", coverage.Weekly)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	status, body := do(t, app, http.MethodGet, "/api/v1/coverage/latest?domain=atc&period=w", "")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%v)", http.StatusOK, status, body)
	}
	if body["id"] != report.ID {
		t.Fatalf("latest id = %v, want %s", body["id"], report.ID)
	}

	from := report.GeneratedAt.Add(-time.Minute).Format(time.RFC3339)
	to := report.GeneratedAt.Add(time.Minute).Format(time.RFC3339)
	status, body = do(t, app, http.MethodGet, "/api/v1/coverage/history?domain=atmosphere&period=weekly&from="+from+"&to="+to, "")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%v)", http.StatusOK, status, body)
	}
	if got := body["reports"].([]any); len(got) != 1 {
		t.Fatalf("history has %d reports, want 1", len(got))
	}

	status, _ = do(t, app, http.MethodGet, "/api/v1/coverage/history?domain=atmosphere&period=weekly&from="+to+"&to="+from, "")
	if status != http.StatusBadRequest {
		t.Fatalf("expected status %d for inverted range, got %d", http.StatusBadRequest, status)
	}
}

func TestDomains(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := do(t, app, http.MethodGet, "/api/v1/domains", "")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
	if got := body["domains"].([]any); len(got) != 2 {
		t.Fatalf("domains = %v, want atmosphere and ecosystem", got)
	}
}
