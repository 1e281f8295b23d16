package coverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/i474232898/coverage-heatmap/internal/metrics"
)

// ErrInvalidRange is returned when a report window ends before it starts.
var ErrInvalidRange = errors.New("invalid report range")

// Options tunes a Service.
type Options struct {
	// DefaultStart and DefaultEnd bound the scheduled reports. A zero
	// DefaultEnd means "today".
	DefaultStart time.Time
	DefaultEnd   time.Time
	// Workers bounds the number of stations estimated concurrently.
	Workers int
	// Estimator overrides the max-day heuristic; nil uses MedianMaxDay.
	Estimator MaxDayEstimator
	// MaxSpan caps the length of a single ingested interval. Zero means
	// DefaultMaxSpan.
	MaxSpan time.Duration
}

// DefaultMaxSpan is the longest interval accepted when Options.MaxSpan is unset.
const DefaultMaxSpan = 366 * day

// futureSlack is how far past the current time an interval may end.
const futureSlack = day

// Service orchestrates interval ingestion, report generation and the
// report history.
type Service struct {
	domains   *Registry
	intervals IntervalStore
	reports   ReportStore
	opts      Options
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// NewService creates a new Service.
func NewService(domains *Registry, intervals IntervalStore, reports ReportStore, opts Options, m *metrics.Metrics, log *slog.Logger) *Service {
	if opts.Estimator == nil {
		opts.Estimator = MedianMaxDay{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxSpan <= 0 {
		opts.MaxSpan = DefaultMaxSpan
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		domains:   domains,
		intervals: intervals,
		reports:   reports,
		opts:      opts,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Domains returns the configured domains.
func (s *Service) Domains() []Domain {
	return s.domains.Domains()
}

// Ingest converts records to intervals for the given domain and stores
// them. The whole batch is rejected if any record is invalid. It returns
// the number of intervals that were new to the store.
func (s *Service) Ingest(ctx context.Context, domainKey, source string, records []Record) (int, error) {
	d, err := s.domains.Lookup(domainKey)
	if err != nil {
		return 0, err
	}

	intervals := make([]Interval, 0, len(records))
	for i, r := range records {
		iv, err := s.toInterval(d, r)
		if err != nil {
			s.metrics.IngestRejected(d.Name, source)
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		intervals = append(intervals, iv)
	}
	if len(intervals) == 0 {
		return 0, nil
	}

	n, err := s.intervals.SaveIntervals(ctx, d.Name, intervals)
	if err != nil {
		return 0, fmt.Errorf("save intervals: %w", err)
	}
	s.metrics.IntervalsIngested(d.Name, source, n)
	s.log.Debug("intervals ingested",
		slog.String("domain", d.Name),
		slog.String("source", source),
		slog.Int("received", len(intervals)),
		slog.Int("stored", n),
	)
	return n, nil
}

// toInterval resolves the station of r and checks that its time range is
// plausible: ordered, ending no later than a day from now and no longer
// than the configured maximum span.
func (s *Service) toInterval(d Domain, r Record) (Interval, error) {
	station := strings.TrimSpace(r.Station)
	if station == "" {
		id, err := d.Rule.StationID(r.FileName)
		if err != nil {
			return Interval{}, err
		}
		station = id
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return Interval{}, fmt.Errorf("%w: timeStart and timeEnd are required", ErrInvalidInterval)
	}
	if r.End.Before(r.Start) {
		return Interval{}, fmt.Errorf("%w: timeEnd %s before timeStart %s", ErrInvalidInterval,
			r.End.UTC().Format(time.RFC3339), r.Start.UTC().Format(time.RFC3339))
	}
	if limit := s.now().Add(futureSlack); r.End.After(limit) {
		return Interval{}, fmt.Errorf("%w: timeEnd %s is in the future", ErrInvalidInterval,
			r.End.UTC().Format(time.RFC3339))
	}
	if span := r.End.Sub(r.Start); span > s.opts.MaxSpan {
		return Interval{}, fmt.Errorf("%w: interval spans %s, longer than %s", ErrInvalidInterval,
			span, s.opts.MaxSpan)
	}
	return Interval{Station: station, Start: r.Start.UTC(), End: r.End.UTC()}, nil
}

// Generate builds a report for req. Every station known for the domain gets
// a row, including stations without data in the window.
func (s *Service) Generate(ctx context.Context, req ReportRequest) (Report, error) {
	d, err := s.domains.Lookup(req.Domain)
	if err != nil {
		return Report{}, err
	}
	if dayOf(req.End).Before(dayOf(req.Start)) {
		return Report{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange,
			req.End.Format(time.DateOnly), req.Start.Format(time.DateOnly))
	}
	if req.Mode != Weekly && req.Mode != Monthly {
		return Report{}, fmt.Errorf("invalid period %q", req.Mode)
	}
	req.Domain = d.Name

	started := time.Now()

	stations, err := s.intervals.Stations(ctx, d.Name)
	if err != nil {
		return Report{}, fmt.Errorf("list stations: %w", err)
	}
	byStation, err := s.intervals.Intervals(ctx, d.Name, dayOf(req.Start), dayOf(req.End).Add(day))
	if err != nil {
		return Report{}, fmt.Errorf("load intervals: %w", err)
	}
	if byStation == nil {
		byStation = make(map[string][]Interval, len(stations))
	}
	for _, st := range stations {
		if _, ok := byStation[st]; !ok {
			byStation[st] = nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := BuildReport(req, byStation, s.opts.Estimator, s.opts.Workers)

	elapsed := time.Since(started)
	s.metrics.ReportGenerated(d.Name, string(req.Mode), elapsed)
	s.log.Info("coverage report generated",
		slog.String("id", report.ID),
		slog.String("domain", d.Name),
		slog.String("period", string(req.Mode)),
		slog.String("window", report.Period),
		slog.Int("stations", len(report.Stations)),
		slog.Int("buckets", len(report.Buckets)),
		slog.Duration("took", elapsed),
	)
	return report, nil
}

// Refresh generates the default-window report for a domain and period and
// records it in the report history.
func (s *Service) Refresh(ctx context.Context, domainKey string, mode Mode) (Report, error) {
	end := s.opts.DefaultEnd
	if end.IsZero() {
		end = s.now().UTC()
	}
	report, err := s.Generate(ctx, ReportRequest{
		Domain: domainKey,
		Start:  s.opts.DefaultStart,
		End:    end,
		Mode:   mode,
	})
	if err != nil {
		return Report{}, err
	}
	s.reports.SaveReport(report)
	return report, nil
}

// Latest delegates to the report store.
func (s *Service) Latest(domainKey string, mode Mode) (Report, error) {
	d, err := s.domains.Lookup(domainKey)
	if err != nil {
		return Report{}, err
	}
	return s.reports.LatestReport(d.Name, mode)
}

// History delegates to the report store.
func (s *Service) History(domainKey string, mode Mode, from, to time.Time) ([]Report, error) {
	d, err := s.domains.Lookup(domainKey)
	if err != nil {
		return nil, err
	}
	return s.reports.ReportRange(d.Name, mode, from, to)
}

// Stations lists the stations known for a domain.
func (s *Service) Stations(ctx context.Context, domainKey string) ([]string, error) {
	d, err := s.domains.Lookup(domainKey)
	if err != nil {
		return nil, err
	}
	return s.intervals.Stations(ctx, d.Name)
}
