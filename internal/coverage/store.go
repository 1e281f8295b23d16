package coverage

import (
	"context"
	"time"
)

// Record is one raw row delivered by an ingest source. Station may be left
// empty, in which case it is derived from FileName by the domain's rule.
type Record struct {
	FileName string    `json:"fileName,omitempty"`
	Station  string    `json:"station,omitempty"`
	Start    time.Time `json:"timeStart"`
	End      time.Time `json:"timeEnd"`
}

// IntervalStore is the contract the in-memory and SQLite interval stores satisfy.
type IntervalStore interface {
	// SaveIntervals stores intervals for domain and returns how many were
	// new. Saving an identical interval twice is a no-op.
	SaveIntervals(ctx context.Context, domain string, intervals []Interval) (int, error)
	// Stations lists every station seen for domain, sorted.
	Stations(ctx context.Context, domain string) ([]string, error)
	// Intervals returns the intervals of domain starting in [from, to),
	// grouped by station.
	Intervals(ctx context.Context, domain string, from, to time.Time) (map[string][]Interval, error)
}

// ReportStore keeps generated reports per domain and period.
type ReportStore interface {
	SaveReport(report Report)
	LatestReport(domain string, mode Mode) (Report, error)
	ReportRange(domain string, mode Mode, from, to time.Time) ([]Report, error)
}
