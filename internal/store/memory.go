package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/coverage-heatmap/internal/coverage"
)

var (
	// ErrNotFound is returned when no report is available for a domain and period.
	ErrNotFound = errors.New("no coverage report for domain")
)

// ReportHistory holds a time-ordered list of reports for a domain and period.
type ReportHistory struct {
	Reports []coverage.Report
}

type intervalKey struct {
	station    string
	start, end int64
}

// domainIntervals is the interval set of one domain.
type domainIntervals struct {
	byStation map[string][]coverage.Interval
	seen      map[intervalKey]struct{}
}

// MemoryStore is a concurrency-safe in-memory implementation of the
// interval and report stores.
type MemoryStore struct {
	mu sync.RWMutex

	// key: domain name
	intervals map[string]*domainIntervals

	// key: domain name + period, value: history
	reports map[string]*ReportHistory

	// report retention configuration
	maxHistory int           // max number of reports per domain and period
	maxAge     time.Duration // optional max age for reports

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional report limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		intervals:  make(map[string]*domainIntervals),
		reports:    make(map[string]*ReportHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveIntervals implements coverage.IntervalStore.
func (s *MemoryStore) SaveIntervals(_ context.Context, domain string, intervals []coverage.Interval) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.intervals[domain]
	if !ok {
		set = &domainIntervals{
			byStation: make(map[string][]coverage.Interval),
			seen:      make(map[intervalKey]struct{}),
		}
		s.intervals[domain] = set
	}

	added := 0
	for _, iv := range intervals {
		key := intervalKey{station: iv.Station, start: iv.Start.UnixNano(), end: iv.End.UnixNano()}
		if _, dup := set.seen[key]; dup {
			continue
		}
		set.seen[key] = struct{}{}
		set.byStation[iv.Station] = append(set.byStation[iv.Station], iv)
		added++
	}
	return added, nil
}

// Stations implements coverage.IntervalStore.
func (s *MemoryStore) Stations(_ context.Context, domain string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.intervals[domain]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set.byStation))
	for st := range set.byStation {
		out = append(out, st)
	}
	sort.Strings(out)
	return out, nil
}

// Intervals implements coverage.IntervalStore.
func (s *MemoryStore) Intervals(_ context.Context, domain string, from, to time.Time) (map[string][]coverage.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]coverage.Interval)
	set, ok := s.intervals[domain]
	if !ok {
		return out, nil
	}
	for st, ivs := range set.byStation {
		for _, iv := range ivs {
			if !iv.Start.Before(from) && iv.Start.Before(to) {
				out[st] = append(out[st], iv)
			}
		}
	}
	return out, nil
}

func reportKey(domain string, mode coverage.Mode) string {
	return domain + ":" + string(mode)
}

// SaveReport appends a report for its domain and period and enforces retention.
func (s *MemoryStore) SaveReport(report coverage.Report) {
	key := reportKey(report.Domain, report.Mode)

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.reports[key]
	if !ok {
		history = &ReportHistory{}
		s.reports[key] = history
	}

	history.Reports = append(history.Reports, report)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Reports) > s.maxHistory {
		over := len(history.Reports) - s.maxHistory
		history.Reports = history.Reports[over:]
	}

	// Enforce retention by age; the newest report is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Reports)-1; i++ {
			if !history.Reports[i].GeneratedAt.Before(cutoff) {
				break
			}
		}
		history.Reports = history.Reports[i:]
	}
}

// LatestReport returns the most recent report for a domain and period.
func (s *MemoryStore) LatestReport(domain string, mode coverage.Mode) (coverage.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.reports[reportKey(domain, mode)]
	if !ok || len(history.Reports) == 0 {
		return coverage.Report{}, ErrNotFound
	}
	return history.Reports[len(history.Reports)-1], nil
}

// ReportRange returns all reports generated between from and to (inclusive).
func (s *MemoryStore) ReportRange(domain string, mode coverage.Mode, from, to time.Time) ([]coverage.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.reports[reportKey(domain, mode)]
	if !ok || len(history.Reports) == 0 {
		return nil, ErrNotFound
	}

	var result []coverage.Report
	for _, r := range history.Reports {
		if !r.GeneratedAt.Before(from) && !r.GeneratedAt.After(to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
