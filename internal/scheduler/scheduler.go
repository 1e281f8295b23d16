package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/coverage-heatmap/internal/coverage"
)

// Refresher regenerates the scheduled report for one domain and period.
type Refresher interface {
	Refresh(ctx context.Context, domainKey string, mode coverage.Mode) (coverage.Report, error)
}

// Scheduler periodically refreshes the coverage reports of every configured
// domain and period.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Refresher
	domains   []string
	periods   []coverage.Mode
	interval  time.Duration
	timeout   time.Duration
	log       *slog.Logger
}

// New creates a new Scheduler.
func New(domains []string, periods []coverage.Mode, interval time.Duration, service Refresher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		domains:   domains,
		periods:   periods,
		interval:  interval,
		timeout:   2 * time.Minute,
		log:       log,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.domains) == 0 || len(s.periods) == 0 {
		s.log.Warn("scheduler: no domains or periods configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval < time.Minute {
		interval = 15 * time.Minute
	}

	_, err := s.scheduler.Every(interval).Do(s.RunOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce refreshes every domain and period concurrently and waits for all
// of them.
func (s *Scheduler) RunOnce() {
	s.log.Info("scheduler: running coverage refresh job")
	started := time.Now()

	var wg sync.WaitGroup
	for _, domain := range s.domains {
		for _, mode := range s.periods {
			wg.Add(1)
			go func() {
				defer wg.Done()

				ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
				defer cancel()

				if _, err := s.service.Refresh(ctx, domain, mode); err != nil {
					s.log.Error("scheduler: refresh failed",
						slog.String("domain", domain),
						slog.String("mode", string(mode)),
						slog.Any("err", err),
					)
				}
			}()
		}
	}
	wg.Wait()
	s.log.Info("scheduler: completed coverage refresh job", slog.Duration("took", time.Since(started)))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
