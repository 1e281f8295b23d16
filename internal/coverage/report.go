package coverage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BuildReport estimates every station in byStation and assembles the
// heatmap matrix for req. Stations are listed in sorted order; stations
// without intervals in the window still get a "No Data" row.
//
// Stations are independent, so they are estimated by up to workers
// goroutines. workers <= 0 means one.
func BuildReport(req ReportRequest, byStation map[string][]Interval, est MaxDayEstimator, workers int) Report {
	if est == nil {
		est = MedianMaxDay{}
	}
	if workers <= 0 {
		workers = 1
	}

	stations := make([]string, 0, len(byStation))
	for s := range byStation {
		stations = append(stations, s)
	}
	sort.Strings(stations)

	rows := make([]StationCoverage, len(stations))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(workers, len(stations)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				s := stations[i]
				rows[i] = Estimate(s, byStation[s], req.Start, req.End, req.Mode, est)
			}
		}()
	}
	for i := range stations {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	buckets := BucketsBetween(req.Start, req.End, req.Mode)
	return Report{
		ID:          uuid.NewString(),
		Domain:      req.Domain,
		Mode:        req.Mode,
		Start:       dayOf(req.Start),
		End:         dayOf(req.End),
		Buckets:     buckets,
		Stations:    rows,
		Period:      periodLabel(buckets),
		Title:       fmt.Sprintf("%s raw data coverage per %s and station", req.Domain, req.Mode.Unit()),
		GeneratedAt: time.Now().UTC(),
	}
}
