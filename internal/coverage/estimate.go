package coverage

import (
	"math"
	"time"
)

// BucketPercent computes the coverage of one bucket from the durations of
// its instrumented days and returns the percentage together with its
// contribution to the station's running total.
//
// A bucket whose days hold no measured time is NoData and contributes 0.
// A zero max-day estimate yields 0 rather than dividing by zero, and values
// above 100 (overlapping instruments, anomalous files) are clamped.
func BucketPercent(days []time.Duration, est MaxDayEstimator) (Percent, float64) {
	var sum time.Duration
	for _, d := range days {
		sum += d
	}
	if sum <= 0 {
		return NoData, 0
	}

	if est == nil {
		est = MedianMaxDay{}
	}
	maxDay := est.MaxDay(days)
	if maxDay <= 0 {
		return Value(0), 0
	}

	capacity := float64(len(days)) * float64(maxDay)
	p := math.Min(round1(100*float64(sum)/capacity), 100)
	return Value(p), p
}

// Estimate computes one station's heatmap row for the report window
// [start, end] (inclusive dates).
//
// Intervals starting outside the window are dropped. The remaining ones are
// densified into a daily series and every bucket the series spans is
// evaluated with BucketPercent. The summary is the sum of the bucket
// contributions divided by the number of those buckets, so NoData buckets
// lower the average. Window buckets the series does not reach are NoData.
func Estimate(station string, intervals []Interval, start, end time.Time, mode Mode, est MaxDayEstimator) StationCoverage {
	window := BucketsBetween(start, end, mode)
	row := StationCoverage{
		Station: station,
		Cells:   make([]Cell, len(window)),
	}
	for i, b := range window {
		row.Cells[i] = Cell{Bucket: b.Label, Percent: NoData}
	}

	series := Densify(ClipToRange(intervals, start, end))
	if len(series) == 0 {
		row.Summary = NewSummary(NoData)
		return row
	}

	buckets := series.Buckets(mode)
	computed := make(map[time.Time]Percent, len(buckets))
	var total float64
	next := 0
	for _, b := range buckets {
		var days []time.Duration
		for next < len(series) && b.Contains(series[next].Date) {
			days = append(days, series[next].Duration)
			next++
		}
		p, contribution := BucketPercent(days, est)
		computed[b.Start] = p
		total += contribution
	}

	for i, b := range window {
		if p, ok := computed[b.Start]; ok {
			row.Cells[i].Percent = p
		}
	}
	row.Summary = NewSummary(Value(round1(total / float64(len(buckets)))))
	return row
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
