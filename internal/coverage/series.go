package coverage

import "time"

const day = 24 * time.Hour

// ClipToRange keeps the intervals whose start falls on a UTC calendar day in
// [start, end], both dates inclusive. The input slice is not modified.
func ClipToRange(intervals []Interval, start, end time.Time) []Interval {
	first := dayOf(start)
	limit := dayOf(end).Add(day)

	var out []Interval
	for _, iv := range intervals {
		if !iv.Start.Before(first) && iv.Start.Before(limit) {
			out = append(out, iv)
		}
	}
	return out
}

// Densify converts intervals into a contiguous daily series running from the
// first start day to the last day an interval reaches. Each interval's
// duration is split over the calendar days it overlaps, so days inside the
// span without data hold zero while days outside it are absent.
func Densify(intervals []Interval) DaySeries {
	if len(intervals) == 0 {
		return nil
	}

	first := dayOf(intervals[0].Start)
	last := first
	for _, iv := range intervals {
		if d := dayOf(iv.Start); d.Before(first) {
			first = d
		}
		if d := lastDay(iv); d.After(last) {
			last = d
		}
	}

	base := dayNumber(first)
	n := int(dayNumber(last)-base) + 1
	series := make(DaySeries, n)
	for i := range series {
		series[i].Date = first.AddDate(0, 0, i)
	}

	for _, iv := range intervals {
		if iv.Duration() == 0 {
			continue
		}
		cursor, end := iv.Start.UTC(), iv.End.UTC()
		for cursor.Before(end) {
			start := dayOf(cursor)
			next := start.Add(day)
			if end.Before(next) {
				next = end
			}
			series[int(dayNumber(start)-base)].Duration += next.Sub(cursor)
			cursor = next
		}
	}
	return series
}

// dayNumber counts UTC calendar days since the unix epoch. Unlike
// time.Duration offsets it does not overflow for spans over ~292 years.
func dayNumber(t time.Time) int64 {
	return dayOf(t).Unix() / 86400
}

// lastDay is the last calendar day an interval touches. End is exclusive, so
// an interval ending exactly at midnight stops on the previous day.
func lastDay(iv Interval) time.Time {
	if iv.Duration() == 0 {
		return dayOf(iv.Start)
	}
	return dayOf(iv.End.Add(-time.Nanosecond))
}

// Within returns the durations of the days of s falling inside b.
func (s DaySeries) Within(b Bucket) []time.Duration {
	var out []time.Duration
	for _, d := range s {
		if b.Contains(d.Date) {
			out = append(out, d.Duration)
		}
	}
	return out
}

// Buckets returns the buckets spanned by the series, in order.
func (s DaySeries) Buckets(mode Mode) []Bucket {
	if len(s) == 0 {
		return nil
	}
	return BucketsBetween(s[0].Date, s[len(s)-1].Date, mode)
}
