package coverage

import (
	"fmt"
	"time"
)

// dayOf truncates t to its UTC calendar day.
func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// BucketOf returns the bucket containing t. Weekly buckets are ISO weeks
// (Monday to Sunday) labelled "WW-YY" with the ISO week number and year;
// monthly buckets are calendar months labelled "MM-YY".
func BucketOf(t time.Time, mode Mode) Bucket {
	d := dayOf(t)
	if mode == Weekly {
		offset := (int(d.Weekday()) + 6) % 7
		start := d.AddDate(0, 0, -offset)
		year, week := start.ISOWeek()
		return Bucket{
			Start: start,
			End:   start.AddDate(0, 0, 7),
			Label: fmt.Sprintf("%02d-%02d", week, year%100),
		}
	}
	start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Bucket{
		Start: start,
		End:   start.AddDate(0, 1, 0),
		Label: fmt.Sprintf("%02d-%02d", int(start.Month()), start.Year()%100),
	}
}

// BucketsBetween returns every bucket intersecting the inclusive date range
// [start, end], in calendar order. It returns nil when end is before start.
func BucketsBetween(start, end time.Time, mode Mode) []Bucket {
	first, last := dayOf(start), dayOf(end)
	if last.Before(first) {
		return nil
	}
	var out []Bucket
	for b := BucketOf(first, mode); !b.Start.After(last); b = BucketOf(b.End, mode) {
		out = append(out, b)
	}
	return out
}

// periodLabel renders the "MM/YYYY - MM/YYYY" span of a bucket list.
func periodLabel(buckets []Bucket) string {
	if len(buckets) == 0 {
		return ""
	}
	first := buckets[0].Start
	last := buckets[len(buckets)-1].End.AddDate(0, 0, -1)
	return fmt.Sprintf("%02d/%d - %02d/%d", int(first.Month()), first.Year(), int(last.Month()), last.Year())
}
