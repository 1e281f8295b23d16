package coverage

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func repeat(d time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = d
	}
	return out
}

// dailyIntervals returns one interval of length per day starting at from.
func dailyIntervals(station string, from time.Time, days int, length time.Duration) []Interval {
	out := make([]Interval, 0, days)
	for i := 0; i < days; i++ {
		start := from.AddDate(0, 0, i)
		out = append(out, Interval{Station: station, Start: start, End: start.Add(length)})
	}
	return out
}

func TestBucketPercentConstantHalfDays(t *testing.T) {
	p, contribution := BucketPercent(repeat(12*time.Hour, 30), nil)
	if v, ok := p.Get(); !ok || v != 100 {
		t.Fatalf("percent = %v, want 100", p)
	}
	if contribution != 100 {
		t.Fatalf("contribution = %v, want 100", contribution)
	}
}

func TestBucketPercentHalfIdleMonth(t *testing.T) {
	days := append(repeat(0, 15), repeat(12*time.Hour, 15)...)

	if got := (MedianMaxDay{}).MaxDay(days); got != 12*time.Hour {
		t.Fatalf("max day = %s, want 12h", got)
	}
	p, _ := BucketPercent(days, nil)
	if v, ok := p.Get(); !ok || v != 50 {
		t.Fatalf("percent = %v, want 50", p)
	}
}

func TestBucketPercentNoData(t *testing.T) {
	for name, days := range map[string][]time.Duration{
		"no days":   nil,
		"all zeros": repeat(0, 7),
	} {
		t.Run(name, func(t *testing.T) {
			p, contribution := BucketPercent(days, nil)
			if p.Valid() || contribution != 0 {
				t.Fatalf("got %v / %v, want NoData / 0", p, contribution)
			}
		})
	}
}

func TestBucketPercentZeroEstimate(t *testing.T) {
	zero := MaxDayFunc(func([]time.Duration) time.Duration { return 0 })
	p, contribution := BucketPercent(repeat(time.Hour, 3), zero)
	if v, ok := p.Get(); !ok || v != 0 || contribution != 0 {
		t.Fatalf("got %v / %v, want 0 / 0", p, contribution)
	}
}

func TestBucketPercentClamped(t *testing.T) {
	fixed := MaxDayFunc(func([]time.Duration) time.Duration { return 12 * time.Hour })
	p, contribution := BucketPercent(repeat(24*time.Hour, 10), fixed)
	if v, _ := p.Get(); v != 100 || contribution != 100 {
		t.Fatalf("got %v / %v, want 100 / 100", p, contribution)
	}
}

func TestEstimateTwoInstrumentsClampAt100(t *testing.T) {
	from := date(2021, time.March, 1)
	intervals := append(
		dailyIntervals("TWO", from, 31, 24*time.Hour),
		dailyIntervals("TWO", from, 31, 24*time.Hour)...,
	)
	// Two co-located instruments: every day holds 48h of measurements.
	row := Estimate("TWO", intervals, from, date(2021, time.March, 31), Monthly, nil)
	if len(row.Cells) != 1 {
		t.Fatalf("cells = %d, want 1", len(row.Cells))
	}
	if v, ok := row.Cells[0].Percent.Get(); !ok || v != 100 {
		t.Fatalf("percent = %v, want 100", row.Cells[0].Percent)
	}
	if row.Summary.Label != "  100.0 %" {
		t.Fatalf("label = %q", row.Summary.Label)
	}
}

func TestEstimateEmptyStation(t *testing.T) {
	row := Estimate("EMPTY", nil, date(2020, time.January, 1), date(2020, time.March, 31), Monthly, nil)
	if len(row.Cells) != 3 {
		t.Fatalf("cells = %d, want 3", len(row.Cells))
	}
	for _, c := range row.Cells {
		if c.Percent.Valid() {
			t.Fatalf("cell %s = %v, want NoData", c.Bucket, c.Percent)
		}
	}
	if row.Summary.Label != "  No Data" || row.Summary.Percent.Valid() {
		t.Fatalf("summary = %+v", row.Summary)
	}
}

func TestEstimateOutsideSpanIsNoData(t *testing.T) {
	// Data only in February; January and March lie outside the instrumented span.
	intervals := dailyIntervals("Z", date(2020, time.February, 1), 29, 12*time.Hour)
	row := Estimate("Z", intervals, date(2020, time.January, 1), date(2020, time.March, 31), Monthly, nil)

	want := map[string]bool{"01-20": false, "02-20": true, "03-20": false}
	for _, c := range row.Cells {
		if c.Percent.Valid() != want[c.Bucket] {
			t.Errorf("cell %s valid = %v, want %v", c.Bucket, c.Percent.Valid(), want[c.Bucket])
		}
	}
	if v, _ := row.Summary.Percent.Get(); v != 100 {
		t.Fatalf("summary = %v, want 100", row.Summary.Percent)
	}
}

func TestEstimateSummaryCountsEmptyBuckets(t *testing.T) {
	// January is full, February is an instrumented gap, March is full again.
	intervals := append(
		dailyIntervals("GAP", date(2020, time.January, 1), 31, 24*time.Hour),
		dailyIntervals("GAP", date(2020, time.March, 1), 31, 24*time.Hour)...,
	)
	row := Estimate("GAP", intervals, date(2020, time.January, 1), date(2020, time.March, 31), Monthly, nil)

	if row.Cells[1].Percent.Valid() {
		t.Fatalf("february = %v, want NoData", row.Cells[1].Percent)
	}
	// (100 + 0 + 100) / 3
	if v, _ := row.Summary.Percent.Get(); v != 66.7 {
		t.Fatalf("summary = %v, want 66.7", row.Summary.Percent)
	}
	if row.Summary.Label != "  66.7 %" {
		t.Fatalf("label = %q", row.Summary.Label)
	}
}

func TestEstimateClipsByStartDay(t *testing.T) {
	intervals := []Interval{
		{Station: "C", Start: date(2019, time.December, 31).Add(12 * time.Hour), End: date(2020, time.January, 1).Add(12 * time.Hour)},
		{Station: "C", Start: date(2020, time.January, 2), End: date(2020, time.January, 2).Add(6 * time.Hour)},
		{Station: "C", Start: date(2020, time.February, 1), End: date(2020, time.February, 2)},
	}
	row := Estimate("C", intervals, date(2020, time.January, 1), date(2020, time.January, 31), Monthly, nil)
	if len(row.Cells) != 1 {
		t.Fatalf("cells = %d, want 1", len(row.Cells))
	}
	if v, ok := row.Cells[0].Percent.Get(); !ok || v != 100 {
		t.Fatalf("january = %v, want 100 from the single kept day", row.Cells[0].Percent)
	}
}

func TestEstimateIsDeterministic(t *testing.T) {
	intervals := dailyIntervals("D", date(2020, time.January, 6), 20, 7*time.Hour)
	a := Estimate("D", intervals, date(2020, time.January, 1), date(2020, time.February, 29), Weekly, nil)
	b := Estimate("D", intervals, date(2020, time.January, 1), date(2020, time.February, 29), Weekly, nil)

	if len(a.Cells) != len(b.Cells) || a.Summary != b.Summary {
		t.Fatalf("runs differ: %+v vs %+v", a.Summary, b.Summary)
	}
	for i := range a.Cells {
		if a.Cells[i] != b.Cells[i] {
			t.Fatalf("cell %d differs: %+v vs %+v", i, a.Cells[i], b.Cells[i])
		}
	}
}
