package coverage

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode selects the calendar unit used to bucket a station's daily series.
type Mode string

const (
	Weekly  Mode = "weekly"
	Monthly Mode = "monthly"
)

// ParseMode accepts "weekly"/"monthly" as well as the short "W"/"M" forms
// used by the settings file.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly", "week", "w":
		return Weekly, nil
	case "monthly", "month", "m":
		return Monthly, nil
	default:
		return "", fmt.Errorf("invalid period %q: use weekly or monthly", s)
	}
}

// Unit is the human word for the mode ("week" or "month").
func (m Mode) Unit() string {
	if m == Weekly {
		return "week"
	}
	return "month"
}

// Interval is one submitted file's measurement window for a station.
type Interval struct {
	Station string    `json:"station"`
	Start   time.Time `json:"timeStart"`
	End     time.Time `json:"timeEnd"`
}

// Duration returns the measured length of the interval; inverted intervals count as zero.
func (iv Interval) Duration() time.Duration {
	if iv.End.Before(iv.Start) {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// Day is the total measured duration of one UTC calendar day. Duration may
// exceed 24h when co-located instruments record at the same time.
type Day struct {
	Date     time.Time     `json:"date"`
	Duration time.Duration `json:"duration"`
}

// DaySeries is a contiguous, date-ordered run of days covering a station's
// instrumented span.
type DaySeries []Day

// Bucket is a calendar-aligned aggregation window. End is exclusive.
type Bucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// Contains reports whether t falls inside the bucket.
func (b Bucket) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Percent is either a coverage value in [0, 100] or the "no data" marker.
// The zero value is NoData.
type Percent struct {
	value float64
	valid bool
}

// NoData marks a bucket or station for which no coverage could be computed.
var NoData = Percent{}

// Value wraps a computed coverage percentage.
func Value(p float64) Percent {
	return Percent{value: p, valid: true}
}

// Get returns the percentage and whether it holds a value.
func (p Percent) Get() (float64, bool) {
	return p.value, p.valid
}

// Valid reports whether p holds a value.
func (p Percent) Valid() bool {
	return p.valid
}

// Float returns the percentage, or NaN for NoData. Intended for numeric
// consumers such as plotting code.
func (p Percent) Float() float64 {
	if !p.valid {
		return math.NaN()
	}
	return p.value
}

func (p Percent) String() string {
	if !p.valid {
		return "No Data"
	}
	return fmt.Sprintf("%.1f %%", p.value)
}

// MarshalJSON encodes NoData as null.
func (p Percent) MarshalJSON() ([]byte, error) {
	if !p.valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.value)
}

// UnmarshalJSON accepts a number or null.
func (p *Percent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = NoData
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Value(v)
	return nil
}

// Summary is a station's overall percentage across its instrumented span and
// the annotation printed next to its heatmap row.
type Summary struct {
	Percent Percent `json:"percent"`
	Label   string  `json:"label"`
}

// NewSummary formats the row annotation for p.
func NewSummary(p Percent) Summary {
	if v, ok := p.Get(); ok {
		return Summary{Percent: p, Label: fmt.Sprintf("  %.1f %%", v)}
	}
	return Summary{Percent: NoData, Label: "  No Data"}
}

// Cell is one station's coverage for one bucket of the report window.
type Cell struct {
	Bucket  string  `json:"bucket"`
	Percent Percent `json:"percent"`
}

// StationCoverage is one heatmap row.
type StationCoverage struct {
	Station string  `json:"station"`
	Cells   []Cell  `json:"cells"`
	Summary Summary `json:"summary"`
}

// ReportRequest describes the window and bucketing of a report.
type ReportRequest struct {
	Domain string    `json:"domain"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Mode   Mode      `json:"period"`
}

// Report is the station × bucket coverage matrix of one domain.
type Report struct {
	ID          string            `json:"id"`
	Domain      string            `json:"domain"`
	Mode        Mode              `json:"period"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Buckets     []Bucket          `json:"buckets"`
	Stations    []StationCoverage `json:"stations"`
	Period      string            `json:"periodLabel"`
	Title       string            `json:"title"`
	GeneratedAt time.Time         `json:"generatedAt"` // always UTC
}

// Matrix returns the report as station -> bucket label -> percentage.
func (r Report) Matrix() map[string]map[string]Percent {
	out := make(map[string]map[string]Percent, len(r.Stations))
	for _, row := range r.Stations {
		cells := make(map[string]Percent, len(row.Cells))
		for _, c := range row.Cells {
			cells[c.Bucket] = c.Percent
		}
		out[row.Station] = cells
	}
	return out
}

// Labels returns the station -> summary label mapping.
func (r Report) Labels() map[string]string {
	out := make(map[string]string, len(r.Stations))
	for _, row := range r.Stations {
		out[row.Station] = row.Summary.Label
	}
	return out
}

// Row returns the row for station, if present.
func (r Report) Row(station string) (StationCoverage, bool) {
	for _, row := range r.Stations {
		if row.Station == station {
			return row, true
		}
	}
	return StationCoverage{}, false
}
