package coverage

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// MaxDayEstimator estimates the plausible measured duration of a full day
// for one bucket of a station's daily series. The result normalises the
// bucket's coverage percentage.
type MaxDayEstimator interface {
	MaxDay(days []time.Duration) time.Duration
}

// MaxDayFunc adapts a plain function to MaxDayEstimator.
type MaxDayFunc func(days []time.Duration) time.Duration

// MaxDay calls f(days).
func (f MaxDayFunc) MaxDay(days []time.Duration) time.Duration {
	return f(days)
}

// MedianMaxDay is the default estimator. It takes the smallest strictly
// positive value among:
//
//   - the lower median of the bucket's daily durations,
//   - the lower median of the smaller half of those durations (buckets with
//     more than one day), which ignores days inflated by co-located
//     instruments,
//   - the mean of the days with data, only when the first median is zero.
//
// Only the mean fallback is rounded, to the nearest hour with ties to even,
// since it averages partial days. Medians are kept exact so a station that
// reliably records the same amount every day scores 100%. If no candidate is
// positive the estimate is zero.
type MedianMaxDay struct{}

// MaxDay implements MaxDayEstimator.
func (MedianMaxDay) MaxDay(days []time.Duration) time.Duration {
	if len(days) == 0 {
		return 0
	}

	secs := make([]float64, len(days))
	for i, d := range days {
		secs[i] = d.Seconds()
	}
	sort.Float64s(secs)

	median := seconds(stat.Quantile(0.5, stat.Empirical, secs, nil))
	candidates := []time.Duration{median}

	if len(secs) > 1 {
		half := secs[:len(secs)/2]
		candidates = append(candidates, seconds(stat.Quantile(0.5, stat.Empirical, half, nil)))
	}

	if median == 0 {
		i := sort.Search(len(secs), func(i int) bool { return secs[i] > 0 })
		if active := secs[i:]; len(active) > 0 {
			candidates = append(candidates, roundHour(stat.Mean(active, nil)))
		}
	}

	var best time.Duration
	for _, c := range candidates {
		if c > 0 && (best == 0 || c < best) {
			best = c
		}
	}
	return best
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func roundHour(s float64) time.Duration {
	return time.Duration(math.RoundToEven(s/3600)) * time.Hour
}
