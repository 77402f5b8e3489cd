package history

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

type DailyAverage struct {
	Date    string  `json:"date"`
	Average float64 `json:"average"`
}

type Averages struct {
	Last7DaysAvg  float64 `json:"last7DaysAvg"`
	Last30DaysAvg float64 `json:"last30DaysAvg"`
}

type DeviceAverages struct {
	DeviceID string         `json:"deviceId"`
	Averages Averages       `json:"averages"`
	Daily    []DailyAverage `json:"daily"`
}

// DailyAverages groups numeric readings by calendar day in loc, oldest day first.
// Values that do not parse are skipped.
func DailyAverages(readings []entities.Reading, loc *time.Location) []DailyAverage {
	type acc struct {
		sum float64
		n   int
	}
	days := map[string]*acc{}
	for _, r := range readings {
		v, err := strconv.ParseFloat(r.Value, 64)
		if err != nil {
			continue
		}
		key := r.CreatedAt.In(loc).Format(time.DateOnly)
		a, ok := days[key]
		if !ok {
			a = &acc{}
			days[key] = a
		}
		a.sum += v
		a.n++
	}
	out := make([]DailyAverage, 0, len(days))
	for day, a := range days {
		out = append(out, DailyAverage{Date: day, Average: round2(a.sum / float64(a.n))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Summarize7And30 averages the daily averages of the last 7 days and of all given days.
func Summarize7And30(daily []DailyAverage, now time.Time, loc *time.Location) Averages {
	cutoff := now.In(loc).AddDate(0, 0, -7).Format(time.DateOnly)
	var recent []DailyAverage
	for _, d := range daily {
		if d.Date >= cutoff {
			recent = append(recent, d)
		}
	}
	return Averages{Last7DaysAvg: mean(recent), Last30DaysAvg: mean(daily)}
}

func mean(days []DailyAverage) float64 {
	if len(days) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range days {
		sum += d.Average
	}
	return round2(sum / float64(len(days)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
