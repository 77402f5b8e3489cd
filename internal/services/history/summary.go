package history

import (
	"time"

	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

// Point is one kept transition of a binary channel.
type Point struct {
	Value string    `json:"value"`
	At    time.Time `json:"createdAt"`
}

// Summary is the run-length compressed view of a chronologically ordered series.
type Summary struct {
	Transitions []Point        `json:"filtered"`
	Counts      map[string]int `json:"counts"`
	// Activations counts 0 -> 1 steps in Transitions.
	Activations int `json:"activations"`
}

// Summarize drops consecutive repeats in one forward pass.
func Summarize(readings []entities.Reading) Summary {
	s := Summary{Transitions: []Point{}, Counts: map[string]int{}}
	var last string
	for i, r := range readings {
		if i > 0 && r.Value == last {
			continue
		}
		if i > 0 && last == "0" && r.Value == "1" {
			s.Activations++
		}
		s.Transitions = append(s.Transitions, Point{Value: r.Value, At: r.CreatedAt})
		s.Counts[r.Value]++
		last = r.Value
	}
	return s
}

type ModeSummary struct {
	AutoMode   int     `json:"autoMode"`
	ManualMode int     `json:"manualMode"`
	Total      int     `json:"total"`
	Filtered   []Point `json:"filtered"`
}

// Mode counts "0" transitions as automatic mode and "1" as manual mode.
func Mode(readings []entities.Reading) ModeSummary {
	s := Summarize(readings)
	return ModeSummary{
		AutoMode:   s.Counts["0"],
		ManualMode: s.Counts["1"],
		Total:      len(s.Transitions),
		Filtered:   s.Transitions,
	}
}

type PumpSummary struct {
	Activations int            `json:"activations"`
	OnSeconds   int64          `json:"onSeconds"`
	Counts      map[string]int `json:"counts"`
	Filtered    []Point        `json:"filtered"`
}

// Pump summarizes pump-motor history. A pump still on at the end is counted as on until until.
func Pump(readings []entities.Reading, until time.Time) PumpSummary {
	s := Summarize(readings)
	var on time.Duration
	var since time.Time
	running := false
	for _, p := range s.Transitions {
		switch {
		case p.Value == "1" && !running:
			running, since = true, p.At
		case p.Value != "1" && running:
			on += p.At.Sub(since)
			running = false
		}
	}
	if running && until.After(since) {
		on += until.Sub(since)
	}
	return PumpSummary{
		Activations: s.Activations,
		OnSeconds:   int64(on / time.Second),
		Counts:      s.Counts,
		Filtered:    s.Transitions,
	}
}
