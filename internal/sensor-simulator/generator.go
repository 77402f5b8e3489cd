package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// +0.6% per minute while the pump runs, in [0..1]
	defaultGainPerMin = 0.006

	// used when SoilGrids is unavailable
	defaultSeed = 0.30

	soilGridsBaseURL = "https://rest.isric.org"
	soilGridsPath    = "/soilgrids/v2.0/properties/query"
)

// Sample is one round of simulated sensor values. Moisture and humidity are percentages.
type Sample struct {
	SoilMoisture float64
	Temperature  float64
	Humidity     float64
	At           time.Time
}

// DataGenerator keeps the soil moisture of one simulated device and moves it over time:
// it decays while the pump is off and rises while it is on.
type DataGenerator struct {
	mu          sync.Mutex
	seeded      bool
	last        time.Time
	moisture    float64 // [0..1]
	decayPerMin float64
	gainPerMin  float64
	pumpOn      bool

	now  func() time.Time
	rand *rand.Rand
	http *resty.Client
}

// NewDataGenerator creates a generator losing decayPerMin moisture per minute while the pump is off.
func NewDataGenerator(decayPerMin float64) *DataGenerator {
	return &DataGenerator{
		decayPerMin: math.Max(0, decayPerMin),
		gainPerMin:  defaultGainPerMin,
		now:         time.Now,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		http: resty.New().
			SetBaseURL(soilGridsBaseURL).
			SetTimeout(8*time.Second).
			SetRetryCount(1).
			SetRetryWaitTime(600*time.Millisecond).
			SetHeader("User-Agent", "smartgarden-simulator/1.0"),
	}
}

// Seed sets the starting moisture in [0..1].
func (g *DataGenerator) Seed(m float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.moisture = clamp01(m)
	g.last = g.now()
	g.seeded = true
}

// SeedFromSoilGrids fetches the volumetric water content at lat/lon once at startup.
// On failure it falls back to the default seed.
func (g *DataGenerator) SeedFromSoilGrids(ctx context.Context, lat, lon float64) error {
	seed := defaultSeed
	var err error
	if lat != 0 || lon != 0 {
		var m float64
		if m, err = g.fetchSoilMoisture(ctx, lat, lon); err == nil {
			seed = m
		}
	}
	g.Seed(seed)
	return err
}

// SetPump switches the pump state. Moisture accrued so far is settled at the old rate first.
func (g *DataGenerator) SetPump(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceLocked(g.now())
	g.pumpOn = on
}

func (g *DataGenerator) PumpOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pumpOn
}

// Next advances the simulation to now and returns a sample.
func (g *DataGenerator) Next() Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.advanceLocked(now)

	// temperature follows the time of day, humidity moves against it
	hour := float64(now.Hour()) + float64(now.Minute())/60
	diurnal := math.Sin((hour - 9) / 24 * 2 * math.Pi)
	temp := 18 + 6*diurnal + g.rand.NormFloat64()*0.3
	hum := 60 - 15*diurnal + g.rand.NormFloat64()*1.5

	return Sample{
		SoilMoisture: math.Round(g.moisture*1000) / 10,
		Temperature:  math.Round(temp*10) / 10,
		Humidity:     math.Round(math.Max(0, math.Min(100, hum))*10) / 10,
		At:           now.UTC(),
	}
}

func (g *DataGenerator) advanceLocked(now time.Time) {
	if !g.seeded {
		g.moisture = defaultSeed
		g.last = now
		g.seeded = true
		return
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	if g.pumpOn {
		g.moisture = clamp01(g.moisture + g.gainPerMin*dtMin)
	} else {
		g.moisture = clamp01(g.moisture - g.decayPerMin*dtMin)
	}
	g.last = now
}

func (g *DataGenerator) fetchSoilMoisture(ctx context.Context, lat, lon float64) (float64, error) {
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":      fmt.Sprintf("%f", lat),
			"lon":      fmt.Sprintf("%f", lon),
			"property": "wv0010",
		}).
		Get(soilGridsPath)
	if err != nil {
		return -1, err
	}
	if resp.IsError() {
		return -1, fmt.Errorf("soilgrids HTTP %d", resp.StatusCode())
	}
	var parsed soilGridsResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return -1, err
	}
	if m, ok := parsed.moisture(); ok {
		return m, nil
	}
	return -1, errors.New("soilgrids: moisture field not found")
}

// soilGridsResponse accepts both the plain and the GeoJSON feature layout of the query endpoint.
type soilGridsResponse struct {
	Properties *soilProperties `json:"properties"`
	Features   []struct {
		Properties *soilProperties `json:"properties"`
	} `json:"features"`
}

type soilProperties struct {
	Layers []struct {
		Name   string `json:"name"`
		Depths []struct {
			Label  string              `json:"label"`
			Values map[string]*float64 `json:"values"`
		} `json:"depths"`
	} `json:"layers"`
}

// topsoil is the first depth of the first layer, median first.
func (p *soilProperties) topsoil() (float64, bool) {
	if p == nil || len(p.Layers) == 0 || len(p.Layers[0].Depths) == 0 {
		return 0, false
	}
	values := p.Layers[0].Depths[0].Values
	for _, stat := range []string{"Q0.5", "mean", "Q0.95", "Q0.05"} {
		if v := values[stat]; v != nil {
			return *v, true
		}
	}
	return 0, false
}

// moisture is the topsoil water content on [0..1]. wv layers usually come in
// thousandths of m3/m3 (420 => 0.420).
func (r soilGridsResponse) moisture() (float64, bool) {
	props := make([]*soilProperties, 0, 2)
	if len(r.Features) > 0 {
		props = append(props, r.Features[0].Properties)
	}
	props = append(props, r.Properties)
	for _, p := range props {
		v, ok := p.topsoil()
		if !ok {
			continue
		}
		if v > 1.5 {
			v /= 1000
		}
		return clamp01(v), true
	}
	return 0, false
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
