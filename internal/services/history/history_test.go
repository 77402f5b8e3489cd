package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/persistence"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
	"github.com/LeonardoBeccarini/smartgarden/internal/store/storetest"
)

var t0 = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func series(values ...string) []entities.Reading {
	out := make([]entities.Reading, len(values))
	for i, v := range values {
		out[i] = entities.Reading{Value: v, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func values(points []Point) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

func TestSummarize(t *testing.T) {
	s := Summarize(series("0", "0", "1", "1", "0", "1"))
	assert.Equal(t, []string{"0", "1", "0", "1"}, values(s.Transitions))
	assert.Equal(t, map[string]int{"0": 2, "1": 2}, s.Counts)
	assert.Equal(t, 2, s.Activations)
	assert.Equal(t, t0.Add(2*time.Minute), s.Transitions[1].At)
}

func TestSummarizeEdges(t *testing.T) {
	empty := Summarize(nil)
	assert.Empty(t, empty.Transitions)
	assert.NotNil(t, empty.Transitions)
	assert.Zero(t, empty.Activations)

	s := Summarize(series("1", "1", "1"))
	assert.Equal(t, []string{"1"}, values(s.Transitions))
	assert.Zero(t, s.Activations)
}

func TestMode(t *testing.T) {
	m := Mode(series("0", "0", "1", "1", "0", "1"))
	assert.Equal(t, 2, m.AutoMode)
	assert.Equal(t, 2, m.ManualMode)
	assert.Equal(t, 4, m.Total)
}

func TestPumpOnTime(t *testing.T) {
	// on at +1m, off at +3m, on again at +4m and still running
	rs := series("0", "1", "1", "0", "1")
	p := Pump(rs, t0.Add(10*time.Minute))
	assert.Equal(t, 2, p.Activations)
	assert.Equal(t, int64((2*time.Minute+6*time.Minute)/time.Second), p.OnSeconds)
}

func TestDailyAverages(t *testing.T) {
	day1 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	rs := []entities.Reading{
		{Value: "40", CreatedAt: day1},
		{Value: "50", CreatedAt: day1.Add(time.Hour)},
		{Value: "n/a", CreatedAt: day1.Add(2 * time.Hour)},
		{Value: "33.34", CreatedAt: day1.AddDate(0, 0, 8)},
	}
	daily := DailyAverages(rs, time.UTC)
	assert.Equal(t, []DailyAverage{{Date: "2024-06-01", Average: 45}, {Date: "2024-06-09", Average: 33.34}}, daily)

	avg := Summarize7And30(daily, day1.AddDate(0, 0, 10), time.UTC)
	assert.Equal(t, 33.34, avg.Last7DaysAvg)
	assert.Equal(t, 39.17, avg.Last30DaysAvg)
}

func TestServiceSummaries(t *testing.T) {
	ctx := context.Background()
	db := storetest.Open(t)
	reg := registry.New(db, nil)
	store := persistence.NewReadingStore(db, nil)
	for _, id := range []string{"d1", "d2"} {
		_, err := reg.RegisterDevice(ctx, "u1", registry.DeviceInput{ID: id})
		require.NoError(t, err)
	}

	user := "u1"
	now := time.Now().UTC()
	insert := func(channel, device, value string, at time.Time) {
		r := entities.Reading{UserID: &user, DeviceID: device, Channel: channel, Value: value, CreatedAt: at}
		require.NoError(t, store.Insert(ctx, &r))
	}
	for i, v := range []string{"0", "0", "1", "1", "0", "1"} {
		insert(model.ChannelMode, "d1", v, now.Add(time.Duration(i-10)*time.Minute))
	}
	insert(model.ChannelMode, "d2", "1", now.Add(-time.Minute))
	insert(model.ChannelSoilMoisture, "d1", "40", now.Add(-2*time.Hour))
	insert(model.ChannelSoilMoisture, "d1", "60", now.Add(-time.Hour))
	insert(model.ChannelSoilMoisture, "d1", "10", now.AddDate(0, 0, -45))

	svc := NewService(store, reg, time.UTC, nil)

	mode, err := svc.Mode(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, mode.AutoMode)
	assert.Equal(t, 2, mode.ManualMode)

	_, err = svc.Mode(ctx, "u1", "")
	assert.ErrorIs(t, err, model.ErrValidation)

	pump, err := svc.Pump(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Zero(t, pump.Activations)
	assert.Empty(t, pump.Filtered)

	avgs, err := svc.MoistureAverages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, avgs, 2)
	byDevice := map[string]DeviceAverages{}
	for _, a := range avgs {
		byDevice[a.DeviceID] = a
	}
	assert.Empty(t, byDevice["d2"].Daily)
	var total float64
	for _, d := range byDevice["d1"].Daily {
		total += d.Average
	}
	assert.NotEmpty(t, byDevice["d1"].Daily)
	assert.NotContains(t, byDevice["d1"].Daily, DailyAverage{Date: now.AddDate(0, 0, -45).Format(time.DateOnly), Average: 10})
	assert.Greater(t, total, 0.0)
}
