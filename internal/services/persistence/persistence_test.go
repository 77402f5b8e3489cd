package persistence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/store/storetest"
)

func strPtr(s string) *string { return &s }

func TestTableName(t *testing.T) {
	assert.Equal(t, "readings_mode", TableName("mode"))

	soil := TableName("sensor-soil")
	assert.True(t, strings.HasPrefix(soil, "readings_sensor_soil_"))
	assert.NotEqual(t, soil, TableName("sensor_soil"), "rewritten names must not collide")
	assert.Equal(t, soil, TableName("sensor-soil"))

	long := TableName(strings.Repeat("x", 100))
	assert.LessOrEqual(t, len(long), len("readings_")+maxTableSuffix+9)
}

func TestChannelTablesConcurrentFirstUse(t *testing.T) {
	ctx := context.Background()
	tables := NewChannelTables(storetest.Open(t), nil)

	var wg sync.WaitGroup
	names := make([]string, 16)
	errs := make([]error, 16)
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names[i], errs[i] = tables.Table(ctx, "soil moisture/β")
		}(i)
	}
	wg.Wait()
	for i := range names {
		require.NoError(t, errs[i])
		assert.Equal(t, names[0], names[i])
	}

	channels, err := tables.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"soil moisture/β"}, channels)

	_, err = tables.Table(ctx, " ")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestReadingStoreQueries(t *testing.T) {
	ctx := context.Background()
	s := NewReadingStore(storetest.Open(t), nil)
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	for i, v := range []string{"40", "38", "35"} {
		require.NoError(t, s.Insert(ctx, &entities.Reading{
			Channel: "sensor-soil", UserID: strPtr("u1"), DeviceID: "d1", Value: v, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.Insert(ctx, &entities.Reading{Channel: "sensor-soil", UserID: strPtr("u2"), DeviceID: "d9", Value: "70", CreatedAt: base}))
	require.NoError(t, s.Insert(ctx, &entities.Reading{Channel: "mode", UserID: strPtr("u1"), DeviceID: "d1", Value: "1", CreatedAt: base}))

	latest, err := s.Latest(ctx, "sensor-soil", Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "35", latest.Value)
	assert.Equal(t, "sensor-soil", latest.Channel)

	hist, err := s.History(ctx, "sensor-soil", Filter{UserID: "u1", DeviceID: "d1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "35", hist[0].Value)
	assert.Equal(t, "38", hist[1].Value)

	win, err := s.Between(ctx, "sensor-soil", Filter{DeviceID: "d1", From: base.Add(30 * time.Minute), To: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, win, 2)
	assert.Equal(t, "38", win[0].Value)

	_, err = s.Latest(ctx, "sensor-temp", Filter{UserID: "u1"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	modes, err := s.History(ctx, "mode", Filter{})
	require.NoError(t, err)
	assert.Len(t, modes, 1)
}

type flakyStore struct {
	mu   sync.Mutex
	got  []entities.Reading
	fail bool
}

func (f *flakyStore) Insert(_ context.Context, r *entities.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.got = append(f.got, *r)
	return nil
}

func TestWriterPersistsAndMirrors(t *testing.T) {
	store := &flakyStore{}
	w := NewWriter(store, 8, 2, nil)
	var mirrored []string
	var mu sync.Mutex
	w.AddMirror(MirrorFunc(func(r entities.Reading) {
		mu.Lock()
		mirrored = append(mirrored, r.Value)
		mu.Unlock()
	}))
	w.Start()

	for _, v := range []string{"1", "2", "3"} {
		assert.True(t, w.Submit(entities.Reading{Channel: "mode", DeviceID: "d", Value: v}))
	}
	w.Close()

	assert.Len(t, store.got, 3)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, mirrored)
	assert.Equal(t, int64(3), w.Count("persisted"))
	assert.Greater(t, w.LastErrorAge(), time.Hour)
	assert.False(t, w.Submit(entities.Reading{Channel: "mode"}), "closed writer rejects")
}

func TestWriterFailureDoesNotStopLaterReadings(t *testing.T) {
	store := &flakyStore{fail: true}
	w := NewWriter(store, 8, 1, nil)
	w.Start()
	w.Submit(entities.Reading{Channel: "mode", DeviceID: "d", Value: "0"})
	// let the failing write go through before flipping the store back
	require.Eventually(t, func() bool { return w.Count("failed") == 1 }, time.Second, 5*time.Millisecond)
	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()
	w.Submit(entities.Reading{Channel: "mode", DeviceID: "d", Value: "1"})
	w.Close()

	assert.Equal(t, int64(1), w.Count("persisted"))
	assert.Less(t, w.LastErrorAge(), time.Minute)
}

func TestWriterPersistSyncMirrorsOnSuccessOnly(t *testing.T) {
	store := &flakyStore{}
	w := NewWriter(store, 1, 1, nil)
	var mirrored []string
	w.AddMirror(MirrorFunc(func(r entities.Reading) { mirrored = append(mirrored, r.Value) }))

	require.NoError(t, w.Persist(context.Background(), &entities.Reading{Channel: "mode", DeviceID: "d", Value: "1"}))
	store.fail = true
	assert.Error(t, w.Persist(context.Background(), &entities.Reading{Channel: "mode", DeviceID: "d", Value: "0"}))

	assert.Equal(t, []string{"1"}, mirrored)
	assert.Equal(t, int64(1), w.Count("persisted"))
	assert.Equal(t, int64(1), w.Count("failed"))
}

func TestWriterDropsWhenFull(t *testing.T) {
	w := NewWriter(&flakyStore{}, 1, 1, nil)
	// not started: the queue never drains
	assert.True(t, w.Submit(entities.Reading{Channel: "mode"}))
	assert.False(t, w.Submit(entities.Reading{Channel: "mode"}))
	assert.Equal(t, int64(1), w.Count("dropped"))
}

func TestReadingToPoint(t *testing.T) {
	at := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	p := ReadingToPoint(entities.Reading{Channel: "sensor soil", UserID: strPtr("u1"), DeviceID: "d1", Value: "41.5", CreatedAt: at})
	assert.Equal(t, "sensor_soil", p.Name())

	line := write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, "device_id=d1")
	assert.Contains(t, line, "user_id=u1")
	assert.Contains(t, line, "numeric=41.5")
	assert.Contains(t, line, `value="41.5"`)

	p = ReadingToPoint(entities.Reading{Channel: "mode", DeviceID: "d1", Value: "ON", CreatedAt: at})
	line = write.PointToLineProtocol(p, time.Second)
	assert.NotContains(t, line, "numeric")
	assert.NotContains(t, line, "user_id")
}
