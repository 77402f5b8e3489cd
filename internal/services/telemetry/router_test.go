package telemetry

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/messages"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/arbitrator"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
	"github.com/LeonardoBeccarini/smartgarden/internal/store/storetest"
)

type memorySink struct {
	mu       sync.Mutex
	readings []entities.Reading
	full     bool
}

func (s *memorySink) Submit(r entities.Reading) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.readings = append(s.readings, r)
	return true
}

func (s *memorySink) all() []entities.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.Reading(nil), s.readings...)
}

type observed struct {
	deviceID string
	moisture float64
}

type chanObserver chan observed

func (c chanObserver) ObserveMoisture(_ context.Context, d entities.Device, m float64) {
	c <- observed{deviceID: d.ID, moisture: m}
}

type fixture struct {
	reg  *registry.Registry
	arb  *arbitrator.Arbitrator
	sink *memorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storetest.Open(t)
	reg := registry.New(db, nil)
	return &fixture{reg: reg, arb: arbitratorFor(db), sink: &memorySink{}}
}

func (f *fixture) register(t *testing.T, userID, deviceID string, channels ...string) {
	t.Helper()
	_, err := f.reg.RegisterDevice(context.Background(), userID, registry.DeviceInput{ID: deviceID, Channels: channels})
	require.NoError(t, err)
}

func (f *fixture) activate(t *testing.T, userID, deviceID string) {
	t.Helper()
	_, err := f.arb.SetActive(context.Background(), userID, deviceID)
	require.NoError(t, err)
}

func (f *fixture) router(opts ...Option) *Router {
	return NewRouter(f.reg, f.arb, f.sink, nil, opts...)
}

func TestHintedMessageOnlyForActiveDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "u1", "A")
	f.register(t, "u1", "B")
	f.activate(t, "u1", "A")
	r := f.router()

	out := r.RouteRaw(ctx, model.ChannelSoilMoisture, []byte(`{"deviceId":"B","value":41}`))
	assert.False(t, out.Accepted)
	assert.Equal(t, ReasonNotActive, out.Reason)
	assert.Empty(t, f.sink.all())

	out = r.RouteRaw(ctx, model.ChannelSoilMoisture, []byte(`{"deviceId":"A","value":42}`))
	require.True(t, out.Accepted)
	readings := f.sink.all()
	require.Len(t, readings, 1)
	assert.Equal(t, "A", readings[0].DeviceID)
	require.NotNil(t, readings[0].UserID)
	assert.Equal(t, "u1", *readings[0].UserID)
	assert.Equal(t, "42", readings[0].Value)
	assert.Equal(t, model.ChannelSoilMoisture, readings[0].Channel)

	dev, err := f.reg.GetDevice(ctx, "A")
	require.NoError(t, err)
	assert.NotNil(t, dev.LastActivity)
}

func TestUnhintedPicksAnActiveCandidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "u1", "A")
	f.register(t, "u1", "B")
	f.register(t, "u2", "D")
	f.activate(t, "u1", "A")
	f.activate(t, "u2", "D")
	r := f.router()

	for i := 0; i < 5; i++ {
		out := r.RouteRaw(ctx, model.ChannelTemperature, []byte("21.5"))
		require.True(t, out.Accepted)
		assert.Contains(t, []string{"A", "D"}, out.DeviceID)
	}
	for _, rd := range f.sink.all() {
		assert.NotEqual(t, "B", rd.DeviceID)
	}
}

func TestLastWriterWinsGatesTelemetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "u1", "A")
	f.register(t, "u1", "B")
	f.activate(t, "u1", "A")
	f.activate(t, "u1", "B")

	active, ok, err := f.arb.GetActive(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", active)

	r := f.router()
	assert.Equal(t, ReasonNotActive, r.RouteRaw(ctx, model.ChannelHumidity, []byte(`{"deviceId":"A","value":"60"}`)).Reason)
	assert.True(t, r.RouteRaw(ctx, model.ChannelHumidity, []byte(`{"deviceId":"B","value":"60"}`)).Accepted)
}

func TestRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "u1", "A", model.ChannelSoilMoisture)
	f.register(t, "u2", "C", model.ChannelSoilMoisture)
	f.activate(t, "u1", "A")
	r := f.router()

	tests := []struct {
		name    string
		channel string
		payload string
		want    Reason
	}{
		{"empty payload", model.ChannelSoilMoisture, "", ReasonEmptyValue},
		{"null value", model.ChannelSoilMoisture, `{"deviceId":"A","value":null}`, ReasonEmptyValue},
		{"undeclared channel", model.ChannelTemperature, "20", ReasonNoDevice},
		{"unknown hint does not fall back", model.ChannelSoilMoisture, `{"deviceId":"ghost","value":30}`, ReasonHintNotFound},
		{"user without active device", model.ChannelSoilMoisture, `{"deviceId":"C","value":30}`, ReasonNotActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.RouteRaw(ctx, tt.channel, []byte(tt.payload))
			assert.False(t, out.Accepted)
			assert.Equal(t, tt.want, out.Reason)
		})
	}
	assert.Empty(t, f.sink.all())
}

func TestUnhintedWithoutActiveDevice(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "A")
	out := f.router().RouteRaw(context.Background(), model.ChannelMode, []byte("1"))
	assert.Equal(t, ReasonNoActiveDevice, out.Reason)
}

func TestSinkFullIsReportedNotRaised(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "A")
	f.activate(t, "u1", "A")
	f.sink.full = true

	out := f.router().RouteRaw(context.Background(), model.ChannelMode, []byte("0"))
	assert.False(t, out.Accepted)
	assert.Equal(t, ReasonQueueFull, out.Reason)
	assert.Equal(t, "A", out.DeviceID)
}

func TestObserverGetsAcceptedMoisture(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "A")
	f.activate(t, "u1", "A")
	obs := make(chanObserver, 1)
	r := f.router(WithObserver(obs))

	require.True(t, r.RouteRaw(context.Background(), model.ChannelTemperature, []byte("19")).Accepted)
	require.True(t, r.RouteRaw(context.Background(), model.ChannelSoilMoisture, []byte("27.5")).Accepted)

	select {
	case got := <-obs:
		assert.Equal(t, observed{deviceID: "A", moisture: 27.5}, got)
	case <-time.After(time.Second):
		t.Fatal("observer not called")
	}
}

func TestObserverSeesDeviceReadingsInOrder(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "A")
	f.activate(t, "u1", "A")
	obs := make(chanObserver) // unbuffered: the first delivery blocks while the rest queue up
	r := f.router(WithObserver(obs))

	values := []float64{25, 75, 50, 10}
	for _, v := range values {
		payload := []byte(strconv.FormatFloat(v, 'f', -1, 64))
		require.True(t, r.RouteRaw(context.Background(), model.ChannelSoilMoisture, payload).Accepted)
	}

	var got []float64
	for range values {
		select {
		case o := <-obs:
			got = append(got, o.moisture)
		case <-time.After(time.Second):
			t.Fatalf("observer got %v, want %v", got, values)
		}
	}
	assert.Equal(t, values, got)
}

func TestStrictOrderingRoutesConcurrently(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "A")
	f.activate(t, "u1", "A")
	locks := arbitrator.NewUserLocks()
	r := f.router(WithUserLocks(locks))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RouteRaw(context.Background(), model.ChannelHumidity, []byte("55"))
		}()
	}
	wg.Wait()
	assert.Len(t, f.sink.all(), 8)
}

type failingDevices struct{}

func (failingDevices) FindDevicesByChannel(context.Context, string) ([]entities.Device, error) {
	return nil, errors.New("db down")
}
func (failingDevices) SetActivity(context.Context, string, time.Time) error { return nil }

func TestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := NewRouter(failingDevices{}, nil, &memorySink{}, nil, WithMetrics(m))

	out := r.Route(context.Background(), messages.Telemetry{Channel: model.ChannelMode, Value: "1"})
	assert.Equal(t, ReasonLookupFailed, out.Reason)
	r.RouteRaw(context.Background(), "custom-feed", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues(model.ChannelMode, string(ReasonLookupFailed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("other", string(ReasonEmptyValue))))
}

func arbitratorFor(db *gorm.DB) *arbitrator.Arbitrator {
	return arbitrator.New(db, nil)
}
