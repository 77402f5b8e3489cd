package persistence

import (
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

// InfluxMirror copies persisted readings to InfluxDB, one measurement per channel.
// Writes are batched by the client; errors arrive asynchronously.
type InfluxMirror struct {
	api     api.WriteAPI
	log     *zap.Logger
	mu      sync.RWMutex
	lastErr time.Time
}

func NewInfluxMirror(client influxdb2.Client, org, bucket string, log *zap.Logger) *InfluxMirror {
	if log == nil {
		log = zap.NewNop()
	}
	m := &InfluxMirror{
		api:     client.WriteAPI(org, bucket),
		log:     log,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range m.api.Errors() {
			if err == nil {
				continue
			}
			m.mu.Lock()
			m.lastErr = time.Now()
			m.mu.Unlock()
			m.log.Error("influx write error", zap.Error(err))
		}
	}()
	return m
}

func (m *InfluxMirror) Mirror(r entities.Reading) {
	m.api.WritePoint(ReadingToPoint(r))
}

// Flush forces pending points out, used on shutdown.
func (m *InfluxMirror) Flush() {
	m.api.Flush()
}

func (m *InfluxMirror) LastErrorAge() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastErr)
}

// ReadingToPoint converts a reading. The raw value is always kept as a string field,
// numeric values are also written as "numeric" so they can be aggregated.
func ReadingToPoint(r entities.Reading) *write.Point {
	tags := map[string]string{
		"device_id": r.DeviceID,
	}
	if r.UserID != nil {
		tags["user_id"] = *r.UserID
	}
	fields := map[string]interface{}{
		"value": r.Value,
	}
	if f, ok := r.Float(); ok {
		fields["numeric"] = f
	}
	return influxdb2.NewPoint(sanitizeMeasurement(r.Channel), tags, fields, r.CreatedAt)
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
