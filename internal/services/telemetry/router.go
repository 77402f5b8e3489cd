package telemetry

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/messages"
)

// Devices is the registry view the router resolves candidates from.
type Devices interface {
	FindDevicesByChannel(ctx context.Context, channel string) ([]entities.Device, error)
	SetActivity(ctx context.Context, deviceID string, at time.Time) error
}

// ActiveDevices answers which device is currently active for a user.
type ActiveDevices interface {
	GetActive(ctx context.Context, userID string) (string, bool, error)
}

// Sink takes accepted readings. Submit must not block.
type Sink interface {
	Submit(r entities.Reading) bool
}

// MoistureObserver is notified of every accepted soil moisture reading.
type MoistureObserver interface {
	ObserveMoisture(ctx context.Context, device entities.Device, moisture float64)
}

// Locker serializes work per user.
type Locker interface {
	Lock(userID string) func()
}

type Reason string

const (
	ReasonAccepted       Reason = "accepted"
	ReasonEmptyValue     Reason = "empty_value"
	ReasonNoDevice       Reason = "no_device_for_channel"
	ReasonHintNotFound   Reason = "hinted_device_not_found"
	ReasonNotActive      Reason = "device_not_active"
	ReasonNoActiveDevice Reason = "no_active_device"
	ReasonLookupFailed   Reason = "lookup_failed"
	ReasonQueueFull      Reason = "persistence_unavailable"
)

// Outcome reports what happened to one message. Rejections are never returned as errors.
type Outcome struct {
	Accepted  bool
	Reason    Reason
	Channel   string
	Value     string
	UserID    string
	DeviceID  string
	ReadingID uuid.UUID
}

type Option func(*Router)

func WithObserver(o MoistureObserver) Option { return func(r *Router) { r.observer = o } }
func WithMetrics(m *Metrics) Option { return func(r *Router) { r.metrics = m } }
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// WithUserLocks makes the active check and the hand-off to the sink atomic per user.
func WithUserLocks(l Locker) Option { return func(r *Router) { r.locks = l } }

// Router attributes inbound telemetry to exactly one device and hands accepted
// readings to the sink.
type Router struct {
	devices  Devices
	active   ActiveDevices
	sink     Sink
	observer MoistureObserver
	metrics  *Metrics
	locks    Locker
	log      *zap.Logger
	now      func() time.Time

	obsMu   sync.Mutex
	pending map[string][]observation // per device; a key is present while its drain runs
}

type observation struct {
	ctx      context.Context
	dev      entities.Device
	moisture float64
}

func NewRouter(devices Devices, active ActiveDevices, sink Sink, log *zap.Logger, opts ...Option) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{devices: devices, active: active, sink: sink, log: log, now: time.Now,
		pending: make(map[string][]observation)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RouteRaw decodes payload and routes it.
func (r *Router) RouteRaw(ctx context.Context, channel string, payload []byte) Outcome {
	t, err := messages.ParseTelemetry(channel, payload, r.now())
	if err != nil {
		return r.finish(Outcome{Channel: channel, Reason: ReasonEmptyValue}, t.DeviceHint)
	}
	return r.Route(ctx, t)
}

func (r *Router) Route(ctx context.Context, t messages.Telemetry) Outcome {
	out := Outcome{Channel: t.Channel, Value: t.Value}
	if t.Value == "" {
		out.Reason = ReasonEmptyValue
		return r.finish(out, t.DeviceHint)
	}

	candidates, err := r.devices.FindDevicesByChannel(ctx, t.Channel)
	if err != nil {
		r.log.Error("candidate lookup failed", zap.String("channel", t.Channel), zap.Error(err))
		out.Reason = ReasonLookupFailed
		return r.finish(out, t.DeviceHint)
	}
	if len(candidates) == 0 {
		out.Reason = ReasonNoDevice
		return r.finish(out, t.DeviceHint)
	}

	if t.DeviceHint != "" {
		for _, dev := range candidates {
			if dev.ID != t.DeviceHint {
				continue
			}
			accepted, err := r.tryAccept(ctx, t, dev, &out)
			switch {
			case err != nil:
				out.Reason = ReasonLookupFailed
			case !accepted && out.Reason == "":
				out.Reason = ReasonNotActive
				out.UserID = dev.UserID
				out.DeviceID = dev.ID
			}
			return r.finish(out, t.DeviceHint)
		}
		out.Reason = ReasonHintNotFound
		return r.finish(out, t.DeviceHint)
	}

	// No hint: the first candidate that is its user's active device wins.
	for _, dev := range candidates {
		accepted, err := r.tryAccept(ctx, t, dev, &out)
		if err != nil {
			r.log.Warn("active lookup failed, trying next candidate",
				zap.String("user_id", dev.UserID), zap.String("device_id", dev.ID), zap.Error(err))
			continue
		}
		if accepted || out.Reason != "" {
			return r.finish(out, "")
		}
	}
	out.Reason = ReasonNoActiveDevice
	return r.finish(out, "")
}

// tryAccept checks that dev is its user's active device and, if so, hands the reading
// to the sink. A false return with out.Reason unset means dev was not active.
func (r *Router) tryAccept(ctx context.Context, t messages.Telemetry, dev entities.Device, out *Outcome) (bool, error) {
	if r.locks != nil {
		unlock := r.locks.Lock(dev.UserID)
		defer unlock()
	}

	activeID, ok, err := r.active.GetActive(ctx, dev.UserID)
	if err != nil {
		return false, err
	}
	if !ok || activeID != dev.ID {
		return false, nil
	}

	at := r.now().UTC()
	if err := r.devices.SetActivity(ctx, dev.ID, at); err != nil && !errors.Is(err, model.ErrNotFound) {
		r.log.Warn("failed to record device activity", zap.String("device_id", dev.ID), zap.Error(err))
	}

	userID := dev.UserID
	reading := entities.Reading{
		ID:        uuid.New(),
		UserID:    &userID,
		DeviceID:  dev.ID,
		Channel:   t.Channel,
		Value:     t.Value,
		CreatedAt: at,
	}
	out.UserID = dev.UserID
	out.DeviceID = dev.ID
	if !r.sink.Submit(reading) {
		out.Reason = ReasonQueueFull
		return false, nil
	}
	out.Accepted = true
	out.Reason = ReasonAccepted
	out.ReadingID = reading.ID

	if r.observer != nil && t.Channel == model.ChannelSoilMoisture {
		if v, err := strconv.ParseFloat(t.Value, 64); err == nil {
			r.observe(observation{ctx: context.WithoutCancel(ctx), dev: dev, moisture: v})
		}
	}
	return true, nil
}

// observe hands o to the observer off the caller's goroutine. Readings of one device
// reach the observer one at a time in acceptance order.
func (r *Router) observe(o observation) {
	r.obsMu.Lock()
	q, running := r.pending[o.dev.ID]
	r.pending[o.dev.ID] = append(q, o)
	r.obsMu.Unlock()
	if !running {
		go r.drain(o.dev.ID)
	}
}

func (r *Router) drain(deviceID string) {
	for {
		r.obsMu.Lock()
		q := r.pending[deviceID]
		if len(q) == 0 {
			delete(r.pending, deviceID)
			r.obsMu.Unlock()
			return
		}
		o := q[0]
		r.pending[deviceID] = q[1:]
		r.obsMu.Unlock()

		r.observer.ObserveMoisture(o.ctx, o.dev, o.moisture)
	}
}

func (r *Router) finish(out Outcome, hint string) Outcome {
	r.metrics.observe(out)
	if out.Accepted {
		r.log.Debug("telemetry accepted",
			zap.String("channel", out.Channel), zap.String("user_id", out.UserID),
			zap.String("device_id", out.DeviceID), zap.String("value", out.Value))
		return out
	}
	r.log.Info("telemetry rejected",
		zap.String("channel", out.Channel), zap.String("reason", string(out.Reason)),
		zap.String("device_hint", hint), zap.String("device_id", out.DeviceID))
	return out
}
