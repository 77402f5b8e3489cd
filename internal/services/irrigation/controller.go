package irrigation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

const dispatchTimeout = 10 * time.Second

// Dispatcher relays a value on a channel to the device fleet. Delivery is not confirmed.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel, value string) error
}

type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (*entities.Device, error)
	SetActivity(ctx context.Context, deviceID string, at time.Time) error
}

type PlantLookup interface {
	LookupPlant(ctx context.Context, areaID, plantID uuid.UUID) (*entities.Area, *entities.Plant, error)
}

// Controller evaluates soil moisture against the linked plant and, when a dispatcher
// is set, drives the pump.
type Controller struct {
	devices    DeviceStore
	plants     PlantLookup
	dispatcher Dispatcher
	log        *zap.Logger
	now        func() time.Time

	mu   sync.Mutex
	pump map[string]model.Action // last pump action sent per device
}

// NewController returns a Controller. A nil dispatcher disables automatic pump control.
func NewController(devices DeviceStore, plants PlantLookup, dispatcher Dispatcher, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		devices:    devices,
		plants:     plants,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
		pump:       make(map[string]model.Action),
	}
}

// Decide resolves the device's plant link and evaluates moisture. A link to a plant
// or area that no longer exists evaluates as plant-not-found.
func (c *Controller) Decide(ctx context.Context, dev entities.Device, moisture float64) (Decision, error) {
	if !dev.Linked() {
		return Evaluate(dev, nil, moisture), nil
	}
	_, plant, err := c.plants.LookupPlant(ctx, *dev.AreaID, *dev.PlantID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return Decision{}, err
		}
		c.log.Warn("device linked to a missing plant",
			zap.String("device_id", dev.ID), zap.String("area_id", dev.AreaID.String()),
			zap.String("plant_id", dev.PlantID.String()), zap.Error(err))
		plant = nil
	}
	return Evaluate(dev, plant, moisture), nil
}

// ProcessDeviceData handles a direct report from a device: it records activity and
// returns the irrigation decision without sending anything.
func (c *Controller) ProcessDeviceData(ctx context.Context, deviceID string, moisture float64) (Decision, error) {
	dev, err := c.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return Decision{}, err
	}
	if err := c.devices.SetActivity(ctx, dev.ID, c.now().UTC()); err != nil {
		c.log.Warn("failed to record device activity", zap.String("device_id", dev.ID), zap.Error(err))
	}
	d, err := c.Decide(ctx, *dev, moisture)
	if err != nil {
		return Decision{}, err
	}
	c.log.Info("device data processed",
		zap.String("device_id", dev.ID), zap.Float64("moisture", moisture), zap.String("action", string(d.Action)))
	return d, nil
}

// ObserveMoisture drives the pump from accepted soil readings. A command is sent only
// when the pump action differs from the last one sent for the device.
func (c *Controller) ObserveMoisture(ctx context.Context, dev entities.Device, moisture float64) {
	if c.dispatcher == nil {
		return
	}
	d, err := c.Decide(ctx, dev, moisture)
	if err != nil {
		c.log.Error("auto irrigation: evaluation failed", zap.String("device_id", dev.ID), zap.Error(err))
		return
	}
	value, ok := d.Action.PumpValue()
	if !ok || !c.swapPump(dev.ID, d.Action) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := c.dispatcher.Dispatch(ctx, model.ChannelPumpMotor, value); err != nil {
		c.log.Error("auto irrigation: pump command failed",
			zap.String("device_id", dev.ID), zap.String("value", value), zap.Error(err))
		c.forgetPump(dev.ID, d.Action)
		return
	}
	c.log.Info("auto irrigation: pump command sent",
		zap.String("device_id", dev.ID), zap.String("action", string(d.Action)),
		zap.Float64("moisture", moisture), zap.String("plant", d.PlantName))
}

func (c *Controller) swapPump(deviceID string, a model.Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pump[deviceID] == a {
		return false
	}
	c.pump[deviceID] = a
	return true
}

// forgetPump clears a failed send so the next reading retries it.
func (c *Controller) forgetPump(deviceID string, a model.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pump[deviceID] == a {
		delete(c.pump, deviceID)
	}
}
