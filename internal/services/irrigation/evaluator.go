package irrigation

import (
	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

// Decision is the outcome of evaluating one soil moisture value for a device.
// Thresholds are only set when the device resolved to a plant.
type Decision struct {
	DeviceID        string       `json:"deviceId,omitempty"`
	DeviceName      string       `json:"deviceName,omitempty"`
	Action          model.Action `json:"action"`
	PlantName       string       `json:"plantName,omitempty"`
	CurrentMoisture float64      `json:"currentMoisture"`
	MinThreshold    *float64     `json:"minThreshold,omitempty"`
	MaxThreshold    *float64     `json:"maxThreshold,omitempty"`
}

// Evaluate maps a device, the plant its link resolved to (nil when the lookup failed)
// and a moisture value to an action. It has no side effects.
func Evaluate(dev entities.Device, plant *entities.Plant, moisture float64) Decision {
	d := Decision{DeviceID: dev.ID, DeviceName: dev.Name, CurrentMoisture: moisture}
	if !dev.Linked() {
		d.Action = model.ActionUnlinked
		return d
	}
	if plant == nil || plant.AreaID != *dev.AreaID || plant.ID != *dev.PlantID {
		d.Action = model.ActionPlantNotFound
		return d
	}

	lo, hi := plant.MoistureThreshold.Min, plant.MoistureThreshold.Max
	d.PlantName = plant.Name
	d.MinThreshold = &lo
	d.MaxThreshold = &hi

	switch {
	case !dev.IsActive:
		d.Action = model.ActionDeviceInactive
	case moisture < lo:
		d.Action = model.ActionTurnOnPump
	case moisture > hi:
		d.Action = model.ActionTurnOffPump
	default:
		d.Action = model.ActionMaintain
	}
	return d
}
