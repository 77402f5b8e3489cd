package model

// Action is the irrigation decision derived from a soil moisture reading.
type Action string

const (
	ActionTurnOnPump     Action = "turn_on_pump"
	ActionTurnOffPump    Action = "turn_off_pump"
	ActionMaintain       Action = "maintain_current_state"
	ActionDeviceInactive Action = "device_inactive"
	ActionUnlinked       Action = "unlinked"
	ActionPlantNotFound  Action = "plant_not_found"
)

// PumpValue maps a pump action to the value sent on the pump-motor channel.
func (a Action) PumpValue() (string, bool) {
	switch a {
	case ActionTurnOnPump:
		return "1", true
	case ActionTurnOffPump:
		return "0", true
	}
	return "", false
}
