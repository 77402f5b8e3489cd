package messages

// Command is a value relayed to the device fleet on a channel. Delivery is not confirmed.
type Command struct {
	Channel  string `json:"channel"`
	Value    string `json:"value"`
	DeviceID string `json:"deviceId,omitempty"`
}

// ScheduleStatus is the value sent on the schedule channel when a watering job starts or stops.
func ScheduleStatus(deviceID string, on bool) string {
	if on {
		return deviceID + ":1"
	}
	return deviceID + ":0"
}
