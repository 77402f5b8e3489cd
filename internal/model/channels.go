package model

// Channel names shared by every device on the broker side.
const (
	ChannelTemperature  = "sensor-temp"
	ChannelSoilMoisture = "sensor-soil"
	ChannelHumidity     = "sensor-humidity"
	ChannelMode         = "mode"
	ChannelPumpMotor    = "pump-motor"
)

// DefaultChannels is assigned to devices registered without an explicit channel list.
var DefaultChannels = []string{
	ChannelTemperature,
	ChannelSoilMoisture,
	ChannelHumidity,
	ChannelMode,
	ChannelPumpMotor,
}

// IsCommandChannel reports whether values can be sent to devices on the channel.
func IsCommandChannel(channel string) bool {
	return channel == ChannelMode || channel == ChannelPumpMotor
}

// IsKnownChannel reports whether channel is one of the DefaultChannels.
func IsKnownChannel(channel string) bool {
	for _, c := range DefaultChannels {
		if c == channel {
			return true
		}
	}
	return false
}
