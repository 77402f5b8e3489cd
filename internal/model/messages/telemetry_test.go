package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTelemetry(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		payload string
		value   string
		hint    string
		err     error
	}{
		{name: "plain number", payload: " 42 ", value: "42"},
		{name: "plain string", payload: "ON", value: "ON"},
		{name: "structured with hint", payload: `{"deviceId":"dev-1","value":27.5}`, value: "27.5", hint: "dev-1"},
		{name: "structured string value", payload: `{"deviceId":"dev-1","value":"1"}`, value: "1", hint: "dev-1"},
		{name: "structured without hint", payload: `{"value":true}`, value: "true"},
		{name: "structured null value", payload: `{"deviceId":"dev-1","value":null}`, hint: "dev-1", err: ErrEmptyValue},
		{name: "structured missing value", payload: `{"deviceId":"dev-1"}`, hint: "dev-1", err: ErrEmptyValue},
		{name: "broken json kept verbatim", payload: `{not json`, value: "{not json"},
		{name: "empty", payload: "   ", err: ErrEmptyValue},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTelemetry("sensor-soil", []byte(tc.payload), now)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				assert.Equal(t, tc.hint, got.DeviceHint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.value, got.Value)
			assert.Equal(t, tc.hint, got.DeviceHint)
			assert.Equal(t, "sensor-soil", got.Channel)
			assert.Equal(t, now, got.ReceivedAt)
		})
	}
}

func TestScheduleStatus(t *testing.T) {
	assert.Equal(t, "dev-9:1", ScheduleStatus("dev-9", true))
	assert.Equal(t, "dev-9:0", ScheduleStatus("dev-9", false))
}
