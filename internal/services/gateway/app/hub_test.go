package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

func TestHubDeliversOwnReadingsOnly(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/readings?token=" + token(t, "u1")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return e.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	u1, u2 := "u1", "u2"
	e.hub.Mirror(entities.Reading{ID: uuid.New(), UserID: &u2, DeviceID: "other", Channel: model.ChannelSoilMoisture, Value: "10"})
	e.hub.Mirror(entities.Reading{ID: uuid.New(), DeviceID: "nobody", Channel: model.ChannelSoilMoisture, Value: "11"})
	id := uuid.New()
	e.hub.Mirror(entities.Reading{ID: id, UserID: &u1, DeviceID: "d1", Channel: model.ChannelSoilMoisture, Value: "42"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev ReadingEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "reading", ev.Type)
	assert.Equal(t, "d1", ev.DeviceID)
	assert.Equal(t, "42", ev.Value)
	assert.Equal(t, id.String(), ev.ReadingID)
}

func TestHubRejectsMissingToken(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/readings", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
