package irrigation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/messages"
)

type UserDevices interface {
	GetUserDevice(ctx context.Context, userID, id string) (*entities.Device, error)
}

type ActiveDevices interface {
	IsActive(ctx context.Context, userID, deviceID string) (bool, error)
}

// Commander validates user commands and hands them to the dispatcher without
// waiting for delivery.
type Commander struct {
	devices    UserDevices
	active     ActiveDevices
	dispatcher Dispatcher
	log        *zap.Logger
}

func NewCommander(devices UserDevices, active ActiveDevices, dispatcher Dispatcher, log *zap.Logger) *Commander {
	if log == nil {
		log = zap.NewNop()
	}
	return &Commander{devices: devices, active: active, dispatcher: dispatcher, log: log}
}

// Send checks that deviceID is the user's active device and declares channel, then
// dispatches value in the background.
func (c *Commander) Send(ctx context.Context, userID, deviceID, channel, value string) (messages.Command, error) {
	value = strings.TrimSpace(value)
	if !model.IsCommandChannel(channel) {
		return messages.Command{}, fmt.Errorf("%w: %q is not a command channel", model.ErrValidation, channel)
	}
	if value != "0" && value != "1" {
		return messages.Command{}, fmt.Errorf("%w: value must be 0 or 1", model.ErrValidation)
	}
	dev, err := c.devices.GetUserDevice(ctx, userID, deviceID)
	if err != nil {
		return messages.Command{}, err
	}
	if !dev.SupportsChannel(channel) {
		return messages.Command{}, fmt.Errorf("%w: device %s does not declare %s", model.ErrValidation, dev.ID, channel)
	}
	ok, err := c.active.IsActive(ctx, userID, dev.ID)
	if err != nil {
		return messages.Command{}, err
	}
	if !ok {
		return messages.Command{}, fmt.Errorf("%w: %s", model.ErrNotActive, dev.ID)
	}

	cmd := messages.Command{Channel: channel, Value: value, DeviceID: dev.ID}
	go c.dispatch(cmd)
	return cmd, nil
}

func (c *Commander) dispatch(cmd messages.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := c.dispatcher.Dispatch(ctx, cmd.Channel, cmd.Value); err != nil {
		c.log.Error("command dispatch failed",
			zap.String("device_id", cmd.DeviceID), zap.String("channel", cmd.Channel), zap.Error(err))
		return
	}
	c.log.Info("command dispatched",
		zap.String("device_id", cmd.DeviceID), zap.String("channel", cmd.Channel), zap.String("value", cmd.Value))
}
