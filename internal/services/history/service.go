package history

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/persistence"
)

const averageWindowDays = 30

type ReadingSource interface {
	Between(ctx context.Context, channel string, f persistence.Filter) ([]entities.Reading, error)
}

type DeviceLister interface {
	ListDevices(ctx context.Context, userID string) ([]entities.Device, error)
}

// Service answers history queries over a user's stored readings.
type Service struct {
	readings ReadingSource
	devices  DeviceLister
	loc      *time.Location
	log      *zap.Logger
	now      func() time.Time
}

func NewService(readings ReadingSource, devices DeviceLister, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{readings: readings, devices: devices, loc: loc, log: log, now: time.Now}
}

func (s *Service) series(ctx context.Context, userID, deviceID, channel string) ([]entities.Reading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", model.ErrValidation)
	}
	return s.readings.Between(ctx, channel, persistence.Filter{UserID: userID, DeviceID: deviceID})
}

func (s *Service) Mode(ctx context.Context, userID, deviceID string) (ModeSummary, error) {
	rs, err := s.series(ctx, userID, deviceID, model.ChannelMode)
	if err != nil {
		return ModeSummary{}, err
	}
	return Mode(rs), nil
}

func (s *Service) Pump(ctx context.Context, userID, deviceID string) (PumpSummary, error) {
	rs, err := s.series(ctx, userID, deviceID, model.ChannelPumpMotor)
	if err != nil {
		return PumpSummary{}, err
	}
	return Pump(rs, s.now()), nil
}

// MoistureAverages reports daily soil moisture averages of the last 30 days for
// every device of the user.
func (s *Service) MoistureAverages(ctx context.Context, userID string) ([]DeviceAverages, error) {
	devs, err := s.devices.ListDevices(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	from := now.AddDate(0, 0, -averageWindowDays)
	out := make([]DeviceAverages, 0, len(devs))
	for _, d := range devs {
		rs, err := s.readings.Between(ctx, model.ChannelSoilMoisture,
			persistence.Filter{UserID: userID, DeviceID: d.ID, From: from})
		if err != nil {
			return nil, err
		}
		daily := DailyAverages(rs, s.loc)
		out = append(out, DeviceAverages{
			DeviceID: d.ID,
			Averages: Summarize7And30(daily, now, s.loc),
			Daily:    daily,
		})
	}
	s.log.Debug("moisture averages computed", zap.String("user_id", userID), zap.Int("devices", len(out)))
	return out, nil
}
