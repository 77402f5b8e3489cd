package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

type DeviceInput struct {
	ID         string
	Name       string
	Channels   []string
	AreaID     *uuid.UUID
	PlantIndex *int
	IsActive   *bool
}

// DeviceUpdate changes descriptive fields. Nil fields are left alone.
type DeviceUpdate struct {
	Name     *string
	Channels []string
	IsActive *bool
}

// DeviceLink is one row of the device to area/plant mapping.
type DeviceLink struct {
	DeviceID   string     `json:"deviceId"`
	DeviceName string     `json:"deviceName"`
	IsActive   bool       `json:"isActive"`
	AreaID     *uuid.UUID `json:"areaId"`
	AreaName   string     `json:"areaName,omitempty"`
	PlantIndex int        `json:"plantIndex"`
	PlantName  string     `json:"plantName,omitempty"`
}

// RegisterDevice creates a device. The id must not exist for any user.
// A failed registration leaves no link behind.
func (r *Registry) RegisterDevice(ctx context.Context, userID string, in DeviceInput) (*entities.Device, error) {
	id := strings.TrimSpace(in.ID)
	if userID == "" {
		return nil, validation("user id is required")
	}
	if id == "" {
		return nil, validation("device id is required")
	}
	if in.AreaID == nil && in.PlantIndex != nil && *in.PlantIndex >= 0 {
		return nil, validation("plant index requires an area")
	}

	now := r.now()
	dev := entities.Device{
		ID:       id,
		UserID:   userID,
		Name:     strings.TrimSpace(in.Name),
		IsActive: true,
	}
	if dev.Name == "" {
		dev.Name = id
	}
	if in.IsActive != nil {
		dev.IsActive = *in.IsActive
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&entities.Device{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateDevice, id)
		}

		if in.AreaID != nil {
			plantID, err := resolvePlant(tx, userID, *in.AreaID, in.PlantIndex)
			if err != nil {
				return err
			}
			areaID := *in.AreaID
			dev.AreaID = &areaID
			dev.PlantID = plantID
			dev.LinkedAt = &now
		}

		if err := tx.Omit(clause.Associations).Create(&dev).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", ErrDuplicateDevice, id)
			}
			return err
		}
		return createChannels(tx, id, normalizeChannels(in.Channels))
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("device registered", zap.String("device_id", id), zap.String("user_id", userID))
	return r.GetDevice(ctx, id)
}

func createChannels(tx *gorm.DB, deviceID string, channels []string) error {
	rows := make([]entities.DeviceChannel, 0, len(channels))
	for _, c := range channels {
		rows = append(rows, entities.DeviceChannel{DeviceID: deviceID, Channel: c})
	}
	return tx.Create(&rows).Error
}

// GetDevice loads a device regardless of owner.
func (r *Registry) GetDevice(ctx context.Context, id string) (*entities.Device, error) {
	var dev entities.Device
	err := r.db.WithContext(ctx).Preload("Channels").First(&dev, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, ErrDeviceNotFound, id)
	}
	devs := []entities.Device{dev}
	if err := r.decorate(r.db.WithContext(ctx), devs); err != nil {
		return nil, err
	}
	return &devs[0], nil
}

// GetUserDevice loads a device owned by userID. Devices of other users are reported as missing.
func (r *Registry) GetUserDevice(ctx context.Context, userID, id string) (*entities.Device, error) {
	dev, err := r.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if dev.UserID != userID {
		return nil, fmt.Errorf("%w %s", ErrDeviceNotFound, id)
	}
	return dev, nil
}

func (r *Registry) ListDevices(ctx context.Context, userID string) ([]entities.Device, error) {
	return r.listDevices(ctx, r.db.WithContext(ctx).Where("user_id = ?", userID))
}

// ListDevicesByArea returns the devices linked to an area owned by userID.
func (r *Registry) ListDevicesByArea(ctx context.Context, userID string, areaID uuid.UUID) ([]entities.Device, error) {
	if _, err := loadArea(r.db.WithContext(ctx), userID, areaID); err != nil {
		return nil, err
	}
	return r.listDevices(ctx, r.db.WithContext(ctx).Where("user_id = ? AND area_id = ?", userID, areaID))
}

func (r *Registry) ListUnassignedDevices(ctx context.Context, userID string) ([]entities.Device, error) {
	return r.listDevices(ctx, r.db.WithContext(ctx).Where("user_id = ? AND area_id IS NULL", userID))
}

func (r *Registry) listDevices(ctx context.Context, q *gorm.DB) ([]entities.Device, error) {
	var devs []entities.Device
	if err := q.Preload("Channels").Order("created_at, id").Find(&devs).Error; err != nil {
		return nil, err
	}
	if err := r.decorate(r.db.WithContext(ctx), devs); err != nil {
		return nil, err
	}
	return devs, nil
}

// FindDevicesByChannel returns every device, of any user, declaring the channel.
// Results come in registration order; callers must not depend on it.
func (r *Registry) FindDevicesByChannel(ctx context.Context, channel string) ([]entities.Device, error) {
	var devs []entities.Device
	err := r.db.WithContext(ctx).
		Joins("JOIN device_channels ON device_channels.device_id = devices.id").
		Where("device_channels.channel = ?", channel).
		Preload("Channels").
		Order("devices.created_at, devices.id").
		Find(&devs).Error
	if err != nil {
		return nil, err
	}
	for i := range devs {
		devs[i].Feeds = feedsOf(&devs[i])
		devs[i].PlantIndex = -1
	}
	return devs, nil
}

func (r *Registry) UpdateDevice(ctx context.Context, userID, id string, upd DeviceUpdate) (*entities.Device, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dev, err := ownedDevice(tx, userID, id)
		if err != nil {
			return err
		}
		updates := map[string]any{}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return validation("device name must not be empty")
			}
			updates["name"] = name
		}
		if upd.IsActive != nil {
			updates["is_active"] = *upd.IsActive
		}
		if len(updates) > 0 {
			if err := tx.Model(&entities.Device{}).Where("id = ?", dev.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		if upd.Channels != nil {
			if err := tx.Where("device_id = ?", dev.ID).Delete(&entities.DeviceChannel{}).Error; err != nil {
				return err
			}
			return createChannels(tx, dev.ID, normalizeChannels(upd.Channels))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetDevice(ctx, id)
}

// UpdateLink moves a device between areas. A nil areaID clears the link and the plant.
// A nil plantIndex keeps the current plant when the area is unchanged and clears it otherwise;
// a negative index clears it.
func (r *Registry) UpdateLink(ctx context.Context, userID, deviceID string, areaID *uuid.UUID, plantIndex *int) (*entities.Device, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dev, err := ownedDevice(tx, userID, deviceID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if areaID == nil {
			if plantIndex != nil && *plantIndex >= 0 {
				return validation("plant index requires an area")
			}
			updates["area_id"] = nil
			updates["plant_id"] = nil
			updates["linked_at"] = nil
		} else {
			sameArea := dev.AreaID != nil && *dev.AreaID == *areaID
			var plantID *uuid.UUID
			if sameArea && plantIndex == nil {
				if _, err := loadArea(tx, userID, *areaID); err != nil {
					return err
				}
				plantID = dev.PlantID
			} else {
				plantID, err = resolvePlant(tx, userID, *areaID, plantIndex)
				if err != nil {
					return err
				}
			}
			updates["area_id"] = *areaID
			if plantID != nil {
				updates["plant_id"] = *plantID
			} else {
				updates["plant_id"] = nil
			}
			if !sameArea {
				updates["linked_at"] = r.now()
			}
		}
		return tx.Model(&entities.Device{}).Where("id = ?", dev.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("device link updated", zap.String("device_id", deviceID), zap.Any("area_id", areaID))
	return r.GetDevice(ctx, deviceID)
}

// SetActivity records when a device was last heard from.
func (r *Registry) SetActivity(ctx context.Context, deviceID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&entities.Device{}).
		Where("id = ?", deviceID).
		UpdateColumn("last_activity", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w %s", ErrDeviceNotFound, deviceID)
	}
	return nil
}

// ToggleActive flips the device enabled flag.
func (r *Registry) ToggleActive(ctx context.Context, userID, id string) (*entities.Device, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dev, err := ownedDevice(tx, userID, id)
		if err != nil {
			return err
		}
		return tx.Model(&entities.Device{}).Where("id = ?", dev.ID).Update("is_active", !dev.IsActive).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetDevice(ctx, id)
}

// DeleteDevice removes the device, its channels and any active assignment pointing at it.
// Its schedules are deactivated so they stop firing for an id that no longer exists.
func (r *Registry) DeleteDevice(ctx context.Context, userID, id string) error {
	var paused int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dev, err := ownedDevice(tx, userID, id)
		if err != nil {
			return err
		}
		if err := tx.Where("device_id = ?", dev.ID).Delete(&entities.DeviceChannel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&entities.Device{}, "id = ?", dev.ID).Error; err != nil {
			return err
		}
		res := tx.Model(&entities.Schedule{}).
			Where("user_id = ? AND device_id = ? AND is_active = ?", userID, dev.ID, true).
			Updates(map[string]any{"is_active": false, "updated_at": r.now()})
		if res.Error != nil {
			return res.Error
		}
		paused = res.RowsAffected
		return tx.Model(&entities.User{}).
			Where("id = ? AND active_device_id = ?", userID, dev.ID).
			Update("active_device_id", nil).Error
	})
	if err != nil {
		return err
	}
	r.log.Info("device deleted", zap.String("device_id", id), zap.String("user_id", userID),
		zap.Int64("schedules_deactivated", paused))
	return nil
}

// DeviceAreaMapping lists every device of the user with its area and plant names.
func (r *Registry) DeviceAreaMapping(ctx context.Context, userID string) ([]DeviceLink, error) {
	devs, err := r.ListDevices(ctx, userID)
	if err != nil {
		return nil, err
	}
	var areas []entities.Area
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Preload("Plants").Find(&areas).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*entities.Area, len(areas))
	for i := range areas {
		byID[areas[i].ID] = &areas[i]
	}

	out := make([]DeviceLink, 0, len(devs))
	for _, d := range devs {
		link := DeviceLink{DeviceID: d.ID, DeviceName: d.Name, IsActive: d.IsActive, AreaID: d.AreaID, PlantIndex: d.PlantIndex}
		if d.AreaID != nil {
			if a, ok := byID[*d.AreaID]; ok {
				link.AreaName = a.Name
				if d.PlantID != nil {
					if p := a.PlantByID(*d.PlantID); p != nil {
						link.PlantName = p.Name
					}
				}
			}
		}
		out = append(out, link)
	}
	return out, nil
}

func ownedDevice(tx *gorm.DB, userID, id string) (*entities.Device, error) {
	var dev entities.Device
	if err := tx.First(&dev, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, notFound(err, ErrDeviceNotFound, id)
	}
	return &dev, nil
}

// resolvePlant maps a presentation index to the plant's stable id.
// A nil or negative index means "no plant".
func resolvePlant(tx *gorm.DB, userID string, areaID uuid.UUID, index *int) (*uuid.UUID, error) {
	if _, err := loadArea(tx, userID, areaID); err != nil {
		return nil, err
	}
	if index == nil || *index < 0 {
		return nil, nil
	}
	var plant entities.Plant
	err := tx.Where("area_id = ? AND position = ?", areaID, *index).First(&plant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrPlantIndex, *index)
	}
	if err != nil {
		return nil, err
	}
	return &plant.ID, nil
}

// decorate fills the presentation fields. A link to a plant that no longer exists
// in the device's area shows as index -1.
func (r *Registry) decorate(db *gorm.DB, devs []entities.Device) error {
	var ids []uuid.UUID
	for i := range devs {
		devs[i].Feeds = feedsOf(&devs[i])
		devs[i].PlantIndex = -1
		if devs[i].PlantID != nil {
			ids = append(ids, *devs[i].PlantID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	var plants []entities.Plant
	if err := db.Where("id IN ?", ids).Find(&plants).Error; err != nil {
		return err
	}
	byID := make(map[uuid.UUID]entities.Plant, len(plants))
	for _, p := range plants {
		byID[p.ID] = p
	}
	for i := range devs {
		d := &devs[i]
		if d.PlantID == nil || d.AreaID == nil {
			continue
		}
		if p, ok := byID[*d.PlantID]; ok && p.AreaID == *d.AreaID {
			d.PlantIndex = p.Position
		}
	}
	return nil
}
