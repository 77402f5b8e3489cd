package arbitrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

// Arbitrator owns the single active device slot of each user. The users table is the
// only place the assignment lives; nothing caches it across resolutions.
type Arbitrator struct {
	db    *gorm.DB
	locks *UserLocks
	log   *zap.Logger
}

func New(db *gorm.DB, log *zap.Logger) *Arbitrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Arbitrator{db: db, log: log}
}

// WithLocks serializes SetActive with anything else holding the same user lock,
// such as the telemetry router in strict ordering mode.
func (a *Arbitrator) WithLocks(l *UserLocks) *Arbitrator {
	a.locks = l
	return a
}

// SetActive makes deviceID the user's active device, overwriting any previous choice.
// It returns the previous assignment, empty when there was none.
func (a *Arbitrator) SetActive(ctx context.Context, userID, deviceID string) (string, error) {
	if userID == "" || deviceID == "" {
		return "", fmt.Errorf("%w: user and device are required", model.ErrValidation)
	}
	unlock := a.locks.Lock(userID)
	defer unlock()

	var previous string
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the share lock holds off a concurrent device delete until the assignment commits
		var dev entities.Device
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id").
			First(&dev, "id = ? AND user_id = ?", deviceID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: device %s", model.ErrNotFound, deviceID)
		}
		if err != nil {
			return err
		}

		var u entities.User
		err = tx.First(&u, "id = ?", userID).Error
		switch {
		case err == nil:
			if u.ActiveDeviceID != nil {
				previous = *u.ActiveDeviceID
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		id := deviceID
		row := entities.User{ID: userID, ActiveDeviceID: &id, UpdatedAt: time.Now().UTC()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active_device_id", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return "", err
	}

	a.log.Info("active device changed",
		zap.String("user_id", userID), zap.String("device_id", deviceID), zap.String("previous_device_id", previous))
	return previous, nil
}

// GetActive returns the user's active device id, or ok=false when none is set.
func (a *Arbitrator) GetActive(ctx context.Context, userID string) (string, bool, error) {
	var u entities.User
	err := a.db.WithContext(ctx).Select("id", "active_device_id").First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if u.ActiveDeviceID == nil || *u.ActiveDeviceID == "" {
		return "", false, nil
	}
	return *u.ActiveDeviceID, true, nil
}

// IsActive reports whether deviceID is the active device of userID.
func (a *Arbitrator) IsActive(ctx context.Context, userID, deviceID string) (bool, error) {
	active, ok, err := a.GetActive(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	return active == deviceID, nil
}
