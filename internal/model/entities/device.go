package entities

import (
	"time"

	"github.com/google/uuid"
)

// Device is a physical controller owned by a user. Its identifier is unique across all users.
type Device struct {
	ID           string          `gorm:"primaryKey;size:128" json:"deviceId"`
	UserID       string          `gorm:"size:128;not null;index" json:"userId"`
	Name         string          `gorm:"size:255" json:"deviceName"`
	AreaID       *uuid.UUID      `gorm:"type:uuid;index" json:"areaId"`
	PlantID      *uuid.UUID      `gorm:"type:uuid;index" json:"plantId"`
	IsActive     bool            `gorm:"not null" json:"isActive"`
	LastActivity *time.Time      `json:"lastActivity"`
	LinkedAt     *time.Time      `json:"-"`
	Channels     []DeviceChannel `gorm:"foreignKey:DeviceID;references:ID" json:"-"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`

	// presentation only, filled by the registry
	Feeds      []string `gorm:"-" json:"feeds"`
	PlantIndex int      `gorm:"-" json:"plantIndex"`
}

// DeviceChannel is one channel a device reports on or accepts commands from.
type DeviceChannel struct {
	DeviceID string `gorm:"primaryKey;size:128"`
	Channel  string `gorm:"primaryKey;size:128;index"`
}

// Linked reports whether the device points to a plant inside an area.
func (d Device) Linked() bool {
	return d.AreaID != nil && d.PlantID != nil
}

func (d Device) SupportsChannel(channel string) bool {
	for _, f := range d.Feeds {
		if f == channel {
			return true
		}
	}
	for _, c := range d.Channels {
		if c.Channel == channel {
			return true
		}
	}
	return false
}
