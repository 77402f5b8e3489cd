package entities

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reading is one persisted telemetry value. Each channel has its own table.
type Reading struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    *string   `gorm:"size:128" json:"userId"`
	DeviceID  string    `gorm:"size:128;not null" json:"deviceId"`
	Value     string    `gorm:"not null" json:"value"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`

	Channel string `gorm:"-" json:"channel"`
}

// Float parses the value as a number.
func (r Reading) Float() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ChannelCatalog records every channel that has a reading table.
type ChannelCatalog struct {
	Name         string `gorm:"primaryKey;size:128"`
	StorageTable string `gorm:"size:128;not null"`
	CreatedAt    time.Time
}

func (ChannelCatalog) TableName() string { return "channel_catalog" }
