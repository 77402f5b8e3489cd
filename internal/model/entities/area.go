package entities

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMinMoisture = 30
	DefaultMaxMoisture = 70
)

// Area groups plants and the devices irrigating them. Name is unique per user.
type Area struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string    `gorm:"size:128;not null;uniqueIndex:idx_area_user_name" json:"userId"`
	Name        string    `gorm:"size:255;not null;uniqueIndex:idx_area_user_name" json:"name"`
	Description string    `json:"description"`
	Plants      []Plant   `gorm:"foreignKey:AreaID" json:"plants"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// ids of the devices linked to this area, ordered by link time
	Devices []string `gorm:"-" json:"devices"`
}

// Threshold is the soil moisture range (percent) a plant should stay in.
type Threshold struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func DefaultThreshold() Threshold {
	return Threshold{Min: DefaultMinMoisture, Max: DefaultMaxMoisture}
}

// Plant belongs to an area. ID is stable; Position is the index shown to clients.
type Plant struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AreaID            uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	Position          int       `gorm:"not null" json:"index"`
	Name              string    `gorm:"size:255;not null" json:"name"`
	Type              string    `gorm:"size:255" json:"type"`
	MoistureThreshold Threshold `gorm:"embedded;embeddedPrefix:moisture_" json:"moistureThreshold"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// PlantByID returns the plant with the given id, nil when the area has none.
func (a *Area) PlantByID(id uuid.UUID) *Plant {
	for i := range a.Plants {
		if a.Plants[i].ID == id {
			return &a.Plants[i]
		}
	}
	return nil
}
