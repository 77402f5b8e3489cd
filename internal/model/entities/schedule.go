package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ScheduleType string

const (
	ScheduleOneTime   ScheduleType = "onetime"
	ScheduleRecurring ScheduleType = "recurring"
)

// Schedule is a watering job: start the device, wait Duration minutes, stop it.
type Schedule struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          string         `gorm:"size:128;not null;index" json:"userId"`
	Name            string         `gorm:"size:255;not null" json:"name"`
	Type            ScheduleType   `gorm:"size:16;not null" json:"scheduleType"`
	ScheduledAt     *time.Time     `json:"scheduledDateTime,omitempty"`
	StartTime       string         `gorm:"size:5" json:"startTime,omitempty"` // HH:MM
	DaysOfWeek      datatypes.JSON `json:"daysOfWeek,omitempty"`
	DurationMinutes int            `gorm:"not null" json:"duration"`
	DeviceID        string         `gorm:"size:128;not null;index" json:"deviceId"`
	AreaID          *uuid.UUID     `gorm:"type:uuid" json:"areaId"`
	PlantID         *uuid.UUID     `gorm:"type:uuid" json:"plantId"`
	IsActive        bool           `gorm:"not null" json:"isActive"`
	IsCompleted     bool           `gorm:"not null" json:"isCompleted"`
	LastRunAt       *time.Time     `json:"lastRunAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Days decodes DaysOfWeek (0 = Sunday).
func (s Schedule) Days() []int {
	if len(s.DaysOfWeek) == 0 {
		return nil
	}
	var out []int
	if err := json.Unmarshal(s.DaysOfWeek, &out); err != nil {
		return nil
	}
	return out
}

func (s *Schedule) SetDays(days []int) {
	if len(days) == 0 {
		s.DaysOfWeek = nil
		return
	}
	b, _ := json.Marshal(days)
	s.DaysOfWeek = datatypes.JSON(b)
}

func (s Schedule) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}
