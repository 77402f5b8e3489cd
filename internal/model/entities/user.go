package entities

import "time"

// User holds the per-user active device assignment. Users are managed by the auth
// provider; a row is created the first time an assignment is written.
type User struct {
	ID             string  `gorm:"primaryKey;size:128"`
	ActiveDeviceID *string `gorm:"size:128;index"`
	UpdatedAt      time.Time
}
