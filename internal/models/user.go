package models

import "time"

// User is a human chat participant, created lazily the first time one of
// their messages is accepted.
type User struct {
	ID         uint    `gorm:"primaryKey;autoIncrement"`
	ExternalID string  `gorm:"size:50;uniqueIndex;not null"`
	Username   string  `gorm:"size:100;not null"`
	Email      *string `gorm:"size:120"`
	CreatedAt  time.Time
}
