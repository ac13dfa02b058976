package models

import "time"

// Agent is a named persona that can answer in chat. ExternalID is the
// platform identity token used in explicit mentions (<@ExternalID>).
type Agent struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ExternalID string `gorm:"size:50;uniqueIndex;not null"`
	Name       string `gorm:"size:100;not null"`
	CreatedAt  time.Time
}

// Document is a piece of grounding text owned by exactly one Agent.
type Document struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Title     string `gorm:"size:200;not null"`
	Content   string `gorm:"type:text;not null"`
	AgentID   uint   `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
