package db

import (
	"errors"
	"fmt"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/config"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Agent{},
		&models.Document{},
		&models.User{},
		&models.Message{},
	}
}

// AutoMigrate creates or updates all tables and their unique indexes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedAgents upserts Agent rows from configuration and inserts any
// configured documents the agent does not already have (matched by title).
// Existing documents are left untouched.
func SeedAgents(db *gorm.DB, agents []config.AgentConfig) error {
	for _, ac := range agents {
		agent := models.Agent{
			ExternalID: ac.ExternalID,
			Name:       ac.Name,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&agent)
		if result.Error != nil {
			return fmt.Errorf("db: seed agent %q: %w", ac.ExternalID, result.Error)
		}

		// The upsert does not reliably return the id of an existing row.
		if err := db.Where("external_id = ?", ac.ExternalID).First(&agent).Error; err != nil {
			return fmt.Errorf("db: reload agent %q: %w", ac.ExternalID, err)
		}

		for _, dc := range ac.Documents {
			var existing models.Document
			err := db.Where("agent_id = ? AND title = ?", agent.ID, dc.Title).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("db: lookup document %q for agent %q: %w", dc.Title, ac.ExternalID, err)
			}
			doc := models.Document{
				Title:   dc.Title,
				Content: dc.Content,
				AgentID: agent.ID,
			}
			if err := db.Create(&doc).Error; err != nil {
				return fmt.Errorf("db: seed document %q for agent %q: %w", dc.Title, ac.ExternalID, err)
			}
		}
	}
	return nil
}
