package migration

import (
	"github.com/angwiki/modqueue-backend/internal/contentsave"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"gorm.io/gorm"
)

// Run executes AutoMigrate for the moderation queue and the content tables
// backing the standalone engine.
func Run(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.ModEntry{},
		&contentsave.Revision{},
		&contentsave.RecentChange{},
		&contentsave.LogEntry{},
		&contentsave.ChangeAudit{},
	)
}
