package db

import (
	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// =========================
		// Voice coach sessions
		// =========================
		&types.Session{},
		&types.Turn{},

		// =========================
		// Event log + pipeline jobs
		// =========================
		&types.Event{},
		&types.Job{},
	)
}
