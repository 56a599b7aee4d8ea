package repos

import (
	"github.com/yungbote/voicecoach-backend/internal/data/repos/voicecoach"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
	"gorm.io/gorm"
)

type SessionRepo = voicecoach.SessionRepo
type TurnRepo = voicecoach.TurnRepo
type EventRepo = voicecoach.EventRepo
type JobRepo = voicecoach.JobRepo

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return voicecoach.NewSessionRepo(db, baseLog)
}
func NewTurnRepo(db *gorm.DB, baseLog *logger.Logger) TurnRepo {
	return voicecoach.NewTurnRepo(db, baseLog)
}
func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	return voicecoach.NewEventRepo(db, baseLog)
}
func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return voicecoach.NewJobRepo(db, baseLog)
}

// Set bundles every repo the services need. DB opens transactions that span
// several repos; pass dbctx.Context{Ctx: ctx, Tx: tx} to each call.
type Set struct {
	DB       *gorm.DB
	Sessions SessionRepo
	Turns    TurnRepo
	Events   EventRepo
	Jobs     JobRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		DB:       db,
		Sessions: NewSessionRepo(db, baseLog),
		Turns:    NewTurnRepo(db, baseLog),
		Events:   NewEventRepo(db, baseLog),
		Jobs:     NewJobRepo(db, baseLog),
	}
}
