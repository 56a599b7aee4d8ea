package voicecoach

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate adds a row lock on dialects that support it. sqlite serializes
// writers on its own.
func forUpdate(tx *gorm.DB, skipLocked bool) *gorm.DB {
	if tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return tx
	}
	lock := clause.Locking{Strength: "UPDATE"}
	if skipLocked {
		lock.Options = "SKIP LOCKED"
	}
	return tx.Clauses(lock)
}
