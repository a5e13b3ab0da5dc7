package model

import (
	"unicode/utf8"

	"gorm.io/gorm"
)

// allModels lists every model to be auto-migrated.
var allModels = []interface{}{
	&ClaimRecord{},
	&CombinationEntry{},
	&CollectedHint{},
	&UnlockGrant{},
	&MissionProgress{},
	&ProgressCounter{},
	&Quiz{},
	&QuizAttempt{},
	&Wallet{},
	&RewardItem{},
	&AuditLog{},
}

// MaxKeyLen is the size of every code, key and counter name column.
const MaxKeyLen = 64

// KeyTooLong reports whether s does not fit a MaxKeyLen column.
func KeyTooLong(s string) bool { return utf8.RuneCountInString(s) > MaxKeyLen }

// AutoMigrate creates or updates all tables in the given database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels...)
}
