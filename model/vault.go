package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// CombinationEntry maps a set of required hint codes to a reward code.
// The auto-increment ID defines evaluation order.
type CombinationEntry struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Code          string         `gorm:"uniqueIndex;size:64;not null" json:"code"`
	RequiredHints datatypes.JSON `gorm:"not null" json:"required_hints"` // ["h1","h2"]
	RewardCode    string         `gorm:"size:64;not null" json:"reward_code"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// Hints decodes RequiredHints. A malformed column yields nil.
func (e *CombinationEntry) Hints() []string {
	var hints []string
	if len(e.RequiredHints) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.RequiredHints, &hints); err != nil {
		return nil
	}
	return hints
}

// CollectedHint is one hint code held by a user. Set semantics.
type CollectedHint struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64     `gorm:"uniqueIndex:idx_hint_user_code;not null" json:"user_id"`
	HintCode    string    `gorm:"uniqueIndex:idx_hint_user_code;size:64;not null" json:"hint_code"`
	CollectedAt time.Time `gorm:"not null" json:"collected_at"`
}

// UnlockGrant marks a reward code as already unlocked for a user.
type UnlockGrant struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64     `gorm:"uniqueIndex:idx_unlock_user_reward;not null" json:"user_id"`
	RewardCode      string    `gorm:"uniqueIndex:idx_unlock_user_reward;size:64;not null" json:"reward_code"`
	CombinationCode string    `gorm:"size:64;not null" json:"combination_code"`
	GrantedAt       time.Time `gorm:"not null" json:"granted_at"`
}
