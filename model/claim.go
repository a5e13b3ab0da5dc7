package model

import "time"

// ClaimRecord tracks the last successful claim of a periodic reward.
// There is at most one row per (user, reward key).
type ClaimRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64     `gorm:"uniqueIndex:idx_claim_user_key;not null" json:"user_id"`
	RewardKey     string    `gorm:"uniqueIndex:idx_claim_user_key;size:64;not null" json:"reward_key"`
	LastClaimedAt time.Time `gorm:"not null" json:"last_claimed_at"`
	ClaimCount    int64     `gorm:"default:0" json:"claim_count"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
