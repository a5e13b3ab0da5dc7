package model

import "time"

// Wallet is the points balance credited by the default reward granter.
type Wallet struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Balance   int64     `gorm:"default:0" json:"balance"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RewardItem is a reward code delivered to a user (e.g. an unlocked vault prize).
type RewardItem struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index:idx_reward_item_user;not null" json:"user_id"`
	Code      string    `gorm:"size:64;not null" json:"code"`
	Reason    string    `gorm:"size:128" json:"reason"`
	GrantedAt time.Time `gorm:"autoCreateTime" json:"granted_at"`
}
