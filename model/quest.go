package model

import "time"

// MissionProgress records that a user completed a mission.
// Completed never reverts and CompletedAt is written once.
type MissionProgress struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64      `gorm:"uniqueIndex:idx_mission_user;not null" json:"user_id"`
	MissionID   string     `gorm:"uniqueIndex:idx_mission_user;size:64;not null" json:"mission_id"`
	Completed   bool       `gorm:"default:false" json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
}

// ProgressCounter is one named activity counter for a user, e.g. messages_sent.
type ProgressCounter struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:idx_counter_user_name;not null" json:"user_id"`
	Counter   string    `gorm:"uniqueIndex:idx_counter_user_name;size:64;not null" json:"counter"`
	Value     int64     `gorm:"default:0" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
