package model

import "time"

// AuditLog records every reward the engine hands out.
type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string    `gorm:"index:idx_audit_trace;size:36" json:"trace_id"`
	UserID    int64     `gorm:"index:idx_audit_user;not null" json:"user_id"`
	Action    string    `gorm:"size:64;not null" json:"action"` // grant_points | grant_code
	Points    int64     `json:"points"`
	Code      string    `gorm:"size:64" json:"code"`
	Reason    string    `gorm:"size:128" json:"reason"`
	Error     string    `gorm:"type:text" json:"error"`
	CreatedAt time.Time `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
