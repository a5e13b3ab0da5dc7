package model

import (
	"time"

	"gorm.io/datatypes"
)

// Quiz is a quiz definition saved at the end of the creation flow.
type Quiz struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug      string         `gorm:"uniqueIndex;size:128;not null" json:"slug"`
	Title     string         `gorm:"size:256;not null" json:"title"`
	AuthorID  int64          `gorm:"index:idx_quiz_author;not null" json:"author_id"`
	Questions datatypes.JSON `json:"questions"` // [{text,type,options,correct_answer,points,unlock_content}]
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// QuizAttempt is one finished answering session. A user has at most one per quiz.
type QuizAttempt struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	QuizID    int64          `gorm:"uniqueIndex:idx_attempt_quiz_user;not null" json:"quiz_id"`
	UserID    int64          `gorm:"uniqueIndex:idx_attempt_quiz_user;not null" json:"user_id"`
	Score     int64          `json:"score"`
	MaxScore  int64          `json:"max_score"`
	Answers   datatypes.JSON `json:"answers"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}
