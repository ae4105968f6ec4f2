package models

import "time"

// Turn is one input/output pair. Rows are append-only.
type Turn struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"not null;index:idx_turn_user_session,priority:1" json:"user_id"`
	SessionID int64     `gorm:"not null;index:idx_turn_user_session,priority:2" json:"session_id"`
	Input     string    `gorm:"type:text;not null" json:"input"`
	Output    string    `gorm:"type:text;not null" json:"output"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	Profile   *Profile  `gorm:"foreignKey:UserID;references:UserID" json:"-"`
}

func (Turn) TableName() string { return "turns" }
