package models

import "time"

// Profile is created lazily on first interaction and never deleted by the bot.
type Profile struct {
	UserID        int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Name          string    `gorm:"type:varchar(255)" json:"name"`
	ChatRequests  int64     `gorm:"not null;default:0" json:"chat_requests"`
	ImageRequests int64     `gorm:"not null;default:0" json:"image_requests"`
	AudioRequests int64     `gorm:"not null;default:0" json:"audio_requests"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Profile) TableName() string { return "profiles" }
