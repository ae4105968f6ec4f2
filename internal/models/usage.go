package models

type Action string

const (
	ActionChat   Action = "chat"
	ActionSearch Action = "search"
	ActionImage  Action = "image"
	ActionAudio  Action = "audio"
)

// UsageCounter is keyed by (user, day, action, model) and only ever incremented.
type UsageCounter struct {
	UserID     int64    `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Date       string   `gorm:"primaryKey;type:varchar(10)" json:"date"`
	ActionType Action   `gorm:"primaryKey;type:varchar(16)" json:"action_type"`
	ModelName  string   `gorm:"primaryKey;type:varchar(64)" json:"model_name"`
	Count      int64    `gorm:"not null;default:0" json:"count"`
	Profile    *Profile `gorm:"foreignKey:UserID;references:UserID" json:"-"`
}

func (UsageCounter) TableName() string { return "usage_counters" }

// All lists every persisted entity in migration order.
func All() []any {
	return []any{&Profile{}, &Model{}, &UserSetting{}, &Turn{}, &UsageCounter{}}
}
