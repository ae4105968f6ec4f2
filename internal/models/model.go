package models

// Model is a catalog entry. Inactive entries stay valid selection targets.
type Model struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	Provider string `gorm:"type:varchar(32);not null" json:"provider"`
	IsActive bool   `gorm:"not null;default:true" json:"is_active"`
}

func (Model) TableName() string { return "models" }

// UserSetting holds the single model selection of a user.
type UserSetting struct {
	UserID  int64    `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	ModelID uint64   `gorm:"not null;index" json:"model_id"`
	Profile *Profile `gorm:"foreignKey:UserID;references:UserID" json:"-"`
	Model   *Model   `gorm:"foreignKey:ModelID" json:"-"`
}

func (UserSetting) TableName() string { return "user_settings" }
