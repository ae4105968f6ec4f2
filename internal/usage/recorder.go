package usage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/models"
)

const dateLayout = "2006-01-02"

// profileColumn maps an action onto the lifetime counter it feeds.
var profileColumn = map[models.Action]string{
	models.ActionChat:   "chat_requests",
	models.ActionSearch: "chat_requests",
	models.ActionImage:  "image_requests",
	models.ActionAudio:  "audio_requests",
}

// Recorder increments usage counters. Callers record only after the provider
// call and any turn persistence succeeded.
type Recorder struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// WithTx binds the recorder to an open transaction.
func (r *Recorder) WithTx(tx *gorm.DB) *Recorder {
	return &Recorder{db: tx, now: r.now}
}

// WithClock overrides the day used for the daily key.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	return &Recorder{db: r.db, now: now}
}

func (r *Recorder) Today() string {
	return r.now().UTC().Format(dateLayout)
}

// Record upserts the (user, day, action, model) counter and bumps the
// profile's lifetime counter, both in one transaction.
func (r *Recorder) Record(ctx context.Context, userID int64, action models.Action, model string) error {
	row := models.UsageCounter{
		UserID:     userID,
		Date:       r.Today(),
		ActionType: action,
		ModelName:  model,
		Count:      1,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Profile{UserID: userID}).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}, {Name: "action_type"}, {Name: "model_name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count": gorm.Expr("usage_counters.count + ?", 1),
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		col, ok := profileColumn[action]
		if !ok {
			return nil
		}
		return tx.Model(&models.Profile{}).
			Where("user_id = ?", userID).
			UpdateColumn(col, gorm.Expr(col+" + ?", 1)).Error
	})
	return common.StoreErr("record usage", err)
}

type DailyRow struct {
	ActionType models.Action `json:"action_type"`
	ModelName  string        `json:"model_name"`
	Users      int64         `json:"users"`
	Total      int64         `json:"total"`
}

// Daily aggregates all counters of one day per action and model.
func (r *Recorder) Daily(ctx context.Context, date string) ([]DailyRow, error) {
	var out []DailyRow
	err := r.db.WithContext(ctx).
		Model(&models.UsageCounter{}).
		Select("action_type, model_name, COUNT(DISTINCT user_id) AS users, SUM(count) AS total").
		Where("date = ?", date).
		Group("action_type, model_name").
		Order("total DESC, action_type ASC, model_name ASC").
		Scan(&out).Error
	if err != nil {
		return nil, common.StoreErr("daily usage", err)
	}
	return out, nil
}

// Count returns a single counter, zero when absent.
func (r *Recorder) Count(ctx context.Context, userID int64, date string, action models.Action, model string) (int64, error) {
	var c models.UsageCounter
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date = ? AND action_type = ? AND model_name = ?", userID, date, action, model).
		Limit(1).
		Find(&c).Error
	if err != nil {
		return 0, common.StoreErr("usage count", err)
	}
	return c.Count, nil
}

type ActiveUser struct {
	UserID        int64  `json:"user_id"`
	Name          string `json:"name"`
	ChatRequests  int64  `json:"chat_requests"`
	ImageRequests int64  `json:"image_requests"`
	AudioRequests int64  `json:"audio_requests"`
	Total         int64  `json:"total"`
}

// TopUsers ranks profiles by lifetime requests.
func (r *Recorder) TopUsers(ctx context.Context, limit int) ([]ActiveUser, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var out []ActiveUser
	err := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Select("user_id, name, chat_requests, image_requests, audio_requests, " +
			"(chat_requests + image_requests + audio_requests) AS total").
		Order("total DESC, user_id ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, common.StoreErr("top users", err)
	}
	return out, nil
}
