package chat

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Transaction runs fn with a repo bound to one transaction.
func (r *Repo) Transaction(ctx context.Context, fn func(tx *gorm.DB, repo *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, &Repo{db: tx})
	})
}

// EnsureProfile creates the profile on first contact and refreshes an empty name.
func (r *Repo) EnsureProfile(ctx context.Context, userID int64, name string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Profile{UserID: userID, Name: name}).Error
	if err != nil {
		return common.StoreErr("ensure profile", err)
	}
	if name == "" {
		return nil
	}
	err = r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("user_id = ? AND (name = '' OR name IS NULL)", userID).
		Update("name", name).Error
	return common.StoreErr("ensure profile name", err)
}

func (r *Repo) GetProfile(ctx context.Context, userID int64) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, common.StoreErr("get profile", err)
	}
	return &p, nil
}

// Recipients lists every known user id in ascending order.
func (r *Repo) Recipients(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&models.Profile{}).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, common.StoreErr("list profiles", err)
	}
	return ids, nil
}

// MaxSessionID returns the highest session id with turns for userID, 0 if none.
func (r *Repo) MaxSessionID(ctx context.Context, userID int64) (int64, error) {
	var max int64
	if err := r.db.WithContext(ctx).Model(&models.Turn{}).
		Where("user_id = ?", userID).
		Select("COALESCE(MAX(session_id), 0)").
		Scan(&max).Error; err != nil {
		return 0, common.StoreErr("max session id", err)
	}
	return max, nil
}

func (r *Repo) InsertTurn(ctx context.Context, t *models.Turn) error {
	return common.StoreErr("insert turn", r.db.WithContext(ctx).Create(t).Error)
}

// ListRecentTurns returns the newest limit turns of one session, oldest first.
func (r *Repo) ListRecentTurns(ctx context.Context, userID, sessionID int64, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = FetchCap
	}
	var desc []models.Turn
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&desc).Error; err != nil {
		return nil, common.StoreErr("list turns", err)
	}

	// reverse to ASC (oldest -> newest)
	out := make([]models.Turn, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, desc[i])
	}
	return out, nil
}

// ListUserTurnsDesc returns the newest turns across all sessions, newest first.
func (r *Repo) ListUserTurnsDesc(ctx context.Context, userID int64, limit int) ([]models.Turn, error) {
	var out []models.Turn
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, common.StoreErr("list user turns", err)
	}
	return out, nil
}

// DeleteUserTurns removes every turn of userID. Profile and counters stay.
func (r *Repo) DeleteUserTurns(ctx context.Context, userID int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Turn{})
	if res.Error != nil {
		return 0, common.StoreErr("delete turns", res.Error)
	}
	return res.RowsAffected, nil
}
