package catalog

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/config"
	"github.com/suPer8Hu/relay-bot/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Seed inserts configured models, leaving existing rows (and their active flag) alone.
func (r *Repo) Seed(ctx context.Context, entries []config.CatalogEntry) error {
	for _, e := range entries {
		m := models.Model{Name: e.Name, Provider: e.Provider, IsActive: true}
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
			Create(&m).Error; err != nil {
			return common.StoreErr("seed model "+e.Name, err)
		}
	}
	return nil
}

// ListActive returns active models ordered by name.
func (r *Repo) ListActive(ctx context.Context) ([]models.Model, error) {
	var out []models.Model
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, common.StoreErr("list active models", err)
	}
	return out, nil
}

func (r *Repo) ListAll(ctx context.Context) ([]models.Model, error) {
	var out []models.Model
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, common.StoreErr("list models", err)
	}
	return out, nil
}

func (r *Repo) GetByID(ctx context.Context, id uint64) (*models.Model, error) {
	var m models.Model
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, common.StoreErr("get model", err)
	}
	return &m, nil
}

func (r *Repo) GetByName(ctx context.Context, name string) (*models.Model, error) {
	var m models.Model
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		return nil, common.StoreErr("get model by name", err)
	}
	return &m, nil
}

// Selection returns the model the user selected, or gorm.ErrRecordNotFound.
func (r *Repo) Selection(ctx context.Context, userID int64) (*models.Model, error) {
	var m models.Model
	err := r.db.WithContext(ctx).
		Table("user_settings").
		Select("models.*").
		Joins("JOIN models ON models.id = user_settings.model_id").
		Where("user_settings.user_id = ?", userID).
		Take(&m).Error
	if err != nil {
		return nil, common.StoreErr("get selection", err)
	}
	return &m, nil
}

// EnsureSelection creates the profile and the selection row when absent.
func (r *Repo) EnsureSelection(ctx context.Context, userID int64, modelID uint64) error {
	return common.StoreErr("ensure selection", r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Profile{UserID: userID}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.UserSetting{UserID: userID, ModelID: modelID}).Error
	}))
}

// SetSelection overwrites the single selection row of the user.
func (r *Repo) SetSelection(ctx context.Context, userID int64, modelID uint64) error {
	return common.StoreErr("set selection", r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Profile{UserID: userID}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"model_id"}),
		}).Create(&models.UserSetting{UserID: userID, ModelID: modelID}).Error
	}))
}

// Toggle flips the active flag and returns the updated row.
func (r *Repo) Toggle(ctx context.Context, id uint64) (*models.Model, error) {
	var m models.Model
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		m.IsActive = !m.IsActive
		return tx.Model(&models.Model{}).Where("id = ?", id).Update("is_active", m.IsActive).Error
	})
	if err != nil {
		return nil, common.StoreErr("toggle model", err)
	}
	return &m, nil
}
