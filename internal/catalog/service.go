package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/relay-bot/internal/models"
)

var ErrUnknownModel = errors.New("catalog: unknown model")

// Service exposes the model catalog and per-user selection.
//
// A selection is stored as a reference and is not rewritten when its model
// is deactivated. Reads fall back to the default model while the selected
// one is inactive, so nobody is stuck on a model an admin switched off.
type Service struct {
	repo         *Repo
	defaultModel string
	log          *zap.Logger
}

func NewService(repo *Repo, defaultModel string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, defaultModel: defaultModel, log: log}
}

func (s *Service) DefaultModel() string { return s.defaultModel }

func (s *Service) GetActiveModels(ctx context.Context) ([]models.Model, error) {
	return s.repo.ListActive(ctx)
}

func (s *Service) ListModels(ctx context.Context) ([]models.Model, error) {
	return s.repo.ListAll(ctx)
}

// Lookup finds a model by name. Names missing from the catalog resolve to a
// synthetic openrouter entry, which is how fixed per-feature models are served.
func (s *Service) Lookup(ctx context.Context, name string) (models.Model, error) {
	m, err := s.repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Model{Name: name, Provider: "openrouter", IsActive: true}, nil
		}
		return models.Model{}, err
	}
	return *m, nil
}

// UserModel returns the model to use for userID, creating the profile and a
// default selection on first use.
func (s *Service) UserModel(ctx context.Context, userID int64) (models.Model, error) {
	sel, err := s.repo.Selection(ctx, userID)
	switch {
	case err == nil && sel.IsActive:
		return *sel, nil
	case err == nil:
		s.log.Debug("selected model inactive, using default",
			zap.Int64("user_id", userID), zap.String("model", sel.Name))
		return s.Lookup(ctx, s.defaultModel)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return models.Model{}, err
	}

	def, err := s.Lookup(ctx, s.defaultModel)
	if err != nil {
		return models.Model{}, err
	}
	if def.ID != 0 {
		if err := s.repo.EnsureSelection(ctx, userID, def.ID); err != nil {
			return models.Model{}, err
		}
	}
	return def, nil
}

func (s *Service) GetUserModel(ctx context.Context, userID int64) (string, error) {
	m, err := s.UserModel(ctx, userID)
	if err != nil {
		return "", err
	}
	return m.Name, nil
}

func (s *Service) SetUserModel(ctx context.Context, userID int64, modelID uint64) (models.Model, error) {
	m, err := s.repo.GetByID(ctx, modelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Model{}, fmt.Errorf("%w: id %d", ErrUnknownModel, modelID)
		}
		return models.Model{}, err
	}
	if err := s.repo.SetSelection(ctx, userID, m.ID); err != nil {
		return models.Model{}, err
	}
	return *m, nil
}

func (s *Service) ToggleModelActive(ctx context.Context, modelID uint64) (models.Model, error) {
	m, err := s.repo.Toggle(ctx, modelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Model{}, fmt.Errorf("%w: id %d", ErrUnknownModel, modelID)
		}
		return models.Model{}, err
	}
	s.log.Info("model toggled", zap.String("model", m.Name), zap.Bool("active", m.IsActive))
	return *m, nil
}
