package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/relay-bot/internal/ai"
	"github.com/suPer8Hu/relay-bot/internal/catalog"
	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/mode"
	"github.com/suPer8Hu/relay-bot/internal/models"
	"github.com/suPer8Hu/relay-bot/internal/usage"
)

// ErrStale is returned when the user left the mode a request was started in.
// Nothing is persisted for a stale request.
var ErrStale = errors.New("chat: request superseded by a mode change")

const defaultMaxInput = 4096

// Service runs the request pipeline: validate, call the provider with
// retries, check the request is still current, then persist the turn and
// its usage in one transaction.
type Service struct {
	repo     *Repo
	sessions *SessionManager
	builder  *ContextBuilder
	modes    *mode.Machine
	catalog  *catalog.Service
	registry *ai.Registry
	usage    *usage.Recorder

	retry    ai.RetryPolicy
	maxInput int
	log      *zap.Logger
}

type Option func(*Service)

func WithRetryPolicy(p ai.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

func WithMaxInput(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxInput = n
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(repo *Repo, modes *mode.Machine, cat *catalog.Service, registry *ai.Registry, rec *usage.Recorder, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		sessions: NewSessionManager(repo, modes),
		builder:  NewContextBuilder(repo),
		modes:    modes,
		catalog:  cat,
		registry: registry,
		usage:    rec,
		retry:    ai.DefaultRetryPolicy(),
		maxInput: defaultMaxInput,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Sessions() *SessionManager { return s.sessions }

// Ticket pins a request to the mode state it started from.
type Ticket struct {
	Key       mode.Key
	Mode      mode.Mode
	Epoch     uint64
	SessionID int64
}

// Begin resolves the session and captures the current epoch. It fails with
// ErrStale if the user is no longer in expected, so a cancel that landed
// first prevents the provider call entirely.
func (s *Service) Begin(ctx context.Context, key mode.Key, expected mode.Mode) (Ticket, error) {
	sid, err := s.sessions.Resume(ctx, key)
	if err != nil {
		return Ticket{}, err
	}
	st, err := s.modes.Current(ctx, key)
	if err != nil {
		return Ticket{}, err
	}
	if st.Mode != expected {
		return Ticket{}, ErrStale
	}
	return Ticket{Key: key, Mode: expected, Epoch: st.Epoch, SessionID: sid}, nil
}

type AskRequest struct {
	Key   mode.Key
	Name  string
	Input string
	// Mode is the mode the request was received in.
	Mode   mode.Mode
	Action models.Action
	// Model overrides the user's selection with a fixed catalog name.
	Model   string
	Options ai.ChatOptions
	// Images switch the request to a single flattened vision prompt.
	Images []string
}

type AskResult struct {
	Reply     string
	Model     string
	SessionID int64
	TurnID    uint64
}

// Draft is a provider reply that has not been persisted yet.
type Draft struct {
	Ticket Ticket
	Input  string
	Reply  string
	Model  string
	Action models.Action
}

// Turn builds the conversational exchange a draft stores on commit.
func (d Draft) Turn() *models.Turn {
	return &models.Turn{UserID: d.Ticket.Key.UserID, SessionID: d.Ticket.SessionID, Input: d.Input, Output: d.Reply}
}

// Ask answers one conversational request and records it.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	d, err := s.Generate(ctx, req)
	if err != nil {
		return AskResult{}, err
	}
	turn := d.Turn()
	if err := s.Commit(ctx, d.Ticket, Record{Action: d.Action, Model: d.Model, Turn: turn}); err != nil {
		return AskResult{}, err
	}
	return AskResult{Reply: d.Reply, Model: d.Model, SessionID: d.Ticket.SessionID, TurnID: turn.ID}, nil
}

// Generate runs everything Ask does short of persisting. Callers that need
// a further provider step before the request counts commit the draft
// themselves.
func (s *Service) Generate(ctx context.Context, req AskRequest) (Draft, error) {
	input, err := s.validate(req.Input)
	if err != nil {
		return Draft{}, err
	}
	if req.Action == "" {
		req.Action = models.ActionChat
	}
	if err := s.repo.EnsureProfile(ctx, req.Key.UserID, req.Name); err != nil {
		return Draft{}, err
	}

	t, err := s.Begin(ctx, req.Key, req.Mode)
	if err != nil {
		return Draft{}, err
	}

	turns, err := s.builder.History(ctx, req.Key.UserID, t.SessionID)
	if err != nil {
		return Draft{}, err
	}
	var msgs []ai.Message
	if len(req.Images) > 0 {
		msgs = []ai.Message{{Role: "user", Content: CaptionPrompt(turns, input), Images: req.Images}}
	} else {
		msgs = BuildMessages(turns, input)
	}

	m, err := s.resolveModel(ctx, req.Key.UserID, req.Model)
	if err != nil {
		return Draft{}, err
	}
	provider, err := s.registry.Get(ctx, m.Provider, m.Name)
	if err != nil {
		return Draft{}, err
	}

	reply, err := Call(ctx, s, s.retry, t, func(ctx context.Context) (string, error) {
		return provider.Chat(ctx, msgs, req.Options)
	})
	if err != nil {
		if !errors.Is(err, ErrStale) {
			s.log.Warn("provider call failed",
				zap.Int64("user_id", req.Key.UserID),
				zap.Int64("session_id", t.SessionID),
				zap.String("mode", req.Mode.String()),
				zap.String("model", m.Name),
				zap.Error(err),
			)
		}
		return Draft{}, err
	}
	return Draft{Ticket: t, Input: input, Reply: reply, Model: m.Name, Action: req.Action}, nil
}

// Check fails with ErrStale once t no longer matches the user's mode state.
func (s *Service) Check(ctx context.Context, t Ticket) error {
	ok, err := s.modes.IsCurrent(ctx, t.Key, t.Epoch)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStale
	}
	return nil
}

// Call runs fn under policy like ai.Call, but re-checks t before every
// attempt. A cancel between retries stops the loop with ErrStale instead of
// spending the rest of the budget.
func Call[T any](ctx context.Context, s *Service, policy ai.RetryPolicy, t Ticket, fn func(context.Context) (T, error)) (T, error) {
	return ai.Call(ctx, policy, func(ctx context.Context) (T, error) {
		if err := s.Check(ctx, t); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	})
}

// Record is what a successful request leaves behind.
type Record struct {
	Action models.Action
	Model  string
	// Turn is optional; features without a conversational exchange only count usage.
	Turn *models.Turn
}

// Commit persists rec if t is still current. Turn and counters are written
// in one transaction, after the provider call succeeded.
func (s *Service) Commit(ctx context.Context, t Ticket, rec Record) error {
	if err := s.Check(ctx, t); err != nil {
		if errors.Is(err, ErrStale) {
			s.log.Info("discarding stale result",
				zap.Int64("user_id", t.Key.UserID),
				zap.String("mode", t.Mode.String()),
			)
		}
		return err
	}

	err := s.repo.Transaction(ctx, func(tx *gorm.DB, repo *Repo) error {
		if err := repo.EnsureProfile(ctx, t.Key.UserID, ""); err != nil {
			return err
		}
		if rec.Turn != nil {
			rec.Turn.UserID = t.Key.UserID
			if rec.Turn.SessionID == 0 {
				rec.Turn.SessionID = t.SessionID
			}
			if err := repo.InsertTurn(ctx, rec.Turn); err != nil {
				return err
			}
		}
		return s.usage.WithTx(tx).Record(ctx, t.Key.UserID, rec.Action, rec.Model)
	})
	if err != nil {
		s.log.Error("persist request failed",
			zap.Int64("user_id", t.Key.UserID),
			zap.Int64("session_id", t.SessionID),
			zap.Error(err),
		)
		return common.StoreErr("commit", err)
	}
	return nil
}

func (s *Service) validate(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", common.InvalidInput("empty message")
	}
	if n := utf8.RuneCountInString(input); n > s.maxInput {
		return "", common.InvalidInput(fmt.Sprintf("message too long (%d > %d)", n, s.maxInput))
	}
	return input, nil
}

func (s *Service) resolveModel(ctx context.Context, userID int64, fixed string) (models.Model, error) {
	if fixed != "" {
		return s.catalog.Lookup(ctx, fixed)
	}
	return s.catalog.UserModel(ctx, userID)
}

// RecentTurns returns the user's newest turns across sessions, newest first.
func (s *Service) RecentTurns(ctx context.Context, userID int64, limit int) ([]models.Turn, error) {
	return s.repo.ListUserTurnsDesc(ctx, userID, limit)
}

// ClearHistory deletes every turn of the user and starts a fresh session.
func (s *Service) ClearHistory(ctx context.Context, key mode.Key) (int64, error) {
	n, err := s.repo.DeleteUserTurns(ctx, key.UserID)
	if err != nil {
		return 0, err
	}
	if _, err := s.modes.Reset(ctx, key, 1); err != nil {
		return n, err
	}
	return n, nil
}

func (s *Service) Profile(ctx context.Context, userID int64, name string) (*models.Profile, error) {
	if err := s.repo.EnsureProfile(ctx, userID, name); err != nil {
		return nil, err
	}
	return s.repo.GetProfile(ctx, userID)
}
