package chat

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/relay-bot/internal/mode"
)

// SessionManager hands out the session id that scopes a user's context window.
//
// The id cached in mode state wins. Without one the store decides: the
// highest existing id continues, and a user without turns starts at 1. A
// store failure is returned as is; it never falls back to session 1.
type SessionManager struct {
	repo  *Repo
	modes *mode.Machine
}

func NewSessionManager(repo *Repo, modes *mode.Machine) *SessionManager {
	return &SessionManager{repo: repo, modes: modes}
}

// Resume returns the current session id, computing and caching it when absent.
func (m *SessionManager) Resume(ctx context.Context, key mode.Key) (int64, error) {
	st, err := m.modes.Current(ctx, key)
	if err != nil {
		return 0, err
	}
	if st.SessionID > 0 {
		return st.SessionID, nil
	}

	max, err := m.repo.MaxSessionID(ctx, key.UserID)
	if err != nil {
		return 0, fmt.Errorf("resume session: %w", err)
	}
	sid := max
	if sid == 0 {
		sid = 1
	}

	// a concurrent Resume may have cached first; keep whichever landed
	st, err = m.modes.SetSession(ctx, key, sid)
	if err != nil {
		return 0, err
	}
	return st.SessionID, nil
}

// StartNew advances to max+1 and clears conversational working state.
func (m *SessionManager) StartNew(ctx context.Context, key mode.Key) (int64, error) {
	max, err := m.repo.MaxSessionID(ctx, key.UserID)
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	st, err := m.modes.Reset(ctx, key, max+1)
	if err != nil {
		return 0, err
	}
	return st.SessionID, nil
}
