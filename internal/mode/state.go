package mode

import (
	"fmt"
	"strconv"
	"time"
)

// MaxFragments bounds the reply fragments kept for later voice conversion.
const MaxFragments = 10

// Key scopes state to one user in one conversation.
type Key struct {
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
}

func (k Key) String() string {
	return strconv.FormatInt(k.UserID, 10) + ":" + strconv.FormatInt(k.ChatID, 10)
}

// CaptionTarget is the photo waiting for an instruction.
type CaptionTarget struct {
	PhotoRef string `json:"photo_ref"`
}

// HistoryView lists the transport messages that make up an open history view.
type HistoryView struct {
	MessageIDs []int64 `json:"message_ids"`
}

type Fragment struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// State is a tagged union: Mode is the tag and the pointer payloads are only
// legal for the modes Validate allows them in. SessionID and Epoch survive
// every transition.
type State struct {
	Mode      Mode  `json:"mode"`
	SessionID int64 `json:"session_id,omitempty"`
	// Epoch increases on every transition; in-flight work compares it before persisting.
	Epoch uint64 `json:"epoch"`

	Caption   *CaptionTarget `json:"caption,omitempty"`
	History   *HistoryView   `json:"history,omitempty"`
	Fragments []Fragment     `json:"fragments,omitempty"`

	ProcessingSince *time.Time `json:"processing_since,omitempty"`
}

func idle() State { return State{Mode: Idle} }

// Validate rejects payloads that do not belong to the current mode.
func (s State) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("mode: unknown mode %q", s.Mode)
	}
	if s.SessionID < 0 {
		return fmt.Errorf("mode: negative session id %d", s.SessionID)
	}
	if s.Mode == AwaitingImageCaptionTarget {
		if s.Caption == nil || s.Caption.PhotoRef == "" {
			return fmt.Errorf("mode: %s requires a photo", s.Mode)
		}
	} else if s.Caption != nil {
		return fmt.Errorf("mode: caption target set in %s", s.Mode)
	}
	if s.Mode != Idle {
		if s.History != nil {
			return fmt.Errorf("mode: history view set in %s", s.Mode)
		}
		if len(s.Fragments) > 0 {
			return fmt.Errorf("mode: reply fragments set in %s", s.Mode)
		}
	}
	if len(s.Fragments) > MaxFragments {
		return fmt.Errorf("mode: %d fragments exceeds %d", len(s.Fragments), MaxFragments)
	}
	return nil
}

// transition moves to next, dropping all mode-scoped working data.
func (s *State) transition(next Mode) {
	s.Mode = next
	s.Epoch++
	s.Caption = nil
	s.History = nil
	s.Fragments = nil
	s.ProcessingSince = nil
}
