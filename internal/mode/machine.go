package mode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotPermitted = errors.New("mode: not permitted")
	// ErrBusy is returned while a previous photo is still being attached.
	ErrBusy = errors.New("mode: photo already being processed")
)

// DefaultStaleAfter is how long a processing flag may stay set before it is
// considered abandoned and forcibly reset.
const DefaultStaleAfter = 2 * time.Minute

// Machine serializes all transitions per Key and persists them through a Store.
type Machine struct {
	store      Store
	log        *zap.Logger
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.Mutex
	locks map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithStaleAfter(d time.Duration) Option {
	return func(m *Machine) { m.staleAfter = d }
}

func NewMachine(store Store, log *zap.Logger, opts ...Option) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Machine{
		store:      store,
		log:        log,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		locks:      make(map[Key]*keyLock),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) lock(key Key) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

func (m *Machine) load(ctx context.Context, key Key) (State, error) {
	st, ok, err := m.store.Load(ctx, key)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return idle(), nil
	}
	if st.Mode == "" {
		st.Mode = Idle
	}
	return st, nil
}

// Current returns the state for key; a user never seen before is Idle.
func (m *Machine) Current(ctx context.Context, key Key) (State, error) {
	return m.load(ctx, key)
}

// Update applies fn under the key lock and saves the result if it validates.
func (m *Machine) Update(ctx context.Context, key Key, fn func(st *State) error) (State, error) {
	unlock := m.lock(key)
	defer unlock()

	st, err := m.load(ctx, key)
	if err != nil {
		return State{}, err
	}
	if err := fn(&st); err != nil {
		return State{}, err
	}
	if err := st.Validate(); err != nil {
		return State{}, err
	}
	if err := m.store.Save(ctx, key, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Enter switches to next, discarding the working data of whatever mode was active.
// Privileged modes require admin.
func (m *Machine) Enter(ctx context.Context, key Key, next Mode, admin bool) (State, error) {
	if !next.Valid() || next == Idle || next == AwaitingImageCaptionTarget {
		return State{}, fmt.Errorf("mode: cannot enter %q directly", next)
	}
	if next.Privileged() && !admin {
		return State{}, fmt.Errorf("%w: %s", ErrNotPermitted, next)
	}
	return m.Update(ctx, key, func(st *State) error {
		st.transition(next)
		return nil
	})
}

// Cancel returns to Idle from any mode, keeping only the session id.
// It reports the mode that was active.
func (m *Machine) Cancel(ctx context.Context, key Key) (Mode, State, error) {
	var prev Mode
	st, err := m.Update(ctx, key, func(st *State) error {
		prev = st.Mode
		st.transition(Idle)
		return nil
	})
	return prev, st, err
}

// Finish is the single exit routine for a completed request in mode.
// One-shot modes return to Idle; sticky modes stay. Nothing happens if the
// user has already moved to another mode.
func (m *Machine) Finish(ctx context.Context, key Key, mode Mode) (State, error) {
	return m.Update(ctx, key, func(st *State) error {
		if st.Mode != mode || mode == Idle {
			return nil
		}
		if mode.Sticky() {
			st.ProcessingSince = nil
			return nil
		}
		st.transition(Idle)
		return nil
	})
}

// IsCurrent reports whether no transition happened since epoch was observed.
func (m *Machine) IsCurrent(ctx context.Context, key Key, epoch uint64) (bool, error) {
	st, err := m.load(ctx, key)
	if err != nil {
		return false, err
	}
	return st.Epoch == epoch, nil
}

// SetSession caches sid unless a session is already cached.
func (m *Machine) SetSession(ctx context.Context, key Key, sid int64) (State, error) {
	return m.Update(ctx, key, func(st *State) error {
		if st.SessionID == 0 {
			st.SessionID = sid
		}
		return nil
	})
}

// Reset starts over in Idle with a fresh session id and no working data.
func (m *Machine) Reset(ctx context.Context, key Key, sid int64) (State, error) {
	return m.Update(ctx, key, func(st *State) error {
		st.transition(Idle)
		st.SessionID = sid
		return nil
	})
}

// AttachPhoto moves the user to AwaitingImageCaptionTarget holding ref. A
// second upload while the first is still pending returns ErrBusy, unless the
// pending flag is older than the stale threshold, in which case it is reset.
func (m *Machine) AttachPhoto(ctx context.Context, key Key, ref string) (State, error) {
	return m.Update(ctx, key, func(st *State) error {
		now := m.now()
		if st.ProcessingSince != nil {
			if now.Sub(*st.ProcessingSince) < m.staleAfter {
				return ErrBusy
			}
			m.log.Warn("resetting stale photo processing flag",
				zap.Int64("user_id", key.UserID),
				zap.Time("since", *st.ProcessingSince),
			)
		}
		st.transition(AwaitingImageCaptionTarget)
		st.Caption = &CaptionTarget{PhotoRef: ref}
		st.ProcessingSince = &now
		return nil
	})
}

// Remember caches a reply fragment in Idle and returns its key. Older
// fragments are evicted past MaxFragments.
func (m *Machine) Remember(ctx context.Context, key Key, fragKey, text string) error {
	_, err := m.Update(ctx, key, func(st *State) error {
		if st.Mode != Idle {
			return nil
		}
		st.Fragments = append(st.Fragments, Fragment{Key: fragKey, Text: text})
		if n := len(st.Fragments); n > MaxFragments {
			st.Fragments = append([]Fragment(nil), st.Fragments[n-MaxFragments:]...)
		}
		return nil
	})
	return err
}

func (m *Machine) Fragment(ctx context.Context, key Key, fragKey string) (string, bool, error) {
	st, err := m.load(ctx, key)
	if err != nil {
		return "", false, err
	}
	for _, f := range st.Fragments {
		if f.Key == fragKey {
			return f.Text, true, nil
		}
	}
	return "", false, nil
}

// TrackHistory records transport message ids belonging to the open history view.
// Opening a history view always happens from Idle.
func (m *Machine) TrackHistory(ctx context.Context, key Key, ids ...int64) error {
	_, err := m.Update(ctx, key, func(st *State) error {
		if st.Mode != Idle {
			st.transition(Idle)
		}
		if st.History == nil {
			st.History = &HistoryView{}
		}
		st.History.MessageIDs = append(st.History.MessageIDs, ids...)
		return nil
	})
	return err
}

// TakeHistory returns and clears the tracked history view message ids.
func (m *Machine) TakeHistory(ctx context.Context, key Key) ([]int64, error) {
	var ids []int64
	_, err := m.Update(ctx, key, func(st *State) error {
		if st.History != nil {
			ids = st.History.MessageIDs
		}
		st.History = nil
		return nil
	})
	return ids, err
}
