package mode

import (
	"context"
	"sync"
)

// Store keeps mode state outside the persistent store. Losing it on restart is acceptable.
// States are only ever overwritten; expiry is left to the backend so an
// epoch is never handed out twice while the state is live.
type Store interface {
	Load(ctx context.Context, key Key) (State, bool, error)
	Save(ctx context.Context, key Key, st State) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	states map[Key]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[Key]State)}
}

func (s *MemoryStore) Load(_ context.Context, key Key) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	if !ok {
		return State{}, false, nil
	}
	return cloneState(st), true, nil
}

func (s *MemoryStore) Save(_ context.Context, key Key, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = cloneState(st)
	return nil
}

// cloneState copies the payloads so callers never share slices with the store.
func cloneState(st State) State {
	out := st
	if st.Caption != nil {
		c := *st.Caption
		out.Caption = &c
	}
	if st.History != nil {
		out.History = &HistoryView{MessageIDs: append([]int64(nil), st.History.MessageIDs...)}
	}
	if st.Fragments != nil {
		out.Fragments = append([]Fragment(nil), st.Fragments...)
	}
	if st.ProcessingSince != nil {
		t := *st.ProcessingSince
		out.ProcessingSince = &t
	}
	return out
}
