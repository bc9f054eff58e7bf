package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"qdag/db"
	"qdag/jsonx"
	"qdag/logx"
	"qdag/types"
	"qdag/unit"
)

// UnitStore persists units keyed by id together with their finality state.
type UnitStore struct {
	mu       sync.RWMutex
	provider db.Provider
}

func NewUnitStore(provider db.Provider) (*UnitStore, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &UnitStore{provider: provider}, nil
}

func unitKey(id string) []byte {
	return []byte(PrefixUnit + id)
}

func stateKey(id string) []byte {
	return []byte(PrefixUnitState + id)
}

// PutUnit stores a unit and its current state in one atomic batch.
func (s *UnitStore) PutUnit(u *unit.Unit, state types.FinalityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := jsonx.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal unit: %w", err)
	}
	batch := s.provider.Batch()
	batch.Put(unitKey(u.ID), value)
	batch.Put(stateKey(u.ID), encodeState(state))
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to store unit: %w", err)
	}
	return nil
}

// GetUnit retrieves a unit by id, nil when absent.
func (s *UnitStore) GetUnit(id string) (*unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, err := s.provider.Get(unitKey(id))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	var u unit.Unit
	if err := jsonx.Unmarshal(value, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal unit %s: %w", id, err)
	}
	return &u, nil
}

// PutState records a finality transition for an already stored unit.
func (s *UnitStore) PutState(id string, state types.FinalityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider.Put(stateKey(id), encodeState(state))
}

// GetState returns the persisted finality state of a unit.
func (s *UnitStore) GetState(id string) (types.FinalityState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, err := s.provider.Get(stateKey(id))
	if err != nil {
		return types.FinalityPending, false, err
	}
	if value == nil {
		return types.FinalityPending, false, nil
	}
	state, err := decodeState(value)
	if err != nil {
		return types.FinalityPending, false, err
	}
	return state, true, nil
}

// Has reports whether a unit is stored.
func (s *UnitStore) Has(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider.Has(unitKey(id))
}

// IterateUnits visits every stored unit with its persisted state.
func (s *UnitStore) IterateUnits(callback func(u *unit.Unit, state types.FinalityState) bool) error {
	return s.provider.IteratePrefix([]byte(PrefixUnit), func(key, value []byte) bool {
		var u unit.Unit
		if err := jsonx.Unmarshal(value, &u); err != nil {
			logx.Error("UNITSTORE", "Skipping undecodable unit at key ", string(key), ": ", err)
			return true
		}
		state, found, err := s.GetState(u.ID)
		if err != nil || !found {
			state = types.FinalityPending
		}
		return callback(&u, state)
	})
}

func encodeState(state types.FinalityState) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(state))
	return buf
}

func decodeState(value []byte) (types.FinalityState, error) {
	if len(value) != 4 {
		return types.FinalityPending, fmt.Errorf("invalid state value length %d", len(value))
	}
	return types.FinalityState(binary.BigEndian.Uint32(value)), nil
}
