// Package registry exposes the validator set consumed by consensus. Entries
// are mutated only by governance, which is outside this process; consensus
// code only ever sees read-only snapshots taken at round start.
package registry

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"qdag/config"
	"qdag/errors"
	"qdag/hybridsig"
	"qdag/logx"
)

// Entry is one validator's registration.
type Entry struct {
	ID         string
	PubKey     *hybridsig.PublicKey
	Stake      uint64
	Reputation float64
	Active     bool
}

// Registry holds the current validator set. Reads are cheap; Snapshot copies
// the active entries so a round is unaffected by later governance updates.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// FromGenesis builds a registry from the genesis validator list.
func FromGenesis(cfg *config.GenesisConfig) (*Registry, error) {
	r := &Registry{entries: make(map[string]*Entry, len(cfg.Validators))}
	for _, v := range cfg.Validators {
		raw, err := hex.DecodeString(v.ClassicalPubKey + v.PQCPubKey)
		if err != nil {
			return nil, fmt.Errorf("validator %s: invalid hex public key: %w", v.ID, err)
		}
		pub, err := hybridsig.UnmarshalPublic(raw)
		if err != nil {
			return nil, fmt.Errorf("validator %s: %w", v.ID, err)
		}
		if _, exists := r.entries[v.ID]; exists {
			return nil, fmt.Errorf("duplicate validator id %s in genesis", v.ID)
		}
		r.entries[v.ID] = &Entry{
			ID:         v.ID,
			PubKey:     pub,
			Stake:      v.Stake,
			Reputation: v.Reputation,
			Active:     v.Active,
		}
	}
	logx.Info("REGISTRY", fmt.Sprintf("Loaded %d validators from genesis", len(r.entries)))
	return r, nil
}

// Apply replaces an entry. Called by the governance channel between rounds;
// in-flight rounds keep their snapshot.
func (r *Registry) Apply(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := e
	r.entries[e.ID] = &copied
	logx.Info("REGISTRY", fmt.Sprintf("Applied registry update for %s stake=%d active=%t", e.ID, e.Stake, e.Active))
}

// Snapshot captures the active validator set at a point in time.
func (r *Registry) Snapshot() (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Snapshot{entries: make(map[string]Entry)}
	for id, e := range r.entries {
		if !e.Active {
			continue
		}
		snap.entries[id] = *e
		snap.totalStake += e.Stake
		snap.ids = append(snap.ids, id)
	}
	if len(snap.entries) == 0 {
		return nil, errors.NewError(errors.ErrCodeNoActiveSet, "no active validators")
	}
	sort.Strings(snap.ids)
	return snap, nil
}

// Snapshot is an immutable view of the active validator set.
type Snapshot struct {
	entries    map[string]Entry
	ids        []string
	totalStake uint64
}

// ActiveValidators returns the active validator ids in lexicographic order.
func (s *Snapshot) ActiveValidators() []string {
	return append([]string(nil), s.ids...)
}

// PublicKeys returns the hybrid public key registered for a validator.
func (s *Snapshot) PublicKeys(validatorID string) (*hybridsig.PublicKey, error) {
	e, ok := s.entries[validatorID]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeUnknownValidator, fmt.Sprintf("validator %s not in active set", validatorID))
	}
	return e.PubKey, nil
}

// Stake returns a validator's stake weight, zero if unknown.
func (s *Snapshot) Stake(validatorID string) uint64 {
	return s.entries[validatorID].Stake
}

// Contains reports whether the validator is in the active set.
func (s *Snapshot) Contains(validatorID string) bool {
	_, ok := s.entries[validatorID]
	return ok
}

// TotalStake is the summed stake of all active validators.
func (s *Snapshot) TotalStake() uint64 {
	return s.totalStake
}

// QuorumStake is the smallest stake total strictly greater than 2/3 of the
// active stake. Commitment below this bound is impossible with up to
// floor((n-1)/3) faulty validators.
func (s *Snapshot) QuorumStake() uint64 {
	return s.totalStake*2/3 + 1
}

// Size returns the number of active validators.
func (s *Snapshot) Size() int {
	return len(s.ids)
}
