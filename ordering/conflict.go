package ordering

import (
	"fmt"
	"sync"

	"qdag/dag"
	"qdag/logx"
	"qdag/types"
	"qdag/unit"
)

// ConflictStatus is the result of a conflict check: either no conflict or
// the id of the first live sibling spending the same (sender, nonce).
type ConflictStatus struct {
	Conflicts bool
	With      string
}

var noConflict = ConflictStatus{}

type sibling struct {
	unitID      string
	payloadHash string
}

// Resolver indexes units by (sender, nonce) and applies the deferred,
// weight-based double-spend rule: conflicting siblings coexist as
// Pending/Ordered, and a loser transitions to Rejected only once its winner
// is Finalized. Weight can shift until then, so rejecting earlier would be
// premature.
type Resolver struct {
	mu    sync.Mutex
	store *dag.Store
	index map[string][]sibling // sender|nonce → live siblings
}

func NewResolver(store *dag.Store) *Resolver {
	return &Resolver{
		store: store,
		index: make(map[string][]sibling),
	}
}

func conflictKey(tx *types.Transaction) string {
	return fmt.Sprintf("%s|%d", tx.Sender, tx.Nonce)
}

// Check reports whether u conflicts with an already tracked unit, without
// registering u.
func (r *Resolver) Check(u *unit.Unit) ConflictStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(u)
}

// Track registers u in the index and returns its conflict status. Identical
// (sender, nonce, payload) duplicates are not conflicts; AddUnit's duplicate
// detection handles those.
func (r *Resolver) Track(u *unit.Unit) ConflictStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.lookup(u)
	key := conflictKey(u.Tx)
	r.index[key] = append(r.index[key], sibling{
		unitID:      u.ID,
		payloadHash: u.Tx.PayloadHash(),
	})
	if status.Conflicts {
		logx.Warn("CONFLICT", fmt.Sprintf("Unit %s conflicts with %s (sender=%s nonce=%d)", u.ID, status.With, u.Tx.Sender, u.Tx.Nonce))
	}
	return status
}

func (r *Resolver) lookup(u *unit.Unit) ConflictStatus {
	key := conflictKey(u.Tx)
	payload := u.Tx.PayloadHash()
	for _, sib := range r.index[key] {
		if sib.unitID == u.ID || sib.payloadHash == payload {
			continue
		}
		if state, ok := r.store.Status(sib.unitID); ok && state != types.FinalityRejected {
			return ConflictStatus{Conflicts: true, With: sib.unitID}
		}
	}
	return noConflict
}

// Losers returns the live siblings that would be rejected if winner were
// finalized now, without mutating anything. Commit planning uses this to
// decide which units of a candidate order still make it into the log.
func (r *Resolver) Losers(winner *unit.Unit) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := conflictKey(winner.Tx)
	payload := winner.Tx.PayloadHash()
	var losers []string
	for _, sib := range r.index[key] {
		if sib.unitID == winner.ID || sib.payloadHash == payload {
			continue
		}
		if state, ok := r.store.Status(sib.unitID); ok && !state.Terminal() {
			losers = append(losers, sib.unitID)
		}
	}
	return losers
}

// LostToFinalized reports whether u conflicts with an already finalized
// sibling. Such a unit is settled as a loser no matter what any future round
// votes; winners stay in the index after finalization precisely so this
// lookup keeps working for late arrivals.
func (r *Resolver) LostToFinalized(u *unit.Unit) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := conflictKey(u.Tx)
	payload := u.Tx.PayloadHash()
	for _, sib := range r.index[key] {
		if sib.unitID == u.ID || sib.payloadHash == payload {
			continue
		}
		if state, ok := r.store.Status(sib.unitID); ok && state == types.FinalityFinalized {
			return sib.unitID, true
		}
	}
	return "", false
}

// OnFinalized settles all conflicts the winner participates in: every live
// sibling with a differing payload is marked Rejected. Returns the rejected
// unit ids.
func (r *Resolver) OnFinalized(winner *unit.Unit) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := conflictKey(winner.Tx)
	payload := winner.Tx.PayloadHash()
	var rejected []string
	for _, sib := range r.index[key] {
		if sib.unitID == winner.ID || sib.payloadHash == payload {
			continue
		}
		state, ok := r.store.Status(sib.unitID)
		if !ok || state.Terminal() {
			continue
		}
		if err := r.store.MarkRejected(sib.unitID); err != nil {
			logx.Error("CONFLICT", "Failed to reject conflict loser ", sib.unitID, ": ", err)
			continue
		}
		rejected = append(rejected, sib.unitID)
	}
	if len(rejected) > 0 {
		logx.Info("CONFLICT", fmt.Sprintf("Winner %s finalized, rejected %d conflicting siblings", winner.ID, len(rejected)))
	}
	return rejected
}

// Forget drops a unit from the index. Callers keep finalized winners
// registered so LostToFinalized can settle late-arriving siblings; only
// rejected losers should be forgotten.
func (r *Resolver) Forget(u *unit.Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := conflictKey(u.Tx)
	sibs := r.index[key]
	kept := sibs[:0]
	for _, sib := range sibs {
		if sib.unitID != u.ID {
			kept = append(kept, sib)
		}
	}
	if len(kept) == 0 {
		delete(r.index, key)
	} else {
		r.index[key] = kept
	}
}
