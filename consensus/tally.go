package consensus

import (
	"fmt"
	"sync"

	"qdag/logx"
	"qdag/registry"
)

// Tally accumulates one round's stake-weighted votes, grouped by order hash.
// One vote per validator: a second vote from the same id is dropped, so an
// equivocating validator cannot double its stake.
type Tally struct {
	mu           sync.Mutex
	snap         *registry.Snapshot
	voted        map[string]bool
	stakeByOrder map[string]uint64
	votedStake   uint64
}

func NewTally(snap *registry.Snapshot) *Tally {
	return &Tally{
		snap:         snap,
		voted:        make(map[string]bool),
		stakeByOrder: make(map[string]uint64),
	}
}

// AddVote records a vote and reports whether it was counted. Disagree votes
// consume the voter's slot but add stake to no order.
func (t *Tally) AddVote(v *Vote) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.snap.Contains(v.ValidatorID) {
		return false, fmt.Errorf("vote from %s outside active set", v.ValidatorID)
	}
	if t.voted[v.ValidatorID] {
		logx.Warn("TALLY", fmt.Sprintf("Duplicate vote from %s in round %d dropped", v.ValidatorID, v.RoundID))
		return false, nil
	}
	t.voted[v.ValidatorID] = true

	stake := t.snap.Stake(v.ValidatorID)
	t.votedStake += stake
	if v.Agree {
		t.stakeByOrder[v.OrderHash] += stake
	}
	return true, nil
}

// Leader returns the order hash with the most agreeing stake.
func (t *Tally) Leader() (string, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best string
	var bestStake uint64
	for hash, stake := range t.stakeByOrder {
		if stake > bestStake || (stake == bestStake && hash < best) {
			best = hash
			bestStake = stake
		}
	}
	return best, bestStake
}

// Quorum returns the order hash whose agreeing stake strictly exceeds 2/3 of
// the active stake, if any.
func (t *Tally) Quorum() (string, uint64, bool) {
	hash, stake := t.Leader()
	if hash != "" && stake >= t.snap.QuorumStake() {
		return hash, stake, true
	}
	return "", 0, false
}

// Decided reports whether waiting longer could still change the outcome: all
// validators have voted, or no order can reach quorum with the stake that
// has not voted yet.
func (t *Tally) Decided() bool {
	if _, _, ok := t.Quorum(); ok {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.voted) == t.snap.Size() {
		return true
	}
	remaining := t.snap.TotalStake() - t.votedStake
	var bestStake uint64
	for _, stake := range t.stakeByOrder {
		if stake > bestStake {
			bestStake = stake
		}
	}
	return bestStake+remaining < t.snap.QuorumStake()
}

// VotedStake is the total stake of validators that have voted.
func (t *Tally) VotedStake() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.votedStake
}

// VoterCount is the number of distinct validators that have voted.
func (t *Tally) VoterCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voted)
}
