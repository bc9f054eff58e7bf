package consensus

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync/atomic"
	"time"

	"qdag/logx"
	"qdag/registry"
)

// Phase is a round's position in the propose/vote/decide progression.
type Phase int32

const (
	PhasePropose Phase = iota
	PhaseVote
	PhaseDecide
	PhaseCommitted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhasePropose:
		return "propose"
	case PhaseVote:
		return "vote"
	case PhaseDecide:
		return "decide"
	case PhaseCommitted:
		return "committed"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Broadcaster carries consensus messages to the other validators. The p2p
// layer implements it for production; tests wire an in-process loopback.
type Broadcaster interface {
	BroadcastProposal(ctx context.Context, p *Proposal) error
	BroadcastVote(ctx context.Context, v *Vote) error
}

// Decision is the terminal outcome of one round. Aborted rounds carry no
// order and leave no persisted trace.
type Decision struct {
	RoundID    uint64
	Committed  bool
	Order      []string
	AgreeStake uint64
	TotalStake uint64
	Reason     string
}

// Round runs one propose/vote/decide exchange over a fixed validator
// snapshot. Inbound messages arrive on channels via SubmitProposal and
// SubmitVote; all validation and tallying happens on the Run goroutine.
type Round struct {
	id            uint64
	selfID        string
	signKey       ed25519.PrivateKey
	snap          *registry.Snapshot
	candidate     []string
	candidateHash string

	bc              Broadcaster
	proposalTimeout time.Duration
	voteTimeout     time.Duration

	phase      atomic.Int32
	proposalCh chan *Proposal
	voteCh     chan *Vote

	// orders maps each seen order hash to the full sequence it stands for,
	// learned from proposals. A dissenting minority needs this to apply the
	// majority's decision.
	orders   map[string][]string
	proposed map[string]bool
}

func NewRound(id uint64, selfID string, signKey ed25519.PrivateKey, snap *registry.Snapshot, candidate []string, bc Broadcaster, proposalTimeout, voteTimeout time.Duration) *Round {
	r := &Round{
		id:              id,
		selfID:          selfID,
		signKey:         signKey,
		snap:            snap,
		candidate:       candidate,
		candidateHash:   OrderHash(candidate),
		bc:              bc,
		proposalTimeout: proposalTimeout,
		voteTimeout:     voteTimeout,
		proposalCh:      make(chan *Proposal, snap.Size()*2),
		voteCh:          make(chan *Vote, snap.Size()*2),
		orders:          map[string][]string{OrderHash(candidate): candidate},
		proposed:        make(map[string]bool),
	}
	r.phase.Store(int32(PhasePropose))
	return r
}

func (r *Round) ID() uint64 {
	return r.id
}

func (r *Round) Phase() Phase {
	return Phase(r.phase.Load())
}

// SubmitProposal hands an inbound proposal to the round. Non-blocking: a
// full channel drops the message, which the vote phase treats the same as a
// proposal that never arrived.
func (r *Round) SubmitProposal(p *Proposal) {
	if p.RoundID != r.id {
		return
	}
	select {
	case r.proposalCh <- p:
	default:
		logx.Warn("CONSENSUS", fmt.Sprintf("Proposal channel full in round %d, dropping proposal from %s", r.id, p.ValidatorID))
	}
}

// SubmitVote hands an inbound vote to the round.
func (r *Round) SubmitVote(v *Vote) {
	if v.RoundID != r.id {
		return
	}
	select {
	case r.voteCh <- v:
	default:
		logx.Warn("CONSENSUS", fmt.Sprintf("Vote channel full in round %d, dropping vote from %s", r.id, v.ValidatorID))
	}
}

// Run drives the round to a decision. Cancelling ctx aborts the round at the
// next phase boundary.
func (r *Round) Run(ctx context.Context) *Decision {
	if err := r.runPropose(ctx); err != nil {
		return r.abort(err.Error())
	}
	return r.runVote(ctx)
}

// runPropose broadcasts our candidate and gathers proposals until every
// active validator has spoken or the proposal window closes. Late proposals
// are not an error: a validator we never hear from simply cannot win our
// vote.
func (r *Round) runPropose(ctx context.Context) error {
	own := &Proposal{RoundID: r.id, ValidatorID: r.selfID, Order: r.candidate}
	own.Sign(r.signKey)
	r.proposed[r.selfID] = true

	if err := r.bc.BroadcastProposal(ctx, own); err != nil {
		return fmt.Errorf("proposal broadcast failed: %w", err)
	}
	logx.Info("CONSENSUS", fmt.Sprintf("Round %d proposing %d units hash=%s", r.id, len(r.candidate), shortHash(r.candidateHash)))

	timer := time.NewTimer(r.proposalTimeout)
	defer timer.Stop()
	for len(r.proposed) < r.snap.Size() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			logx.Info("CONSENSUS", fmt.Sprintf("Round %d proposal window closed with %d/%d proposals", r.id, len(r.proposed), r.snap.Size()))
			return nil
		case p := <-r.proposalCh:
			r.handleProposal(p)
		}
	}
	return nil
}

func (r *Round) handleProposal(p *Proposal) {
	if err := p.Validate(); err != nil {
		logx.Warn("CONSENSUS", fmt.Sprintf("Malformed proposal in round %d: %v", r.id, err))
		return
	}
	if !r.snap.Contains(p.ValidatorID) {
		logx.Warn("CONSENSUS", fmt.Sprintf("Proposal from %s outside active set in round %d", p.ValidatorID, r.id))
		return
	}
	if r.proposed[p.ValidatorID] {
		return
	}
	pub, err := r.snap.PublicKeys(p.ValidatorID)
	if err != nil || !p.VerifySignature(pub.Classical) {
		logx.Warn("CONSENSUS", fmt.Sprintf("Invalid proposal signature from %s in round %d", p.ValidatorID, r.id))
		return
	}
	r.proposed[p.ValidatorID] = true
	hash := OrderHash(p.Order)
	if _, ok := r.orders[hash]; !ok {
		r.orders[hash] = p.Order
	}
}

// runVote casts our stake on our own candidate, then tallies until the
// outcome is settled. Validators that stay silent past the vote window count
// as dissent: their stake backs no order.
func (r *Round) runVote(ctx context.Context) *Decision {
	r.phase.Store(int32(PhaseVote))

	tally := NewTally(r.snap)
	own := &Vote{RoundID: r.id, ValidatorID: r.selfID, OrderHash: r.candidateHash, Agree: true}
	own.Sign(r.signKey)
	if _, err := tally.AddVote(own); err != nil {
		return r.abort(fmt.Sprintf("self vote rejected: %v", err))
	}
	if err := r.bc.BroadcastVote(ctx, own); err != nil {
		return r.abort(fmt.Sprintf("vote broadcast failed: %v", err))
	}

	timer := time.NewTimer(r.voteTimeout)
	defer timer.Stop()
	for !tally.Decided() {
		select {
		case <-ctx.Done():
			return r.abort(ctx.Err().Error())
		case <-timer.C:
			return r.decide(tally, true)
		case v := <-r.voteCh:
			r.handleVote(tally, v)
		}
	}
	return r.decide(tally, false)
}

func (r *Round) handleVote(tally *Tally, v *Vote) {
	if err := v.Validate(); err != nil {
		logx.Warn("CONSENSUS", fmt.Sprintf("Malformed vote in round %d: %v", r.id, err))
		return
	}
	pub, err := r.snap.PublicKeys(v.ValidatorID)
	if err != nil || !v.VerifySignature(pub.Classical) {
		logx.Warn("CONSENSUS", fmt.Sprintf("Invalid vote signature from %s in round %d", v.ValidatorID, r.id))
		return
	}
	if _, err := tally.AddVote(v); err != nil {
		logx.Warn("CONSENSUS", fmt.Sprintf("Vote not counted in round %d: %v", r.id, err))
	}
}

func (r *Round) decide(tally *Tally, timedOut bool) *Decision {
	r.phase.Store(int32(PhaseDecide))

	hash, stake, ok := tally.Quorum()
	if !ok {
		reason := "no order reached quorum"
		if timedOut {
			reason = fmt.Sprintf("vote window closed with %d/%d votes, no quorum", tally.VoterCount(), r.snap.Size())
		}
		return r.abort(reason)
	}

	order, known := r.orders[hash]
	if !known {
		// Quorum formed on an order we never received a proposal for. We
		// cannot apply an order we cannot resolve to units, so locally this
		// round aborts; a persistent mismatch surfaces as an abort streak
		// and halts the node for operator intervention.
		return r.abort(fmt.Sprintf("quorum on unknown order %s", shortHash(hash)))
	}

	r.phase.Store(int32(PhaseCommitted))
	if hash != r.candidateHash {
		logx.Info("CONSENSUS", fmt.Sprintf("Round %d accepting majority order %s over own %s", r.id, shortHash(hash), shortHash(r.candidateHash)))
	}
	return &Decision{
		RoundID:    r.id,
		Committed:  true,
		Order:      order,
		AgreeStake: stake,
		TotalStake: r.snap.TotalStake(),
	}
}

func (r *Round) abort(reason string) *Decision {
	r.phase.Store(int32(PhaseAborted))
	logx.Warn("CONSENSUS", fmt.Sprintf("Round %d aborted: %s", r.id, reason))
	return &Decision{
		RoundID:    r.id,
		Committed:  false,
		TotalStake: r.snap.TotalStake(),
		Reason:     reason,
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
