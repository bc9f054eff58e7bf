package p2p

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"qdag/consensus"
	"qdag/exception"
	"qdag/jsonx"
	"qdag/logx"
	"qdag/unit"
)

const (
	TopicUnits     = "qdag/units"
	TopicProposals = "qdag/proposals"
	TopicVotes     = "qdag/votes"
)

func (n *Network) setupTopics(ctx context.Context) error {
	var err error

	if n.topicUnits, err = n.pubsub.Join(TopicUnits); err != nil {
		return fmt.Errorf("failed to join %s: %w", TopicUnits, err)
	}
	sub, err := n.topicUnits.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", TopicUnits, err)
	}
	exception.SafeGo("HandleUnitTopic", func() { n.handleUnitTopic(ctx, sub) })

	if n.topicProposals, err = n.pubsub.Join(TopicProposals); err != nil {
		return fmt.Errorf("failed to join %s: %w", TopicProposals, err)
	}
	sub, err = n.topicProposals.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", TopicProposals, err)
	}
	exception.SafeGo("HandleProposalTopic", func() { n.handleProposalTopic(ctx, sub) })

	if n.topicVotes, err = n.pubsub.Join(TopicVotes); err != nil {
		return fmt.Errorf("failed to join %s: %w", TopicVotes, err)
	}
	sub, err = n.topicVotes.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", TopicVotes, err)
	}
	exception.SafeGo("HandleVoteTopic", func() { n.handleVoteTopic(ctx, sub) })

	return nil
}

// receiveEnvelope reads the next gossip message, skips our own, and runs the
// sender and signature checks. Anything that fails comes back nil.
func (n *Network) receiveEnvelope(ctx context.Context, sub *pubsub.Subscription) (*Envelope, error) {
	msg, err := sub.Next(ctx)
	if err != nil {
		return nil, err
	}
	if msg.ReceivedFrom == n.host.ID() {
		return nil, nil
	}

	var env Envelope
	if err := jsonx.Unmarshal(msg.Data, &env); err != nil {
		logx.Warn("NETWORK", "Dropping undecodable envelope: ", err)
		return nil, nil
	}
	snap, err := n.snapFn()
	if err != nil {
		logx.Warn("NETWORK", "No validator snapshot, dropping envelope from ", env.ValidatorID)
		return nil, nil
	}
	pub, err := snap.PublicKeys(env.ValidatorID)
	if err != nil {
		logx.Warn("NETWORK", "Dropping envelope from unknown validator ", env.ValidatorID)
		return nil, nil
	}
	if !env.Verify(pub.Classical) {
		logx.Warn("NETWORK", "Dropping mis-signed envelope from ", env.ValidatorID)
		return nil, nil
	}
	return &env, nil
}

func (n *Network) handleUnitTopic(ctx context.Context, sub *pubsub.Subscription) {
	for {
		env, err := n.receiveEnvelope(ctx, sub)
		if err != nil {
			return
		}
		if env == nil || env.Kind != KindUnit {
			continue
		}
		var u unit.Unit
		if err := jsonx.Unmarshal(env.Payload, &u); err != nil {
			logx.Warn("NETWORK", "Dropping undecodable unit from ", env.ValidatorID, ": ", err)
			continue
		}
		if n.onUnit != nil {
			n.onUnit(&u)
		}
	}
}

func (n *Network) handleProposalTopic(ctx context.Context, sub *pubsub.Subscription) {
	for {
		env, err := n.receiveEnvelope(ctx, sub)
		if err != nil {
			return
		}
		if env == nil || env.Kind != KindProposal {
			continue
		}
		var p consensus.Proposal
		if err := jsonx.Unmarshal(env.Payload, &p); err != nil {
			logx.Warn("NETWORK", "Dropping undecodable proposal from ", env.ValidatorID, ": ", err)
			continue
		}
		if p.ValidatorID != env.ValidatorID {
			logx.Warn("NETWORK", "Envelope sender ", env.ValidatorID, " does not match proposal author ", p.ValidatorID)
			continue
		}
		if n.onProposal != nil {
			n.onProposal(&p)
		}
	}
}

func (n *Network) handleVoteTopic(ctx context.Context, sub *pubsub.Subscription) {
	for {
		env, err := n.receiveEnvelope(ctx, sub)
		if err != nil {
			return
		}
		if env == nil || env.Kind != KindVote {
			continue
		}
		var v consensus.Vote
		if err := jsonx.Unmarshal(env.Payload, &v); err != nil {
			logx.Warn("NETWORK", "Dropping undecodable vote from ", env.ValidatorID, ": ", err)
			continue
		}
		if v.ValidatorID != env.ValidatorID {
			logx.Warn("NETWORK", "Envelope sender ", env.ValidatorID, " does not match vote author ", v.ValidatorID)
			continue
		}
		if n.onVote != nil {
			n.onVote(&v)
		}
	}
}
