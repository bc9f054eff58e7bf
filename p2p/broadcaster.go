package p2p

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"qdag/consensus"
	"qdag/jsonx"
	"qdag/logx"
	"qdag/unit"
)

// BroadcastUnit publishes a newly accepted unit to the unit topic.
func (n *Network) BroadcastUnit(ctx context.Context, u *unit.Unit) error {
	env, err := NewEnvelope(KindUnit, 0, n.selfID, u, n.signKey)
	if err != nil {
		return err
	}
	return n.publish(ctx, n.topicUnits, env)
}

// BroadcastProposal implements consensus.Broadcaster.
func (n *Network) BroadcastProposal(ctx context.Context, p *consensus.Proposal) error {
	env, err := NewEnvelope(KindProposal, p.RoundID, n.selfID, p, n.signKey)
	if err != nil {
		return err
	}
	return n.publish(ctx, n.topicProposals, env)
}

// BroadcastVote implements consensus.Broadcaster.
func (n *Network) BroadcastVote(ctx context.Context, v *consensus.Vote) error {
	env, err := NewEnvelope(KindVote, v.RoundID, n.selfID, v, n.signKey)
	if err != nil {
		return err
	}
	return n.publish(ctx, n.topicVotes, env)
}

func (n *Network) publish(ctx context.Context, topic *pubsub.Topic, env *Envelope) error {
	data, err := jsonx.Marshal(env)
	if err != nil {
		return err
	}
	if topic == nil {
		logx.Warn("NETWORK", "Topic not joined, dropping outbound ", env.Kind)
		return nil
	}
	return topic.Publish(ctx, data)
}
