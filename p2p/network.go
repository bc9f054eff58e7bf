package p2p

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	ma "github.com/multiformats/go-multiaddr"

	"qdag/consensus"
	"qdag/exception"
	"qdag/logx"
	"qdag/monitoring"
	"qdag/registry"
	"qdag/unit"
)

const AdvertiseName = "qdag-validators"

// SnapshotFunc yields the current active validator set. The transport uses
// it to verify envelope senders without holding a stale snapshot.
type SnapshotFunc func() (*registry.Snapshot, error)

// Network is the libp2p transport: a host with kad-DHT peer discovery and
// three GossipSub topics carrying units, proposals and votes. All outbound
// messages travel in signed envelopes; inbound envelopes from unknown or
// mis-signed senders are dropped here.
type Network struct {
	host    host.Host
	dht     *dht.IpfsDHT
	pubsub  *pubsub.PubSub
	selfID  string
	signKey ed25519.PrivateKey
	snapFn  SnapshotFunc

	topicUnits     *pubsub.Topic
	topicProposals *pubsub.Topic
	topicVotes     *pubsub.Topic

	onUnit     func(*unit.Unit)
	onProposal func(*consensus.Proposal)
	onVote     func(*consensus.Vote)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNetwork builds the host, bootstraps the DHT and connects to the given
// bootstrap peers. Topics are joined later via Start once callbacks are set.
func NewNetwork(selfID string, nodeKey ed25519.PrivateKey, listenAddr string, bootstrapPeers []string, snapFn SnapshotFunc) (*Network, error) {
	privKey, err := crypto.UnmarshalEd25519PrivateKey(nodeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ed25519 private key: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var ddht *dht.IpfsDHT
	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.EnableNATService(),
		libp2p.NATPortMap(),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			ddht, err = dht.New(ctx, h, dht.Mode(dht.ModeServer))
			return ddht, err
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	if err := ddht.Bootstrap(ctx); err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	disc := drouting.NewRoutingDiscovery(ddht)
	dutil.Advertise(ctx, disc, AdvertiseName)

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithDiscovery(disc),
		pubsub.WithMaxMessageSize(5*1024*1024),
		pubsub.WithValidateQueueSize(128),
		pubsub.WithPeerOutboundQueueSize(128),
	)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	n := &Network{
		host:    h,
		dht:     ddht,
		pubsub:  ps,
		selfID:  selfID,
		signKey: nodeKey,
		snapFn:  snapFn,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := n.connectBootstrap(ctx, bootstrapPeers); err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	logx.Info("NETWORK", fmt.Sprintf("Libp2p host started with ID: %s", h.ID().String()))
	for _, addr := range h.Addrs() {
		logx.Info("NETWORK", "Listening on: ", addr.String())
	}
	return n, nil
}

func (n *Network) connectBootstrap(ctx context.Context, bootstrapPeers []string) error {
	attempted, connected := 0, 0
	for _, bp := range bootstrapPeers {
		if bp == "" {
			continue
		}
		attempted++
		maddr, err := ma.NewMultiaddr(bp)
		if err != nil {
			logx.Error("NETWORK:SETUP", "Invalid bootstrap address: ", bp, ", error: ", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			logx.Error("NETWORK:SETUP", "Bootstrap address has no peer id: ", bp)
			continue
		}
		if err := n.host.Connect(ctx, *info); err != nil {
			logx.Error("NETWORK:SETUP", "Failed to connect to bootstrap: ", bp, " ", err.Error())
			continue
		}
		logx.Info("NETWORK:SETUP", "Connected to bootstrap peer: ", bp)
		connected++
	}
	if attempted > 0 && connected == 0 {
		return fmt.Errorf("failed to connect to any bootstrap peer")
	}
	return nil
}

// SetCallbacks registers the inbound dispatch functions. Must be called
// before Start.
func (n *Network) SetCallbacks(onUnit func(*unit.Unit), onProposal func(*consensus.Proposal), onVote func(*consensus.Vote)) {
	n.onUnit = onUnit
	n.onProposal = onProposal
	n.onVote = onVote
}

// Start joins the gossip topics and spawns the handler loops.
func (n *Network) Start() error {
	if err := n.setupTopics(n.ctx); err != nil {
		return err
	}
	exception.SafeGo("PeerCount", func() { n.trackPeerCount(n.ctx) })
	return nil
}

// PeersConnected excludes self from the host's peer list.
func (n *Network) PeersConnected() int {
	return len(n.host.Network().Peers())
}

func (n *Network) HostID() string {
	return n.host.ID().String()
}

func (n *Network) Close() {
	n.cancel()
	if err := n.host.Close(); err != nil {
		logx.Error("NETWORK", "Failed to close host: ", err)
	}
}

func (n *Network) trackPeerCount(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitoring.SetPeerCount(n.PeersConnected())
		}
	}
}
