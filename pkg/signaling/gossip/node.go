// Package gossip implements the signaling transport on a libp2p gossipsub
// network. Presence is soft state: members announce themselves periodically and
// expire when they stop doing so.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

var ErrAlreadyJoined = errors.New("topic is already joined on this node")

// Node is a libp2p host with gossipsub, usable as a signaling.Transport.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	mdns   mdns.Service
	config Config
	logger *logrus.Entry

	mutex  sync.Mutex
	joined map[string]struct{}
}

func New(ctx context.Context, config Config, logger *logrus.Entry) (*Node, error) {
	listen := config.ListenAddrs
	if len(listen) == 0 {
		listen = []string{"/ip4/0.0.0.0/tcp/0"}
	}

	h, err := libp2p.New(libp2p.ListenAddrStrings(listen...))
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	node := &Node{
		host:   h,
		config: config,
		logger: logger.WithField("peer_id", h.ID().String()),
		joined: make(map[string]struct{}),
	}

	if config.MDNS {
		node.mdns = mdns.NewMdnsService(h, mdnsServiceTag, &discoveryNotifee{node: node})
		if err := node.mdns.Start(); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("failed to start mDNS: %w", err)
		}
	}

	node.pubsub, err = pubsub.NewGossipSub(ctx, h)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("failed to start gossipsub: %w", err)
	}

	for _, address := range config.Bootstrap {
		if err := node.Connect(ctx, address); err != nil {
			node.logger.WithError(err).WithField("address", address).Warn("failed to connect to bootstrap peer")
		}
	}

	return node, nil
}

// Connect dials a peer given as a multiaddress with a `/p2p/` component.
func (n *Node) Connect(ctx context.Context, address string) error {
	addr, err := ma.NewMultiaddr(address)
	if err != nil {
		return fmt.Errorf("invalid multiaddress: %w", err)
	}

	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("multiaddress has no peer id: %w", err)
	}

	return n.host.Connect(ctx, *info)
}

// Addrs returns the dialable multiaddresses of this node, including its id.
func (n *Node) Addrs() []string {
	info := peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}

	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}

	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, addr.String())
	}

	return result
}

func (n *Node) Join(ctx context.Context, topic string, self signaling.Member) (signaling.Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()

	if _, found := n.joined[topic]; found {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyJoined, topic)
	}

	joined, err := joinTopic(n, topic, self)
	if err != nil {
		return nil, err
	}

	n.joined[topic] = struct{}{}
	return joined, nil
}

func (n *Node) Close() error {
	if n.mdns != nil {
		_ = n.mdns.Close()
	}

	return n.host.Close()
}

func (n *Node) release(topic string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	delete(n.joined, topic)
}

type discoveryNotifee struct {
	node *Node
}

func (d *discoveryNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == d.node.host.ID() {
		return
	}

	if err := d.node.host.Connect(context.Background(), info); err != nil {
		d.node.logger.WithError(err).WithField("remote_peer", info.ID.String()).Debug("failed to connect to discovered peer")
	}
}
