package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/inkboard/huddle/pkg/signaling"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

type frameKind string

const (
	frameHello frameKind = "hello"
	frameBye   frameKind = "bye"
	frameEvent frameKind = "event"
)

// Everything on a gossip topic is one of these.
type frame struct {
	Kind    frameKind        `json:"kind"`
	Member  signaling.Member `json:"member"`
	Event   string           `json:"event,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

type gossipTopic struct {
	*signaling.Dispatcher

	node         *Node
	name         string
	self         signaling.Member
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
	events       *pubsub.TopicEventHandler
	logger       *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mutex    sync.Mutex
	roster   *signaling.Roster
	lastSeen map[string]time.Time
	owners   map[string]peer.ID

	leaveOnce sync.Once
}

func joinTopic(node *Node, name string, self signaling.Member) (*gossipTopic, error) {
	topic, err := node.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join gossip topic: %w", err)
	}

	subscription, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return nil, fmt.Errorf("failed to subscribe to gossip topic: %w", err)
	}

	events, err := topic.EventHandler()
	if err != nil {
		subscription.Cancel()
		_ = topic.Close()
		return nil, fmt.Errorf("failed to watch gossip topic peers: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	joined := &gossipTopic{
		Dispatcher:   signaling.NewDispatcher(),
		node:         node,
		name:         name,
		self:         self,
		topic:        topic,
		subscription: subscription,
		events:       events,
		logger:       node.logger.WithFields(logrus.Fields{"topic": name, "member_id": self.ID}),
		ctx:          ctx,
		cancel:       cancel,
		roster:       signaling.NewRoster(),
		lastSeen:     make(map[string]time.Time),
		owners:       make(map[string]peer.ID),
	}

	joined.roster.Join(self)
	joined.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceSync, Members: joined.roster.Snapshot()})

	go joined.readLoop()
	go joined.watchPeers()
	go joined.refreshLoop()

	joined.announce(frameHello)
	return joined, nil
}

func (t *gossipTopic) Broadcast(ctx context.Context, event string, payload []byte) error {
	if t.Closed() {
		return signaling.ErrTopicClosed
	}

	return t.publish(ctx, frame{Kind: frameEvent, Member: t.self, Event: event, Payload: payload})
}

func (t *gossipTopic) Members() []signaling.Member {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.roster.Snapshot()
}

func (t *gossipTopic) Leave(ctx context.Context) error {
	t.leaveOnce.Do(func() {
		if publishErr := t.publish(ctx, frame{Kind: frameBye, Member: t.self}); publishErr != nil {
			t.logger.WithError(publishErr).Warn("failed to announce leave")
		}

		t.cancel()
		t.events.Cancel()
		t.subscription.Cancel()
		// Cancellations are processed asynchronously by pubsub, closing the
		// topic right away may be refused.
		if err := t.topic.Close(); err != nil {
			t.logger.WithError(err).Debug("gossip topic not closed")
		}
		t.Close()
		t.node.release(t.name)
	})

	return nil
}

func (t *gossipTopic) publish(ctx context.Context, message frame) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode gossip frame: %w", err)
	}

	return t.topic.Publish(ctx, data)
}

func (t *gossipTopic) announce(kind frameKind) {
	if err := t.publish(t.ctx, frame{Kind: kind, Member: t.self}); err != nil && t.ctx.Err() == nil {
		t.logger.WithError(err).Warn("failed to announce presence")
	}
}

func (t *gossipTopic) readLoop() {
	for {
		message, err := t.subscription.Next(t.ctx)
		if err != nil {
			return
		}

		var received frame
		if err := json.Unmarshal(message.Data, &received); err != nil {
			t.logger.WithError(err).Debug("ignoring malformed gossip frame")
			continue
		}

		if received.Member.ID == "" || received.Member.ID == t.self.ID {
			continue
		}

		switch received.Kind {
		case frameHello:
			if t.seen(received.Member, message.GetFrom()) {
				// Let the newcomer learn about us without waiting for a refresh.
				go t.announce(frameHello)
			}
		case frameBye:
			t.expire(received.Member.ID)
		case frameEvent:
			// An event also proves that its sender is still around.
			t.seen(received.Member, message.GetFrom())
			t.DeliverEnvelope(signaling.Envelope{Event: received.Event, Payload: received.Payload})
		}
	}
}

// A libp2p peer leaving the topic takes every member it announced with it.
func (t *gossipTopic) watchPeers() {
	for {
		event, err := t.events.NextPeerEvent(t.ctx)
		if err != nil {
			return
		}

		if event.Type != pubsub.PeerLeave {
			continue
		}

		t.mutex.Lock()
		var gone []string
		for id, owner := range t.owners {
			if owner == event.Peer {
				gone = append(gone, id)
			}
		}
		t.mutex.Unlock()

		t.expire(gone...)
	}
}

func (t *gossipTopic) refreshLoop() {
	ticker := time.NewTicker(t.node.config.refreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.announce(frameHello)
			t.expireStale(time.Now())
		case <-t.ctx.Done():
			return
		}
	}
}

// Records a sign of life and returns true if the member is new.
func (t *gossipTopic) seen(member signaling.Member, from peer.ID) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Closed() {
		return false
	}

	t.lastSeen[member.ID] = time.Now()
	t.owners[member.ID] = from

	joined := t.roster.Join(member)
	if len(joined) == 0 {
		return false
	}

	t.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceJoin, Members: joined})
	return true
}

func (t *gossipTopic) expire(ids ...string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for _, id := range ids {
		delete(t.lastSeen, id)
		delete(t.owners, id)
	}

	if left := t.roster.Leave(ids...); len(left) > 0 {
		t.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceLeave, Members: left})
	}
}

func (t *gossipTopic) expireStale(now time.Time) {
	ttl := t.node.config.presenceTTL()

	t.mutex.Lock()
	var stale []string
	for id, last := range t.lastSeen {
		if now.Sub(last) > ttl {
			stale = append(stale, id)
		}
	}
	t.mutex.Unlock()

	t.expire(stale...)
}
