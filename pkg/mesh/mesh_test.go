package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/inkboard/huddle/pkg/webrtc_ext/webrtctest"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mutex    sync.Mutex
	joined   []string
	left     []string
	streams  []string
	failures []*NegotiationError
	attached []string
	removed  []string
	sent     []signaling.Message
}

func (r *recorder) ParticipantJoined(remoteID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.joined = append(r.joined, remoteID)
}

func (r *recorder) ParticipantLeft(remoteID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.left = append(r.left, remoteID)
}

func (r *recorder) RemoteStreamAvailable(remoteID string, _ webrtc_ext.TrackInfo) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.streams = append(r.streams, remoteID)
}

func (r *recorder) NegotiationFailed(err *NegotiationError) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recorder) Attach(remoteID string, _ webrtc_ext.RemoteTrack) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.attached = append(r.attached, remoteID)
	return nil
}

func (r *recorder) Remove(remoteID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.removed = append(r.removed, remoteID)
}

func (r *recorder) Send(message signaling.Message) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sent = append(r.sent, message)
}

// Returns a copy of one of the recorded lists.
func (r *recorder) get(list func(*recorder) []string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), list(r)...)
}

func (r *recorder) messages() []signaling.Message {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]signaling.Message(nil), r.sent...)
}

func (r *recorder) errors() []*NegotiationError {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]*NegotiationError(nil), r.failures...)
}

func joinedOf(r *recorder) []string { return r.joined }
func leftOf(r *recorder) []string   { return r.left }

func localTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", id)
	require.NoError(t, err)
	return track
}

type node struct {
	id       string
	manager  *Manager
	recorder *recorder
	signals  chan signaling.Message
	commands chan func()
}

// do runs f on the node loop and waits for it.
func (n *node) do(f func()) {
	done := make(chan struct{})
	n.commands <- func() {
		f()
		close(done)
	}
	<-done
}

func (n *node) run(ctx context.Context) {
	for {
		select {
		case message := <-n.manager.Inbox():
			n.manager.HandlePeerMessage(message)
		case message := <-n.signals:
			n.manager.HandleSignaling(message)
		case command := <-n.commands:
			command()
		case <-ctx.Done():
			n.manager.Close()
			return
		}
	}
}

func (n *node) links() []LinkInfo {
	var links []LinkInfo
	n.do(func() { links = n.manager.Links() })
	return links
}

// network routes the messages between nodes through the wire codec.
type network struct {
	t         *testing.T
	factory   *webrtctest.Factory
	duplicate bool

	mutex sync.Mutex
	nodes map[string]*node
}

type nodeSignaler struct {
	network  *network
	recorder *recorder
}

func (s nodeSignaler) Send(message signaling.Message) {
	s.recorder.Send(message)

	event, payload, err := signaling.Encode(message)
	if !assert.NoError(s.network.t, err) {
		return
	}

	decoded, err := signaling.Decode(event, payload)
	if !assert.NoError(s.network.t, err) {
		return
	}

	addressed, ok := decoded.(signaling.Addressed)
	if !ok {
		return
	}

	s.network.mutex.Lock()
	target := s.network.nodes[addressed.Recipient()]
	s.network.mutex.Unlock()

	if target == nil {
		return
	}

	target.signals <- decoded
	if s.network.duplicate {
		target.signals <- decoded
	}
}

func newNetwork(t *testing.T, ids ...string) (*network, []*node) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	network := &network{t: t, factory: webrtctest.NewFactory(), nodes: make(map[string]*node)}

	var nodes []*node
	var wg sync.WaitGroup
	for _, id := range ids {
		rec := &recorder{}
		n := &node{
			id:       id,
			recorder: rec,
			signals:  make(chan signaling.Message, 1024),
			commands: make(chan func()),
		}
		n.manager = NewManager(
			id,
			network.factory,
			[]webrtc.TrackLocal{localTrack(t, id)},
			nodeSignaler{network, rec},
			rec,
			rec,
			logrus.NewEntry(logrus.New()),
		)

		network.nodes[id] = n
		nodes = append(nodes, n)

		wg.Add(1)
		go func() {
			defer wg.Done()
			n.run(ctx)
		}()
	}

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return network, nodes
}

func members(ids ...string) []signaling.Member {
	var members []signaling.Member
	for i, id := range ids {
		members = append(members, signaling.Member{ID: id, JoinedAt: int64(i)})
	}
	return members
}

func connectedTo(n *node, count int) func() bool {
	return func() bool {
		links := n.links()
		if len(links) != count {
			return false
		}

		for _, link := range links {
			if link.State != StateConnected || link.RemoteTrack == nil {
				return false
			}
		}
		return true
	}
}

func countOffers(nodes []*node) int {
	count := 0
	for _, n := range nodes {
		for _, message := range n.recorder.messages() {
			if _, ok := message.(signaling.Offer); ok {
				count++
			}
		}
	}
	return count
}

func TestMesh_ExactlyOneLinkPerPair(t *testing.T) {
	ids := []string{"alice", "bob", "carol", "dave"}
	network, nodes := newNetwork(t, ids...)

	for _, n := range nodes {
		n := n
		n.do(func() { n.manager.Discover(members(ids...)) })
	}

	for _, n := range nodes {
		assert.Eventually(t, connectedTo(n, len(ids)-1), time.Second, 10*time.Millisecond, n.id)
	}

	assert.Equal(t, len(ids)*(len(ids)-1)/2, countOffers(nodes))
	assert.Len(t, network.factory.Open(), len(ids)*(len(ids)-1))

	for _, n := range nodes {
		var others []string
		for _, id := range ids {
			if id != n.id {
				others = append(others, id)
			}
		}

		assert.ElementsMatch(t, others, n.recorder.get(joinedOf), n.id)
		assert.ElementsMatch(t, others, n.recorder.get(func(r *recorder) []string { return r.attached }), n.id)
		assert.ElementsMatch(t, others, n.recorder.get(func(r *recorder) []string { return r.streams }), n.id)
		assert.Empty(t, n.recorder.errors())

		for _, link := range n.links() {
			if n.id < link.ID.RemoteID {
				assert.Equal(t, RoleInitiator, link.Role)
			} else {
				assert.Equal(t, RoleResponder, link.Role)
			}
		}
	}
}

func TestMesh_LargerIDWaitsForTheOffer(t *testing.T) {
	_, nodes := newNetwork(t, "B")
	b := nodes[0]

	b.do(func() { b.manager.Discover(members("A", "B")) })

	assert.Empty(t, b.links())
	assert.Empty(t, b.recorder.messages())
}

func TestMesh_DuplicateDeliveryIsIdempotent(t *testing.T) {
	network, nodes := newNetwork(t, "A", "B")
	network.duplicate = true

	for _, n := range nodes {
		n := n
		n.do(func() { n.manager.Discover(members("A", "B")) })
	}

	for _, n := range nodes {
		assert.Eventually(t, connectedTo(n, 1), time.Second, 10*time.Millisecond, n.id)
		assert.Len(t, n.recorder.get(joinedOf), 1)
		assert.Empty(t, n.recorder.errors())
	}

	// Let the duplicated candidates drain.
	time.Sleep(50 * time.Millisecond)

	connections := network.factory.Connections()
	require.Len(t, connections, 2)
	for _, connection := range connections {
		assert.Len(t, connection.RemoteCandidates(), 1)
	}
}

func TestMesh_StaleMessagesAreIgnored(t *testing.T) {
	_, nodes := newNetwork(t, "A")
	a := nodes[0]

	a.do(func() {
		a.manager.HandleSignaling(signaling.Offer{From: "B", To: "C", SDP: "v=0"})
		a.manager.HandleSignaling(signaling.Offer{From: "A", To: "A", SDP: "v=0"})
		a.manager.HandleSignaling(signaling.Answer{From: "B", To: "A", SDP: "v=0"})
		a.manager.HandleSignaling(signaling.ICECandidate{
			From:      "Z",
			To:        "A",
			Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 1 typ host"},
		})
		a.manager.HandleSignaling(signaling.CallEnded{})
	})

	assert.Empty(t, a.links())
	assert.Empty(t, a.recorder.get(joinedOf))
	assert.Empty(t, a.recorder.errors())
}

func TestMesh_LeaveNotifiesOnce(t *testing.T) {
	network, nodes := newNetwork(t, "A", "B")
	a := nodes[0]

	for _, n := range nodes {
		n := n
		n.do(func() { n.manager.Discover(members("A", "B")) })
	}
	require.Eventually(t, connectedTo(a, 1), time.Second, 10*time.Millisecond)

	a.do(func() {
		a.manager.Forget(members("B"))
		a.manager.Forget(members("B"))
	})

	assert.Equal(t, []string{"B"}, a.recorder.get(leftOf))
	assert.Equal(t, []string{"B"}, a.recorder.get(func(r *recorder) []string { return r.removed }))
	assert.True(t, network.factory.Connections()[0].Closed())
	assert.Empty(t, a.links())
}

func TestMesh_LinkFailureIsIsolated(t *testing.T) {
	network, nodes := newNetwork(t, "A", "B", "C")
	a := nodes[0]

	all := members("A", "B", "C")
	for _, n := range nodes {
		n := n
		n.do(func() { n.manager.Discover(all) })
	}
	for _, n := range nodes {
		require.Eventually(t, connectedTo(n, 2), time.Second, 10*time.Millisecond)
	}

	// Connections are created in discovery order, so the first one is A to B.
	network.factory.Connections()[0].SetState(webrtc.PeerConnectionStateFailed)

	assert.Eventually(t, func() bool { return len(a.recorder.get(leftOf)) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"B"}, a.recorder.get(leftOf))

	links := a.links()
	require.Len(t, links, 1)
	assert.Equal(t, "C", links[0].ID.RemoteID)

	a.do(func() { a.manager.Forget(members("B")) })
	assert.Len(t, a.recorder.get(leftOf), 1)
}

func TestMesh_CloseReportsEveryPeer(t *testing.T) {
	_, nodes := newNetwork(t, "A", "B", "C")
	a := nodes[0]

	for _, n := range nodes {
		n := n
		n.do(func() { n.manager.Discover(members("A", "B", "C")) })
	}
	require.Eventually(t, connectedTo(a, 2), time.Second, 10*time.Millisecond)

	a.do(a.manager.Close)

	assert.Equal(t, []string{"B", "C"}, a.recorder.get(leftOf))
	assert.Empty(t, a.links())
}
