package relay

import (
	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/sirupsen/logrus"
)

type outbound struct {
	from  *connection
	frame Frame
}

// One goroutine per topic owns the presence of that topic.
type topicHub struct {
	name   string
	logger *logrus.Entry

	register   chan *connection
	unregister chan *connection
	broadcast  chan outbound
	snapshots  chan chan []signaling.Member
	quit       chan struct{}

	connections map[*connection]struct{}
	byMember    map[string]*connection
	roster      *signaling.Roster
}

func newTopicHub(name string, logger *logrus.Entry) *topicHub {
	return &topicHub{
		name:        name,
		logger:      logger,
		register:    make(chan *connection),
		unregister:  make(chan *connection),
		broadcast:   make(chan outbound),
		snapshots:   make(chan chan []signaling.Member),
		quit:        make(chan struct{}),
		connections: make(map[*connection]struct{}),
		byMember:    make(map[string]*connection),
		roster:      signaling.NewRoster(),
	}
}

func (h *topicHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.add(conn)
		case conn := <-h.unregister:
			h.remove(conn)
		case message := <-h.broadcast:
			if _, found := h.connections[message.from]; !found {
				continue
			}
			h.deliver(message.frame, message.from)
		case reply := <-h.snapshots:
			reply <- h.roster.Snapshot()
		case <-h.quit:
			for conn := range h.connections {
				close(conn.send)
			}
			return
		}
	}
}

func (h *topicHub) snapshot() []signaling.Member {
	reply := make(chan []signaling.Member, 1)
	select {
	case h.snapshots <- reply:
		return <-reply
	case <-h.quit:
		return []signaling.Member{}
	}
}

func (h *topicHub) add(conn *connection) {
	if _, taken := h.byMember[conn.member.ID]; taken {
		conn.logger.Warn("member id already present on the topic")
		conn.send <- Frame{Type: FrameError, Error: "member id already present on the topic"}
		close(conn.send)
		return
	}

	h.connections[conn] = struct{}{}
	h.byMember[conn.member.ID] = conn
	h.roster.Join(conn.member)

	// The joining socket has an empty buffer, the state frame always fits.
	conn.send <- presenceFrame(signaling.PresenceSync, h.roster.Snapshot())
	h.deliver(presenceFrame(signaling.PresenceJoin, []signaling.Member{conn.member}), conn)
}

func (h *topicHub) remove(conn *connection) {
	if _, found := h.connections[conn]; !found {
		return
	}

	delete(h.connections, conn)
	delete(h.byMember, conn.member.ID)
	close(conn.send)

	left := h.roster.Leave(conn.member.ID)
	h.deliver(presenceFrame(signaling.PresenceLeave, left), nil)
}

// Sends a frame to every connection except `skip`. Connections whose buffer
// is full are dropped.
func (h *topicHub) deliver(frame Frame, skip *connection) {
	var stuck []*connection
	for conn := range h.connections {
		if conn == skip {
			continue
		}

		select {
		case conn.send <- frame:
		default:
			stuck = append(stuck, conn)
		}
	}

	for _, conn := range stuck {
		conn.logger.Warn("dropping member with a full send buffer")
		h.remove(conn)
	}
}
