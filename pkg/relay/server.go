package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/sirupsen/logrus"
)

// Server relays broadcasts between the members of a topic and tracks their
// presence. A member is present while its WebSocket is open.
type Server struct {
	config   Config
	logger   *logrus.Entry
	upgrader websocket.Upgrader

	mutex sync.Mutex
	hubs  map[string]*hubEntry
}

type hubEntry struct {
	hub   *topicHub
	users int
}

func NewServer(config Config, logger *logrus.Entry) *Server {
	server := &Server{
		config: config,
		logger: logger,
		hubs:   make(map[string]*hubEntry),
	}

	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     server.checkOrigin,
	}

	return server
}

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Get("/ws", s.serveWebSocket)
	router.Get("/topics/{topic}/members", s.serveMembers)

	return router
}

// Snapshot returns the current members of a topic.
func (s *Server) Snapshot(topic string) []signaling.Member {
	s.mutex.Lock()
	entry := s.hubs[topic]
	s.mutex.Unlock()

	if entry == nil {
		return []signaling.Member{}
	}

	return entry.hub.snapshot()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}

	for _, allowed := range s.config.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}

	s.logger.WithField("origin", origin).Warn("rejected websocket origin")
	return false
}

func (s *Server) serveMembers(w http.ResponseWriter, r *http.Request) {
	members := s.Snapshot(chi.URLParam(r, "topic"))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(members); err != nil {
		s.logger.WithError(err).Warn("failed to write members")
	}
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("failed to upgrade websocket")
		return
	}

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.config.pongTimeout()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.config.pongTimeout()))
	})

	var join Frame
	if err := ws.ReadJSON(&join); err != nil {
		s.logger.WithError(err).Debug("websocket closed before join")
		ws.Close()
		return
	}

	if join.Type != FrameJoin || join.Topic == "" || join.Member == nil || join.Member.ID == "" {
		_ = ws.WriteJSON(Frame{Type: FrameError, Error: "first frame must be a join with a topic and a member"})
		ws.Close()
		return
	}

	logger := s.logger.WithFields(logrus.Fields{
		"topic":     join.Topic,
		"member_id": join.Member.ID,
	})

	conn := &connection{
		ws:     ws,
		send:   make(chan Frame, s.config.sendBuffer()),
		member: *join.Member,
		logger: logger,
	}
	go conn.writeLoop(s.config.pingInterval())

	hub := s.acquire(join.Topic)
	defer s.release(join.Topic, conn)

	hub.register <- conn
	logger.Info("member joined")

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Warn("websocket closed unexpectedly")
			}
			return
		}

		switch frame.Type {
		case FrameBroadcast:
			if frame.Event == "" {
				logger.Warn("ignoring broadcast without an event name")
				continue
			}
			hub.broadcast <- outbound{from: conn, frame: Frame{Type: FrameEvent, Event: frame.Event, Payload: frame.Payload}}
		case FrameLeave:
			logger.Info("member left")
			return
		default:
			logger.WithField("type", frame.Type).Warn("ignoring unexpected frame")
		}
	}
}

func (s *Server) acquire(topic string) *topicHub {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry := s.hubs[topic]
	if entry == nil {
		entry = &hubEntry{hub: newTopicHub(topic, s.logger.WithField("topic", topic))}
		s.hubs[topic] = entry
		go entry.hub.run()
	}

	entry.users++
	return entry.hub
}

func (s *Server) release(topic string, conn *connection) {
	s.mutex.Lock()
	entry := s.hubs[topic]
	s.mutex.Unlock()

	entry.hub.unregister <- conn

	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry.users--
	if entry.users == 0 {
		delete(s.hubs, topic)
		close(entry.hub.quit)
	}
}

type connection struct {
	ws     *websocket.Conn
	send   chan Frame
	member signaling.Member
	logger *logrus.Entry
}

// The only writer of the socket. Exits when `send` is closed by the hub.
func (c *connection) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.WithError(err).Warn("failed to write frame")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
