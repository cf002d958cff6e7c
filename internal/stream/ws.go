package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/star/neosim/internal/metrics"
	"github.com/star/neosim/internal/orbit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Sessions are read-mostly and carry no credentials of their own.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is a command sent by an interactive client:
//
//	{"type":"zoom","factor":1.25}
//	{"type":"set_zoom","zoom":250}
//	{"type":"center","x":40,"y":-12}
//	{"type":"pointer","x":213,"y":88}
type clientMessage struct {
	Type   string  `json:"type"`
	Factor float64 `json:"factor"`
	Zoom   float64 `json:"zoom"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// knownCommands bounds the session_messages_total label set.
var knownCommands = map[string]bool{
	"zoom":     true,
	"set_zoom": true,
	"center":   true,
	"pointer":  true,
}

// session is one interactive WebSocket client. Each session owns its View;
// zooming in one session never affects another.
type session struct {
	id        string
	conn      *websocket.Conn
	source    FrameSource
	view      orbit.View
	trail     int
	minGap    time.Duration
	bandwidth *rate.Limiter
	ip        string
	logger    *slog.Logger

	roster     rosterKey
	haveRoster bool
	lastSent   time.Time
}

// HandleSession upgrades the request to a WebSocket and runs an interactive
// session: frames are pushed at up to fps, and zoom/center/pointer commands
// are answered with view and nearest messages.
// GET /api/v1/ws?zoom=100&cx=0&cy=0&trail=0&fps=10
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	p, err := h.parseParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip, release, ok := h.admit(w, r, "websocket")
	if !ok {
		return
	}
	defer release()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		metrics.IncStreamErrors("upgrade")
		h.logger.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	s := &session{
		id:        uuid.New().String(),
		conn:      conn,
		source:    h.source,
		view:      p.view,
		trail:     p.trail,
		minGap:    time.Second / time.Duration(p.fps),
		bandwidth: newBandwidthLimiter(h.config.BandwidthLimit),
		ip:        ip,
		logger:    h.logger,
	}
	s.logger.Debug("session started", "session", s.id, "remote_ip", ip)

	if err := s.run(r.Context()); err != nil {
		s.logger.Debug("session ended", "session", s.id, "remote_ip", ip, "error", err)
	}
}

// run drives the session until the client goes away, the request context
// ends, or the frame source stops publishing.
func (s *session) run(ctx context.Context) error {
	frames, cancel := s.source.Subscribe()
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	incoming := make(chan []byte)
	readErr := make(chan error, 1)
	go s.readLoop(incoming, readErr, done)

	hello := buildMetadata(s.source.Stats(), s.view)
	hello.Session = s.id
	if err := s.write(hello); err != nil {
		return err
	}
	if f := s.source.Latest(); f != nil {
		if err := s.sendFrame(f); err != nil {
			return err
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return ctx.Err()

		case err := <-readErr:
			return err

		case data := <-incoming:
			if err := s.handle(data); err != nil {
				return err
			}

		case f, ok := <-frames:
			if !ok {
				s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "simulation stopped"),
					time.Now().Add(writeWait))
				return errors.New("frame source closed")
			}
			if time.Since(s.lastSent) < s.minGap {
				continue
			}
			if err := s.sendFrame(f); err != nil {
				return err
			}

		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// readLoop forwards client messages to run. It exits when the connection
// fails or run returns.
func (s *session) readLoop(incoming chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case incoming <- data:
		case <-done:
			return
		}
	}
}

// handle applies one client command and writes the reply.
func (s *session) handle(data []byte) error {
	var m clientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		metrics.IncSessionMessages("invalid")
		return s.write(errorMessage{Type: "error", Error: "malformed message"})
	}
	if knownCommands[m.Type] {
		metrics.IncSessionMessages(m.Type)
	} else {
		metrics.IncSessionMessages("unknown")
	}

	switch m.Type {
	case "zoom":
		if !(m.Factor > 0) {
			return s.write(errorMessage{Type: "error", Error: "zoom factor must be > 0"})
		}
		s.view = s.view.Zoomed(m.Factor)
		return s.writeView()

	case "set_zoom":
		if !(m.Zoom > 0) {
			return s.write(errorMessage{Type: "error", Error: "zoom must be > 0"})
		}
		s.view = orbit.NewView(m.Zoom, s.view.Center)
		return s.writeView()

	case "center":
		s.view.Center = orbit.Point{X: m.X, Y: m.Y}
		return s.writeView()

	case "pointer":
		sum, found := orbit.FindNearest(s.source.Latest(), s.view, orbit.Point{X: m.X, Y: m.Y})
		msg := nearestMessage{Type: "nearest", Found: found}
		if found {
			msg.Summary = &sum
		}
		return s.write(msg)

	default:
		return s.write(errorMessage{Type: "error", Error: fmt.Sprintf("unknown message type %q", m.Type)})
	}
}

func (s *session) writeView() error {
	return s.write(viewMessage{Type: "view", Zoom: s.view.Zoom, Center: s.view.Center})
}

// sendFrame pushes f, preceded by a roster when the body set changed.
// Frames over the bandwidth budget are dropped.
func (s *session) sendFrame(f *orbit.Frame) error {
	if k := keyOf(s.source.Stats(), f); !s.haveRoster || k != s.roster {
		if err := s.write(buildRoster(f)); err != nil {
			return err
		}
		s.roster, s.haveRoster = k, true
	}

	var trail []*orbit.Frame
	if s.trail > 0 {
		trail = s.source.Recent(s.trail)
	}
	data, err := json.Marshal(buildFrameMessage(f, trail, s.view))
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if s.bandwidth != nil && !s.bandwidth.AllowN(time.Now(), len(data)) {
		metrics.IncStreamErrors("bandwidth")
		return nil
	}
	if err := s.writeRaw(data); err != nil {
		return err
	}
	s.lastSent = time.Now()
	return nil
}

func (s *session) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return s.writeRaw(data)
}

func (s *session) writeRaw(data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		metrics.IncStreamErrors("send_error")
		return fmt.Errorf("write: %w", err)
	}
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(len(data)))
	return nil
}
