package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/stagecue/stagecue/internal/config"
	"github.com/stagecue/stagecue/internal/dispatch"
	"github.com/stagecue/stagecue/internal/trigger"
)

const (
	defaultAckCooldown = 5 * time.Minute

	// outboxDepth bounds per-client status buffering; frames beyond it are
	// dropped rather than stalling the scheduler callback.
	outboxDepth = 16
)

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithAckCooldown sets the minimum gap between acknowledgements of the same
// kind.
func WithAckCooldown(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.acks.cooldown = d
		}
	}
}

// WithTimers lets report commands schedule delayed announcements.
func WithTimers(t *Timers) ServerOption {
	return func(s *Server) { s.timers = t }
}

// WithClock overrides the ack clock, for tests.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.acks.now = now }
}

// Server is the WebSocket ingest endpoint. Each connected client may send
// chat events and operator commands and receives job status frames.
type Server struct {
	classifier Classifier
	control    Control
	timers     *Timers
	acks       *ackGate

	mu     sync.Mutex
	conns  map[*websocket.Conn]chan []byte
	closed bool
}

// NewServer builds the ingest endpoint. The classifier may be nil when no
// keyword rules are configured; chat events are then dropped.
func NewServer(classifier Classifier, control Control, opts ...ServerOption) *Server {
	s := &Server{
		classifier: classifier,
		control:    control,
		acks: &ackGate{
			cooldown: defaultAckCooldown,
			last:     make(map[string]time.Time),
			now:      time.Now,
		},
		conns: make(map[*websocket.Conn]chan []byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("source: websocket accept failed", "error", err)
		return
	}

	outbox := make(chan []byte, outboxDepth)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	s.conns[conn] = outbox
	s.mu.Unlock()

	slog.Info("source: client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.writeLoop(ctx, conn, outbox)

	s.readLoop(ctx, conn)

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
	slog.Info("source: client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("source: bad frame", "error", err)
			continue
		}
		s.route(env)
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbox chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-outbox:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

func (s *Server) route(env Envelope) {
	switch env.Type {
	case TypeChat:
		s.handleChat(env)
	case TypeCommand:
		s.handleCommand(env)
	default:
		slog.Warn("source: unknown frame type", "type", env.Type)
	}
}

func (s *Server) handleChat(env Envelope) {
	if s.classifier == nil {
		return
	}
	ev := trigger.ChatEvent{
		Platform:  env.Platform,
		Text:      env.Text,
		SenderID:  env.Sender,
		ArrivedAt: time.Now(),
	}
	tr, ok := s.classifier.Submit(ev)
	if !ok {
		return
	}
	s.control.Submit(tr)
}

func (s *Server) handleCommand(env Envelope) {
	switch env.Code {
	case CodeUnmute:
		s.control.Unmute()
	case CodeMute:
		s.control.Mute()
	case CodeSkip:
		s.control.ForceSkip()
	case CodeFollow:
		s.ack(config.AckFollowGroup)
	case CodeLike:
		s.ack(config.AckLikeGroup)
	case CodeReport:
		s.report(env)
	default:
		s.manual(env)
	}
}

// ack enqueues an acknowledgement at broadcast priority so it never
// interrupts the active job. Repeats within the cooldown window are dropped.
func (s *Server) ack(group string) {
	if !s.acks.allow(group) {
		slog.Debug("source: ack suppressed by cooldown", "group", group)
		return
	}
	s.control.Submit(trigger.Trigger{
		Kind:        trigger.KindScheduledBroadcast,
		BroadcastID: group,
		CreatedAt:   time.Now(),
	})
}

func (s *Server) report(env Envelope) {
	if s.timers == nil {
		slog.Warn("source: report command without timers", "group", env.Group)
		return
	}
	if env.Group == "" {
		slog.Warn("source: report command without group")
		return
	}
	s.timers.ScheduleOnce(time.Duration(env.DelaySeconds)*time.Second, env.Group)
}

// manual submits an operator play. A verbatim clip or text wins; otherwise
// the group field, or the decimal command code, names a manual response
// group.
func (s *Server) manual(env Envelope) {
	tr := trigger.Trigger{
		Kind:      trigger.KindManualCommand,
		Text:      env.Text,
		Clip:      env.Clip,
		Keyword:   env.Group,
		CreatedAt: time.Now(),
	}
	if tr.Text == "" && tr.Clip == "" && tr.Keyword == "" {
		if env.Code == 0 {
			slog.Warn("source: empty manual command")
			return
		}
		tr.Keyword = strconv.Itoa(env.Code)
	}
	s.control.Submit(tr)
}

// Status broadcasts one job lifecycle frame to every connected client. It is
// called from scheduler goroutines and never blocks; slow clients lose
// frames.
func (s *Server) Status(ev dispatch.StatusEvent) {
	data, err := json.Marshal(statusMessage(ev))
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, outbox := range s.conns {
		select {
		case outbox <- data:
		default:
		}
	}
}

// Close disconnects all clients. The server rejects connections afterwards.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[*websocket.Conn]chan []byte)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "shutting down")
	}
	return nil
}

// ackGate rate-limits acknowledgement groups.
type ackGate struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

func (g *ackGate) allow(group string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if last, ok := g.last[group]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.last[group] = now
	return true
}
