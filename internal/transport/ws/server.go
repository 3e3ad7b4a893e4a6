package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"townclaims.dev/internal/protocol"
	persistlog "townclaims.dev/internal/persistence/log"
	"townclaims.dev/internal/sim/territory"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

// Engine is the part of territory.Runtime the bridge drives.
type Engine interface {
	Execute(ctx context.Context, cmd protocol.CmdMsg) (protocol.ResultMsg, error)
	Kill(ctx context.Context, msg protocol.KillMsg) (protocol.ResultMsg, error)
}

// PresenceSink receives PRESENCE reports. presence.Table implements it.
type PresenceSink interface {
	Update(player uuid.UUID, online bool, cell *modelpkg.ChunkPos, playtimeHours int)
	DisconnectAll()
}

type EventSink interface {
	WriteEvent(persistlog.EventEntry) error
}

type Config struct {
	// Token, when set, must match HELLO.token.
	Token          string
	TuningDigest   string
	TickIntervalMs int

	// CmdRate/CmdBurst bound CMD and KILL messages per connection.
	CmdRate  rate.Limit
	CmdBurst int

	RequestTimeout time.Duration
	Events         EventSink
}

type session struct {
	id     string
	host   string
	remote string
	out    chan []byte
}

// Server is the host bridge. It also implements territory.Notifier by fanning
// NOTIFY messages out to every connected host.
type Server struct {
	eng       Engine
	presence  PresenceSink
	validator *protocol.Validator
	log       *log.Logger
	cfg       Config

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

var _ territory.Notifier = (*Server)(nil)

func NewServer(eng Engine, presence PresenceSink, validator *protocol.Validator, logger *log.Logger, cfg Config) *Server {
	if cfg.CmdRate <= 0 {
		cfg.CmdRate = 50
	}
	if cfg.CmdBurst <= 0 {
		cfg.CmdBurst = 100
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		eng:       eng,
		presence:  presence,
		validator: validator,
		log:       logger,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // hosts are not browsers
		},
		sessions: map[string]*session{},
	}
}

// Sessions returns the number of connected hosts.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn, r.RemoteAddr)
		if sess == nil {
			return
		}
		s.register(sess)
		defer s.unregister(sess)
		s.log.Printf("host connected: session=%s host=%s remote=%s", sess.id, sess.host, sess.remote)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		limiter := rate.NewLimiter(s.cfg.CmdRate, s.cfg.CmdBurst)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if res, ok := s.handle(ctx, sess, limiter, msg); ok {
				s.send(sess, res)
			}
		}
		s.log.Printf("host disconnected: session=%s", sess.id)
	}
}

// handle processes one inbound frame. It returns a RESULT to send back, if any.
func (s *Server) handle(ctx context.Context, sess *session, limiter *rate.Limiter, msg []byte) (protocol.ResultMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protoError("", "malformed json"), true
	}
	ref := refOf(msg)
	if base.ProtocolVersion != protocol.Version {
		return protoError(ref, "bad protocol_version"), true
	}
	if err := s.validator.Validate(base.Type, msg); err != nil {
		return protoError(ref, err.Error()), true
	}

	switch base.Type {
	case protocol.TypePresence:
		var p protocol.PresenceMsg
		if err := json.Unmarshal(msg, &p); err != nil {
			return protoError(ref, "bad PRESENCE"), true
		}
		id, err := uuid.Parse(p.Player)
		if err != nil {
			return protoError(ref, "bad player id"), true
		}
		var cell *modelpkg.ChunkPos
		if p.Cell != nil {
			cell = &modelpkg.ChunkPos{World: p.Cell.World, X: p.Cell.X, Z: p.Cell.Z}
		}
		s.presence.Update(id, p.Online, cell, p.PlaytimeHours)
		return protocol.ResultMsg{}, false

	case protocol.TypeCmd:
		var cmd protocol.CmdMsg
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return protoError(ref, "bad CMD"), true
		}
		if !limiter.Allow() {
			return rejected(cmd.ID, protocol.ErrRateLimit, "too many commands"), true
		}
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		res, err := s.eng.Execute(rctx, cmd)
		if err != nil {
			res = rejected(cmd.ID, protocol.ErrInternal, err.Error())
		}
		s.event(sess, protocol.TypeCmd, cmd.Actor, cmd.Op, res)
		return res, true

	case protocol.TypeKill:
		var k protocol.KillMsg
		if err := json.Unmarshal(msg, &k); err != nil {
			return protoError(ref, "bad KILL"), true
		}
		if !limiter.Allow() {
			return rejected("", protocol.ErrRateLimit, "too many commands"), true
		}
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		res, err := s.eng.Kill(rctx, k)
		if err != nil {
			res = rejected("", protocol.ErrInternal, err.Error())
		}
		s.event(sess, protocol.TypeKill, k.Killer, "", res)
		return res, true
	}
	return protoError(ref, "unexpected message type "+base.Type), true
}

func (s *Server) handshake(conn *websocket.Conn, remote string) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil
	}
	if err := s.validator.Validate(protocol.TypeHello, msg); err != nil {
		closeWith(conn, "bad HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil
	}
	if s.cfg.Token != "" && strings.TrimSpace(hello.Token) != s.cfg.Token {
		closeWith(conn, "bad token")
		return nil
	}

	sess := &session{
		id:     uuid.NewString(),
		host:   hello.HostName,
		remote: remote,
		out:    make(chan []byte, 256),
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		TuningDigest:    s.cfg.TuningDigest,
		TickIntervalMs:  s.cfg.TickIntervalMs,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

// unregister drops the session. When the last host leaves nobody can report
// presence any more, so every player is marked offline and contests pause.
func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	empty := len(s.sessions) == 0
	s.mu.Unlock()
	if empty {
		s.presence.DisconnectAll()
	}
}

func (s *Server) Notify(player uuid.UUID, msg string) {
	s.fanout(protocol.NotifyMsg{
		Type:            protocol.TypeNotify,
		ProtocolVersion: protocol.Version,
		Player:          player.String(),
		Message:         msg,
	})
}

func (s *Server) Broadcast(msg string) {
	s.fanout(protocol.NotifyMsg{
		Type:            protocol.TypeNotify,
		ProtocolVersion: protocol.Version,
		Broadcast:       true,
		Message:         msg,
	})
}

func (s *Server) fanout(n protocol.NotifyMsg) {
	b, err := json.Marshal(n)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		select {
		case sess.out <- b:
		default:
			s.log.Printf("notify dropped: session=%s queue full", sess.id)
		}
	}
}

// send blocks briefly so RESULTs are not lost behind a burst of notifications.
func (s *Server) send(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	case <-time.After(time.Second):
		s.log.Printf("result dropped: session=%s queue full", sess.id)
	}
}

func (s *Server) event(sess *session, typ, actor, op string, res protocol.ResultMsg) {
	if s.cfg.Events == nil {
		return
	}
	_ = s.cfg.Events.WriteEvent(persistlog.EventEntry{
		TimeMs: time.Now().UnixMilli(),
		Remote: sess.remote,
		Type:   typ,
		Actor:  actor,
		Op:     op,
		Ref:    res.Ref,
		OK:     res.OK,
		Code:   res.Code,
	})
}

func rejected(ref, code, msg string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Ref:             ref,
		OK:              false,
		Code:            code,
		Message:         msg,
	}
}

func protoError(ref, msg string) protocol.ResultMsg {
	return rejected(ref, protocol.ErrProtoBadRequest, msg)
}

// refOf pulls the CMD id out of an otherwise invalid message so the host can
// correlate the rejection.
func refOf(msg []byte) string {
	var v struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(msg, &v)
	return v.ID
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
