package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"townclaims.dev/internal/persistence/log"
	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/presence"
)

type stubEngine struct {
	mu    sync.Mutex
	cmds  []protocol.CmdMsg
	kills []protocol.KillMsg
}

func (e *stubEngine) Execute(_ context.Context, cmd protocol.CmdMsg) (protocol.ResultMsg, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmds = append(e.cmds, cmd)
	return protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, Ref: cmd.ID, OK: true, Message: "ok " + cmd.Op}, nil
}

func (e *stubEngine) Kill(_ context.Context, msg protocol.KillMsg) (protocol.ResultMsg, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kills = append(e.kills, msg)
	return protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, OK: true}, nil
}

type recordingEvents struct {
	mu      sync.Mutex
	entries []log.EventEntry
}

func (r *recordingEvents) WriteEvent(e log.EventEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type fixture struct {
	srv    *Server
	eng    *stubEngine
	pres   *presence.Table
	events *recordingEvents
	url    string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	f := &fixture{eng: &stubEngine{}, pres: presence.NewTable(), events: &recordingEvents{}}
	cfg.Events = f.events
	f.srv = NewServer(f.eng, f.pres, v, nil, cfg)
	hs := httptest.NewServer(f.srv.Handler())
	t.Cleanup(hs.Close)
	f.url = "ws" + strings.TrimPrefix(hs.URL, "http")
	return f
}

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, HostName: "paper-1", Token: token}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_HandshakeAndCommands(t *testing.T) {
	f := newFixture(t, Config{TuningDigest: "abc", TickIntervalMs: 1000})
	conn := f.dial(t, "")

	var welcome protocol.WelcomeMsg
	readMsg(t, conn, &welcome)
	if welcome.Type != protocol.TypeWelcome || welcome.TuningDigest != "abc" || welcome.SessionID == "" {
		t.Fatalf("welcome: %+v", welcome)
	}

	player := uuid.UUID{15: 1}
	_ = conn.WriteJSON(protocol.PresenceMsg{
		Type: protocol.TypePresence, ProtocolVersion: protocol.Version, Player: player.String(), Online: true,
		Cell: &protocol.Cell{World: "w", X: 3, Z: 4}, PlaytimeHours: 5,
	})
	_ = conn.WriteJSON(protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ID: "c1", Actor: player.String(), Op: protocol.OpTownInfo})

	var res protocol.ResultMsg
	readMsg(t, conn, &res)
	if !res.OK || res.Ref != "c1" {
		t.Fatalf("result: %+v", res)
	}
	if !f.pres.IsOnline(player) || f.pres.PlaytimeHours(player) != 5 {
		t.Fatalf("presence not applied")
	}
	if cell, ok := f.pres.CurrentCell(player); !ok || cell.X != 3 || cell.Z != 4 {
		t.Fatalf("cell: %+v %v", cell, ok)
	}

	_ = conn.WriteJSON(protocol.KillMsg{Type: protocol.TypeKill, ProtocolVersion: protocol.Version, Killer: player.String(), Victim: uuid.UUID{15: 2}.String()})
	readMsg(t, conn, &res)
	if !res.OK {
		t.Fatalf("kill result: %+v", res)
	}
	f.eng.mu.Lock()
	nCmds, nKills := len(f.eng.cmds), len(f.eng.kills)
	f.eng.mu.Unlock()
	if nCmds != 1 || nKills != 1 {
		t.Fatalf("engine saw %d cmds, %d kills", nCmds, nKills)
	}
	f.events.mu.Lock()
	nEvents := len(f.events.entries)
	f.events.mu.Unlock()
	if nEvents != 2 {
		t.Fatalf("events: %d", nEvents)
	}
}

func TestServer_RejectsInvalidMessages(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "")
	var welcome protocol.WelcomeMsg
	readMsg(t, conn, &welcome)

	_ = conn.WriteJSON(map[string]any{"type": "CMD", "protocol_version": protocol.Version, "id": "bad1", "actor": "not-a-uuid", "op": "claim"})
	var res protocol.ResultMsg
	readMsg(t, conn, &res)
	if res.OK || res.Code != protocol.ErrProtoBadRequest || res.Ref != "bad1" {
		t.Fatalf("schema rejection: %+v", res)
	}

	_ = conn.WriteJSON(map[string]any{"type": "CMD", "protocol_version": "0.1", "id": "bad2"})
	readMsg(t, conn, &res)
	if res.Code != protocol.ErrProtoBadRequest || res.Ref != "bad2" {
		t.Fatalf("version rejection: %+v", res)
	}
}

func TestServer_RateLimitsCommands(t *testing.T) {
	f := newFixture(t, Config{CmdRate: 0.001, CmdBurst: 1})
	conn := f.dial(t, "")
	var welcome protocol.WelcomeMsg
	readMsg(t, conn, &welcome)

	actor := uuid.UUID{15: 1}.String()
	for _, id := range []string{"a", "b"} {
		_ = conn.WriteJSON(protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ID: id, Actor: actor, Op: protocol.OpContests})
	}
	var first, second protocol.ResultMsg
	readMsg(t, conn, &first)
	readMsg(t, conn, &second)
	if !first.OK || second.OK || second.Code != protocol.ErrRateLimit || second.Ref != "b" {
		t.Fatalf("rate limit: %+v / %+v", first, second)
	}
}

func TestServer_TokenAndNotifyFanout(t *testing.T) {
	f := newFixture(t, Config{Token: "secret"})

	bad := f.dial(t, "wrong")
	_ = bad.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := bad.ReadMessage(); err == nil {
		t.Fatalf("expected close on bad token")
	}

	conn := f.dial(t, "secret")
	var welcome protocol.WelcomeMsg
	readMsg(t, conn, &welcome)
	waitFor(t, func() bool { return f.srv.Sessions() == 1 })

	player := uuid.UUID{15: 9}
	f.srv.Notify(player, "hello")
	var n protocol.NotifyMsg
	readMsg(t, conn, &n)
	if n.Type != protocol.TypeNotify || n.Player != player.String() || n.Message != "hello" || n.Broadcast {
		t.Fatalf("notify: %+v", n)
	}
	f.srv.Broadcast("all")
	readMsg(t, conn, &n)
	if !n.Broadcast || n.Message != "all" {
		t.Fatalf("broadcast: %+v", n)
	}

	f.pres.Update(player, true, nil, 0)
	_ = conn.Close()
	// The last host leaving marks every player offline.
	waitFor(t, func() bool { return f.srv.Sessions() == 0 && !f.pres.IsOnline(player) })
}
