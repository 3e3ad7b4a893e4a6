package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory"
	"townclaims.dev/internal/sim/tuning"
)

type fixture struct {
	router *gin.Engine
	sink   chan territory.Snapshot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	eng := territory.New(territory.Config{Tuning: tuning.Defaults(), Clock: clock})
	sink := make(chan territory.Snapshot, 1)
	rt := territory.NewRuntime(eng, territory.RuntimeConfig{TickInterval: time.Hour, SnapshotSink: sink, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = rt.Run(ctx) }()
	t.Cleanup(cancel)

	return &fixture{
		router: NewRouter(rt, nil, Config{TuningDigest: "tun", Sessions: func() int { return 2 }}),
		sink:   sink,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, remote string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

const local = "127.0.0.1:40000"

func TestAdmin_CommandsAndViews(t *testing.T) {
	f := newFixture(t)
	owner := uuid.UUID{15: 1}.String()

	rec := f.do(t, http.MethodPost, "/admin/v1/cmd", protocol.CmdMsg{Actor: owner, Op: protocol.OpCreateTown, Name: "Alpha", World: "w"}, local)
	if rec.Code != http.StatusOK {
		t.Fatalf("create_town: %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodPost, "/admin/v1/cmd", protocol.CmdMsg{Actor: owner, Op: protocol.OpClaim, Cell: &protocol.Cell{World: "w", X: 0, Z: 0}}, local)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/admin/v1/towns", nil, local)
	var towns []territory.TownView
	if err := json.Unmarshal(rec.Body.Bytes(), &towns); err != nil || len(towns) != 1 || towns[0].Claims != 1 || towns[0].ClaimLimit != 64 {
		t.Fatalf("towns: %s %v", rec.Body, err)
	}

	rec = f.do(t, http.MethodGet, "/admin/v1/towns/alpha", nil, local)
	var town territory.TownView
	if err := json.Unmarshal(rec.Body.Bytes(), &town); err != nil || town.Name != "Alpha" || town.Owner != owner {
		t.Fatalf("town: %s %v", rec.Body, err)
	}
	if rec := f.do(t, http.MethodGet, "/admin/v1/towns/nowhere", nil, local); rec.Code != http.StatusNotFound {
		t.Fatalf("missing town: %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/admin/v1/state", nil, local)
	var state map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("state: %v", err)
	}
	if state["towns"] != float64(1) || state["claims"] != float64(1) || state["tuning_digest"] != "tun" || state["host_sessions"] != float64(2) {
		t.Fatalf("state: %v", state)
	}

	rec = f.do(t, http.MethodGet, "/admin/v1/top?board=claims&limit=5", nil, local)
	var res protocol.ResultMsg
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || !res.OK {
		t.Fatalf("top: %s", rec.Body)
	}
	if rec := f.do(t, http.MethodGet, "/admin/v1/top?board=gold", nil, local); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad board: %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/admin/v1/contests", nil, local)
	if rec.Code != http.StatusOK {
		t.Fatalf("contests: %d", rec.Code)
	}
}

func TestAdmin_AdminOpsRunWithOperatorRights(t *testing.T) {
	f := newFixture(t)
	owner := uuid.UUID{15: 1}.String()
	f.do(t, http.MethodPost, "/admin/v1/cmd", protocol.CmdMsg{Actor: owner, Op: protocol.OpCreateTown, Name: "Alpha", World: "w"}, local)

	rec := f.do(t, http.MethodPost, "/admin/v1/cmd", protocol.CmdMsg{Op: protocol.OpAdjustBonus, Target: "Alpha", Amount: 5}, local)
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust_bonus: %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodGet, "/admin/v1/towns/Alpha", nil, local)
	var town territory.TownView
	_ = json.Unmarshal(rec.Body.Bytes(), &town)
	if town.BonusClaims != 5 || town.ClaimLimit != 69 {
		t.Fatalf("bonus not applied: %+v", town)
	}

	if rec := f.do(t, http.MethodPost, "/admin/v1/cmd", map[string]any{"actor": owner}, local); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing op: %d", rec.Code)
	}
}

func TestAdmin_SnapshotAndLoopback(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/v1/snapshot", nil, local)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: %d %s", rec.Code, rec.Body)
	}
	select {
	case snap := <-f.sink:
		if len(snap.Digest) != 64 {
			t.Fatalf("digest: %q", snap.Digest)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no snapshot pushed")
	}

	if rec := f.do(t, http.MethodGet, "/admin/v1/state", nil, "203.0.113.9:5000"); rec.Code != http.StatusForbidden {
		t.Fatalf("remote access: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/healthz", nil, "203.0.113.9:5000"); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:443":    true,
		"::1":          true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	}
	for in, want := range cases {
		if got := IsLoopbackRemote(in); got != want {
			t.Fatalf("IsLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}
