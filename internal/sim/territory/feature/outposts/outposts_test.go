package outposts

import (
	"testing"

	"github.com/google/uuid"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory/feature/economy"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
	"townclaims.dev/internal/sim/tuning"
)

func pos(x, z int32) modelpkg.ChunkPos { return modelpkg.ChunkPos{World: "w", X: x, Z: z} }

func newPolicy() *Policy {
	return NewPolicy(economy.NewCalculator(tuning.Defaults().Economy, nil))
}

func TestFirstClaimAccepted(t *testing.T) {
	p := newPolicy()
	town := modelpkg.NewTown(uuid.New(), "A", "w", modelpkg.ColorGreen, 0)
	if ok, code, msg := p.CheckClaim(town, nil, pos(0, 0), false); !ok {
		t.Fatalf("first claim rejected: %s %s", code, msg)
	}
}

func TestNewOutpostRejectedAtCap(t *testing.T) {
	p := newPolicy()
	town := modelpkg.NewTown(uuid.New(), "A", "w", modelpkg.ColorGreen, 0)
	town.AddClaim(pos(0, 0))
	town.AddClaim(pos(10, 0))
	town.AddClaim(pos(20, 0))

	if !p.WouldExceedCap(town, pos(30, 0)) {
		t.Fatalf("expected fourth outpost to exceed cap of 3")
	}
	ok, code, _ := p.CheckClaim(town, nil, pos(30, 0), false)
	if ok || code != protocol.ErrOutpostCap {
		t.Fatalf("expected %s, got ok=%v code=%s", protocol.ErrOutpostCap, ok, code)
	}
	if ok, _, _ := p.CheckClaim(town, nil, pos(30, 0), true); !ok {
		t.Fatalf("bypass must skip cap")
	}
}

func TestAdjacentExpansionAlwaysAllowedAtCap(t *testing.T) {
	p := newPolicy()
	town := modelpkg.NewTown(uuid.New(), "A", "w", modelpkg.ColorGreen, 0)
	town.AddClaim(pos(0, 0))
	town.AddClaim(pos(10, 0))
	town.AddClaim(pos(20, 0))
	for _, cell := range []modelpkg.ChunkPos{pos(1, 0), pos(10, 1), pos(19, 0), pos(20, -1)} {
		if p.WouldExceedCap(town, cell) {
			t.Fatalf("adjacent cell %v must not exceed cap", cell)
		}
	}
}

func TestOverCapAfterBudgetShrink(t *testing.T) {
	cfg := tuning.Defaults().Economy
	cfg.BaseOutposts = 1
	p := NewPolicy(economy.NewCalculator(cfg, nil))
	town := modelpkg.NewTown(uuid.New(), "A", "w", modelpkg.ColorGreen, 0)
	town.AddClaim(pos(0, 0))
	town.AddClaim(pos(5, 5))
	if !p.IsOverCap(town) {
		t.Fatalf("expected over cap with 2 islands and 1 allowed")
	}
	if !p.WouldExceedCap(town, pos(1, 0)) {
		t.Fatalf("over-cap towns cannot expand either")
	}
}

func TestClaimLimitAndTaken(t *testing.T) {
	cfg := tuning.Defaults().Economy
	cfg.MaxClaimsPerPlayer = 2
	p := NewPolicy(economy.NewCalculator(cfg, nil))
	town := modelpkg.NewTown(uuid.New(), "A", "w", modelpkg.ColorGreen, 0)
	town.AddClaim(pos(0, 0))
	town.AddClaim(pos(1, 0))
	if ok, code, _ := p.CheckClaim(town, nil, pos(2, 0), false); ok || code != protocol.ErrClaimLimit {
		t.Fatalf("expected claim limit, got ok=%v code=%s", ok, code)
	}
	other := modelpkg.NewTown(uuid.New(), "B", "w", modelpkg.ColorRed, 0)
	if ok, code, _ := p.CheckClaim(town, other, pos(2, 0), true); ok || code != protocol.ErrClaimTaken {
		t.Fatalf("taken cells are rejected even with bypass, got ok=%v code=%s", ok, code)
	}
}
