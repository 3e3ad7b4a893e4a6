package economy

import (
	"testing"

	"github.com/google/uuid"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
	"townclaims.dev/internal/sim/tuning"
)

type fixedPlaytime int

func (f fixedPlaytime) PlaytimeHours(uuid.UUID) int { return int(f) }

func townWithClaims(n int) *modelpkg.Town {
	t := modelpkg.NewTown(uuid.New(), "T", "w", modelpkg.ColorGreen, 0)
	for i := 0; i < n; i++ {
		t.AddClaim(modelpkg.ChunkPos{World: "w", X: int32(i), Z: 0})
	}
	return t
}

func TestBudgetAndEffectiveLimit(t *testing.T) {
	calc := NewCalculator(tuning.Defaults().Economy, nil)
	town := townWithClaims(1)
	if got := calc.EffectiveClaimLimit(town); got != 64 {
		t.Fatalf("expected limit 64, got %d", got)
	}
	town.BonusClaims = 10
	town.ContestedClaimsSpent = 4
	if got := calc.TheoreticalClaimBudget(town); got != 70 {
		t.Fatalf("expected budget 70, got %d", got)
	}
	if got := calc.AvailableClaims(town); got != 69 {
		t.Fatalf("expected 69 available, got %d", got)
	}
}

func TestEffectiveLimitGrandfathersOverBudgetTowns(t *testing.T) {
	calc := NewCalculator(tuning.Defaults().Economy, nil)
	town := townWithClaims(40)
	town.ContestedClaimsSpent = 60
	if got := calc.TheoreticalClaimBudget(town); got != 4 {
		t.Fatalf("expected budget 4, got %d", got)
	}
	if got := calc.EffectiveClaimLimit(town); got != 40 {
		t.Fatalf("effective limit must not drop below claim count, got %d", got)
	}
	if got := calc.AvailableClaims(town); got != -36 {
		t.Fatalf("expected claim debt -36, got %d", got)
	}
	town.ContestedClaimsSpent = 1000
	if got := calc.TheoreticalClaimBudget(town); got != 0 {
		t.Fatalf("budget floors at zero, got %d", got)
	}
}

func TestPlaytimeBonus(t *testing.T) {
	cfg := tuning.Defaults().Economy
	town := townWithClaims(0)
	if got := NewCalculator(cfg, fixedPlaytime(10)).TheoreticalClaimBudget(town); got != 64 {
		t.Fatalf("playtime scaling disabled, got %d", got)
	}
	cfg.UsePlaytimeScaling = true
	if got := NewCalculator(cfg, fixedPlaytime(10)).TheoreticalClaimBudget(town); got != 84 {
		t.Fatalf("expected 64+10*2, got %d", got)
	}
	cfg.ChunksPerHour = 0
	if got := NewCalculator(cfg, fixedPlaytime(10)).TheoreticalClaimBudget(town); got != 74 {
		t.Fatalf("chunks per hour floors at 1, got %d", got)
	}
}

func TestAllowedOutpostsCurve(t *testing.T) {
	cfg := tuning.Defaults().Economy
	cases := []struct {
		budget int
		want   int
	}{
		{0, 3},
		{64, 3},
		{512, 3},
		{666, 4},   // 3 + log(1.30)/log(1.3) = 4
		{865, 5},   // ratio ~1.69
		{5120, 12}, // 3 + log(10)/log(1.3) = 11.78
	}
	for _, c := range cases {
		if got := AllowedOutpostsFor(cfg, c.budget); got != c.want {
			t.Fatalf("budget %d: got %d want %d", c.budget, got, c.want)
		}
	}
}

func TestContestCostScenario(t *testing.T) {
	cfg := tuning.Defaults().Economy
	if got := ContestCostFor(cfg, -4, 40); got != 56 {
		t.Fatalf("expected 56, got %d", got)
	}
	if got := ContestCostFor(cfg, 10, 0); got != 2 {
		t.Fatalf("size floors at 1: expected ceil(1*1.0039)=2, got %d", got)
	}
	if got := ContestCostFor(cfg, 10, 256); got != 384 {
		t.Fatalf("size multiplier caps at 1.5: got %d", got)
	}
	if got := ContestCostFor(cfg, -10, 128); got != 250 {
		t.Fatalf("expected ceil(128*1.5*1.3)=250, got %d", got)
	}
}

func TestReputationCostMultiplier(t *testing.T) {
	cfg := tuning.Defaults().Economy
	cases := map[int]float64{-10: 1.30, -6: 1.30, -5: 1.20, -3: 1.20, -2: 1.10, -1: 1.10, 0: 1.05, 2: 1.05, 3: 1.0, 10: 1.0}
	for rep, want := range cases {
		if got := ReputationCostMultiplier(cfg, rep); got != want {
			t.Fatalf("rep %d: got %v want %v", rep, got, want)
		}
	}
}
