package economy

import (
	"math"

	"github.com/google/uuid"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
	"townclaims.dev/internal/sim/tuning"
)

// PlaytimeSource reports whole hours played by an owner.
type PlaytimeSource interface {
	PlaytimeHours(owner uuid.UUID) int
}

// Calculator derives claim budgets, outpost allowances and contest costs.
// It only reads town state.
type Calculator struct {
	cfg      tuning.Economy
	playtime PlaytimeSource
}

func NewCalculator(cfg tuning.Economy, playtime PlaytimeSource) *Calculator {
	return &Calculator{cfg: cfg, playtime: playtime}
}

func (c *Calculator) Config() tuning.Economy { return c.cfg }

func (c *Calculator) PlaytimeBonus(owner uuid.UUID) int {
	if !c.cfg.UsePlaytimeScaling || c.playtime == nil {
		return 0
	}
	perHour := c.cfg.ChunksPerHour
	if perHour < 1 {
		perHour = 1
	}
	hours := c.playtime.PlaytimeHours(owner)
	if hours < 0 {
		hours = 0
	}
	return hours * perHour
}

func (c *Calculator) TheoreticalClaimBudget(t *modelpkg.Town) int {
	if t == nil {
		return 0
	}
	spent := t.ContestedClaimsSpent
	if spent < 0 {
		spent = 0
	}
	budget := c.cfg.MaxClaimsPerPlayer + c.PlaytimeBonus(t.Owner) + t.BonusClaims - spent
	if budget < 0 {
		return 0
	}
	return budget
}

// EffectiveClaimLimit never drops below the current claim count: a town pushed over
// budget keeps its land but cannot claim more.
func (c *Calculator) EffectiveClaimLimit(t *modelpkg.Town) int {
	if t == nil {
		return 0
	}
	budget := c.TheoreticalClaimBudget(t)
	if n := t.ClaimCount(); n > budget {
		return n
	}
	return budget
}

// AvailableClaims is negative while the town is in claim debt.
func (c *Calculator) AvailableClaims(t *modelpkg.Town) int {
	if t == nil {
		return 0
	}
	return c.TheoreticalClaimBudget(t) - t.ClaimCount()
}

func (c *Calculator) AllowedOutposts(t *modelpkg.Town) int {
	return AllowedOutpostsFor(c.cfg, c.TheoreticalClaimBudget(t))
}

// AllowedOutpostsFor grows sub-linearly: BaseOutposts up to the pivot, then one more
// per OutpostGrowthBase-fold increase of the budget.
func AllowedOutpostsFor(cfg tuning.Economy, budget int) int {
	theoretical := float64(budget)
	if theoretical < 1 {
		theoretical = 1
	}
	ratio := math.Max(1, theoretical/cfg.OutpostPivotClaims)
	allowed := cfg.BaseOutposts + math.Log(ratio)/math.Log(cfg.OutpostGrowthBase)
	n := int(math.Floor(allowed + 0.5))
	if n < 1 {
		return 1
	}
	return n
}

func (c *Calculator) ContestCost(challenger *modelpkg.Town, outpostSize int) int {
	rep := 0
	if challenger != nil {
		rep = challenger.Reputation
	}
	return ContestCostFor(c.cfg, rep, outpostSize)
}

func ContestCostFor(cfg tuning.Economy, reputation, outpostSize int) int {
	base := outpostSize
	if base < 1 {
		base = 1
	}
	sizeRatio := math.Min(1, float64(base)/cfg.CostSizeDivisor)
	sizeMultiplier := 1 + cfg.CostSizeFactor*sizeRatio
	scaled := float64(base) * sizeMultiplier * ReputationCostMultiplier(cfg, reputation)
	cost := int(math.Ceil(scaled))
	if cost < base {
		return base
	}
	return cost
}

func ReputationCostMultiplier(cfg tuning.Economy, reputation int) float64 {
	for _, tier := range cfg.ReputationTiers {
		if reputation <= tier.MaxReputation {
			return tier.Multiplier
		}
	}
	if cfg.DefaultReputationMultiplier <= 0 {
		return 1
	}
	return cfg.DefaultReputationMultiplier
}

// ReputationMarker is the short sign shown next to town names on leaderboards.
func ReputationMarker(reputation int) string {
	switch {
	case reputation <= -6:
		return "---"
	case reputation <= -3:
		return "--"
	case reputation <= -1:
		return "-"
	case reputation <= 2:
		return "+"
	default:
		return "++"
	}
}
