package tuning

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"
)

type Tuning struct {
	TickIntervalMs int    `yaml:"tick_interval_ms"`
	DefaultColor   string `yaml:"default_color"`
	HistoryLimit   int    `yaml:"history_limit"`

	Economy Economy `yaml:"economy"`
	Contest Contest `yaml:"contest"`
	Social  Social  `yaml:"social"`
}

// Economy holds the claim-budget and contest-cost constants. The outpost curve and
// cost multipliers are empirically tuned values carried over unchanged.
type Economy struct {
	MaxClaimsPerPlayer int  `yaml:"max_claims_per_player"`
	UsePlaytimeScaling bool `yaml:"use_playtime_scaling"`
	ChunksPerHour      int  `yaml:"chunks_per_hour"`

	OutpostPivotClaims float64 `yaml:"outpost_pivot_claims"`
	BaseOutposts       float64 `yaml:"base_outposts"`
	OutpostGrowthBase  float64 `yaml:"outpost_growth_base"`

	CostSizeDivisor float64 `yaml:"cost_size_divisor"`
	CostSizeFactor  float64 `yaml:"cost_size_factor"`

	// ReputationTiers are checked in ascending MaxReputation order; the first tier with
	// reputation <= MaxReputation applies, otherwise DefaultReputationMultiplier.
	ReputationTiers             []ReputationTier `yaml:"reputation_tiers"`
	DefaultReputationMultiplier float64          `yaml:"default_reputation_multiplier"`
}

type ReputationTier struct {
	MaxReputation int     `yaml:"max_reputation"`
	Multiplier    float64 `yaml:"multiplier"`
}

type Contest struct {
	DurationMs         int64 `yaml:"duration_ms"`
	ImmunityMs         int64 `yaml:"immunity_ms"`
	MaxAgeMs           int64 `yaml:"max_age_ms"`
	ConfirmTTLMs       int64 `yaml:"confirm_ttl_ms"`
	RpsTTLMs           int64 `yaml:"rps_ttl_ms"`
	MinTownAgeMs       int64 `yaml:"min_town_age_ms"`
	HoldOfflineAllowed bool  `yaml:"hold_offline_allowed"`
	ReputationPenalty  int   `yaml:"reputation_penalty"`
}

type Social struct {
	InviteTTLMs         int64 `yaml:"invite_ttl_ms"`
	AllianceInviteTTLMs int64 `yaml:"alliance_invite_ttl_ms"`
}

const (
	hourMs = int64(60 * 60 * 1000)
	dayMs  = 24 * hourMs
)

func Defaults() Tuning {
	return Tuning{
		TickIntervalMs: 1000,
		DefaultColor:   "GREEN",
		HistoryLimit:   10,
		Economy: Economy{
			MaxClaimsPerPlayer: 64,
			UsePlaytimeScaling: false,
			ChunksPerHour:      2,
			OutpostPivotClaims: 512,
			BaseOutposts:       3,
			OutpostGrowthBase:  1.3,
			CostSizeDivisor:    128,
			CostSizeFactor:     0.5,
			ReputationTiers: []ReputationTier{
				{MaxReputation: -6, Multiplier: 1.30},
				{MaxReputation: -3, Multiplier: 1.20},
				{MaxReputation: -1, Multiplier: 1.10},
				{MaxReputation: 2, Multiplier: 1.05},
			},
			DefaultReputationMultiplier: 1.0,
		},
		Contest: Contest{
			DurationMs:        hourMs,
			ImmunityMs:        7 * dayMs,
			MaxAgeMs:          7 * dayMs,
			ConfirmTTLMs:      15 * 1000,
			RpsTTLMs:          60 * 1000,
			MinTownAgeMs:      dayMs,
			ReputationPenalty: 1,
		},
		Social: Social{
			InviteTTLMs:         10 * 60 * 1000,
			AllianceInviteTTLMs: 10 * 60 * 1000,
		},
	}
}

// Load reads a tuning file on top of Defaults, so a partial file only overrides what it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.sortTiers()
	return t, nil
}

func (t *Tuning) Validate() error {
	switch {
	case t.TickIntervalMs <= 0:
		return fmt.Errorf("tick_interval_ms must be > 0")
	case t.HistoryLimit < 0:
		return fmt.Errorf("history_limit must be >= 0")
	case t.Economy.MaxClaimsPerPlayer < 0:
		return fmt.Errorf("economy.max_claims_per_player must be >= 0")
	case t.Economy.OutpostPivotClaims <= 0:
		return fmt.Errorf("economy.outpost_pivot_claims must be > 0")
	case t.Economy.OutpostGrowthBase <= 1:
		return fmt.Errorf("economy.outpost_growth_base must be > 1")
	case t.Economy.CostSizeDivisor <= 0:
		return fmt.Errorf("economy.cost_size_divisor must be > 0")
	case t.Contest.DurationMs <= 0:
		return fmt.Errorf("contest.duration_ms must be > 0")
	case t.Contest.ImmunityMs < 0 || t.Contest.MaxAgeMs <= 0:
		return fmt.Errorf("contest.immunity_ms/max_age_ms out of range")
	case t.Contest.ConfirmTTLMs <= 0 || t.Contest.RpsTTLMs <= 0:
		return fmt.Errorf("contest ttl values must be > 0")
	}
	for _, tier := range t.Economy.ReputationTiers {
		if tier.Multiplier <= 0 {
			return fmt.Errorf("economy.reputation_tiers: multiplier must be > 0")
		}
	}
	return nil
}

func (t *Tuning) sortTiers() {
	sort.SliceStable(t.Economy.ReputationTiers, func(i, j int) bool {
		return t.Economy.ReputationTiers[i].MaxReputation < t.Economy.ReputationTiers[j].MaxReputation
	})
}

// Digest identifies the effective tuning; it is recorded alongside snapshots.
func (t Tuning) Digest() string {
	b, err := yaml.Marshal(t)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
