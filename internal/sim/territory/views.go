package territory

import (
	"github.com/google/uuid"

	"townclaims.dev/internal/sim/territory/feature/economy"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

// TownView is the read-only JSON shape of a town for hosts and the admin API.
type TownView struct {
	Owner                string   `json:"owner"`
	Name                 string   `json:"name"`
	World                string   `json:"world"`
	Color                string   `json:"color"`
	ColorRGB             int      `json:"color_rgb"`
	Claims               int      `json:"claims"`
	ClaimLimit           int      `json:"claim_limit"`
	AvailableClaims      int      `json:"available_claims"`
	Outposts             int      `json:"outposts"`
	AllowedOutposts      int      `json:"allowed_outposts"`
	Capital              int      `json:"capital"`
	Members              []string `json:"members,omitempty"`
	Allies               []string `json:"allies,omitempty"`
	Wars                 []string `json:"wars,omitempty"`
	Reputation           int      `json:"reputation"`
	ReputationMarker     string   `json:"reputation_marker"`
	Kills                int      `json:"kills"`
	BonusClaims          int      `json:"bonus_claims"`
	ContestedClaimsSpent int      `json:"contested_claims_spent"`
	Founded              string   `json:"founded"`
}

func (e *Engine) TownView(t *modelpkg.Town) TownView {
	v := TownView{
		Owner:                t.Owner.String(),
		Name:                 t.Name,
		World:                t.World,
		Color:                string(t.Color),
		ColorRGB:             t.Color.RGB(),
		Claims:               t.ClaimCount(),
		ClaimLimit:           e.econ.EffectiveClaimLimit(t),
		AvailableClaims:      e.econ.AvailableClaims(t),
		Outposts:             len(e.outpostsOf(t)),
		AllowedOutposts:      e.econ.AllowedOutposts(t),
		Capital:              len(t.Capital),
		Allies:               e.relationNames(t.Allies),
		Wars:                 e.relationNames(t.Wars),
		Reputation:           t.Reputation,
		ReputationMarker:     economy.ReputationMarker(t.Reputation),
		Kills:                t.Kills,
		BonusClaims:          t.BonusClaims,
		ContestedClaimsSpent: t.ContestedClaimsSpent,
		Founded:              e.TownAge(t),
	}
	for _, m := range t.Members.Sorted() {
		v.Members = append(v.Members, m.String())
	}
	return v
}

type ContestView struct {
	ID           string `json:"id"`
	Defender     string `json:"defender"`
	Challenger   string `json:"challenger"`
	Chunks       int    `json:"chunks"`
	RemainingMs  int64  `json:"remaining_ms"`
	Remaining    string `json:"remaining"`
	Paused       bool   `json:"paused"`
	HoldEligible bool   `json:"hold_eligible"`
	StartCost    int    `json:"start_cost"`
}

func (e *Engine) ContestViews() []ContestView {
	var out []ContestView
	for _, c := range e.Contests() {
		out = append(out, ContestView{
			ID:           c.ID,
			Defender:     e.townLabel(c.DefenderOwner),
			Challenger:   e.townLabel(c.ChallengerOwner),
			Chunks:       c.ChunkCount(),
			RemainingMs:  c.RemainingMs,
			Remaining:    FormatRemaining(c.RemainingMs),
			Paused:       c.Paused,
			HoldEligible: c.HoldEligible,
			StartCost:    c.StartCost,
		})
	}
	return out
}

type HistoryView struct {
	TimestampMs int64    `json:"ts_ms"`
	Action      string   `json:"action"`
	Town        string   `json:"town"`
	Owner       string   `json:"owner,omitempty"`
	Allies      []string `json:"allies,omitempty"`
	Wars        []string `json:"wars,omitempty"`
}

func historyViews(entries []modelpkg.HistoryEntry) []HistoryView {
	out := make([]HistoryView, 0, len(entries))
	for _, h := range entries {
		v := HistoryView{TimestampMs: h.TimestampMs, Action: h.Action, Town: h.TownName, Allies: h.Allies, Wars: h.Wars}
		if h.TownOwner != uuid.Nil {
			v.Owner = h.TownOwner.String()
		}
		out = append(out, v)
	}
	return out
}

type RankView struct {
	Rank   int    `json:"rank"`
	Town   string `json:"town"`
	Marker string `json:"marker"`
	Score  int    `json:"score"`
}
