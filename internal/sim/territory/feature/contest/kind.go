package contest

import (
	"fmt"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

// Kind is how a contest ended. Every resolution goes through exactly one Kind.
type Kind int

const (
	KindKill Kind = iota + 1
	KindHold
	KindRps
	KindExpire
	KindCancel
)

func (k Kind) String() string {
	switch k {
	case KindKill:
		return "KILL"
	case KindHold:
		return "HOLD"
	case KindRps:
		return "RPS"
	case KindExpire:
		return "EXPIRE"
	case KindCancel:
		return "CANCEL"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, bool) {
	for _, k := range []Kind{KindKill, KindHold, KindRps, KindExpire, KindCancel} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Decisive kinds carry a winner; EXPIRE and CANCEL always leave the land with the defender.
func (k Kind) Decisive() bool {
	return k == KindKill || k == KindHold || k == KindRps
}

// ChargeOpen applies the permanent cost of opening a contest to the challenger.
func ChargeOpen(challenger *modelpkg.Town, cost, reputationPenalty int) {
	if cost < 1 {
		cost = 1
	}
	challenger.AddContestedClaimsSpent(cost)
	challenger.AddReputation(-reputationPenalty)
}
