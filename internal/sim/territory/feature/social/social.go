package social

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"townclaims.dev/internal/protocol"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

const MaxTownNameLen = 32

// NormalizeTownName trims and collapses inner whitespace.
func NormalizeTownName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

func TownNameKey(name string) string {
	return strings.ToLower(NormalizeTownName(name))
}

func ValidateTownName(name string) (ok bool, code string, msg string) {
	name = NormalizeTownName(name)
	if name == "" {
		return false, protocol.ErrBadRequest, "missing town name"
	}
	if utf8.RuneCountInString(name) > MaxTownNameLen {
		return false, protocol.ErrBadRequest, fmt.Sprintf("town name longer than %d characters", MaxTownNameLen)
	}
	return true, "", ""
}

// ValidateAllianceInvite checks that from may propose an alliance to to.
func ValidateAllianceInvite(from, to *modelpkg.Town) (ok bool, code string, msg string) {
	if from == nil || to == nil {
		return false, protocol.ErrNotFound, "town not found"
	}
	if from.Owner == to.Owner {
		return false, protocol.ErrInvalidTarget, "cannot ally with your own town"
	}
	if from.Allies.Has(to.Owner) {
		return false, protocol.ErrConflict, fmt.Sprintf("already allied with %s", to.Name)
	}
	return true, "", ""
}

func ValidateWarToggle(a, b *modelpkg.Town) (ok bool, code string, msg string) {
	if a == nil || b == nil {
		return false, protocol.ErrNotFound, "town not found"
	}
	if a.Owner == b.Owner {
		return false, protocol.ErrInvalidTarget, "cannot declare war on your own town"
	}
	return true, "", ""
}

// SetAllied links or unlinks two towns symmetrically and reports whether anything changed.
func SetAllied(a, b *modelpkg.Town, allied bool) bool {
	if allied {
		changed := !a.Allies.Has(b.Owner) || !b.Allies.Has(a.Owner)
		a.Allies[b.Owner] = struct{}{}
		b.Allies[a.Owner] = struct{}{}
		return changed
	}
	changed := a.Allies.Has(b.Owner) || b.Allies.Has(a.Owner)
	delete(a.Allies, b.Owner)
	delete(b.Allies, a.Owner)
	return changed
}

// ToggleWar flips the symmetric war relation and returns the new state.
func ToggleWar(a, b *modelpkg.Town) bool {
	if a.Wars.Has(b.Owner) {
		delete(a.Wars, b.Owner)
		delete(b.Wars, a.Owner)
		return false
	}
	a.Wars[b.Owner] = struct{}{}
	b.Wars[a.Owner] = struct{}{}
	return true
}
