package territory

import (
	"strings"
	"testing"
	"time"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory/feature/contest"
	"townclaims.dev/internal/sim/tuning"
)

func TestRequestContest_ConfirmFlow(t *testing.T) {
	h := newHarness(t, nil)
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, b, pos(0, 0), pos(1, 0))
	h.mature()

	r := h.eng.RequestContest(a, pos(0, 0))
	if r.Code != protocol.ErrConfirm {
		t.Fatalf("want confirm prompt, got %+v", r)
	}
	quote := r.Data.(map[string]int)
	if quote["cost"] != 3 || quote["chunks"] != 2 {
		t.Fatalf("quote: %+v", quote)
	}
	if h.eng.Town(a).ContestedClaimsSpent != 0 {
		t.Fatalf("prompt must not charge")
	}

	h.clock.Advance(16 * time.Second)
	if r := h.eng.RequestContest(a, pos(0, 0)); r.Code != protocol.ErrConfirmLate {
		t.Fatalf("want late confirmation, got %+v", r)
	}
	// The late attempt re-arms the prompt; any cell of the same outpost confirms.
	if r := h.eng.RequestContest(a, pos(1, 0)); !r.OK {
		t.Fatalf("confirm: %+v", r)
	}
	town := h.eng.Town(a)
	if town.ContestedClaimsSpent != 3 || town.Reputation != 9 {
		t.Fatalf("charge: spent=%d rep=%d", town.ContestedClaimsSpent, town.Reputation)
	}
	if h.eng.AvailableClaims(a) != 61 {
		t.Fatalf("available: %d", h.eng.AvailableClaims(a))
	}
	if got := topHistory(t, h.eng, pos(0, 0)); got != "CONTEST-START" {
		t.Fatalf("history: %s", got)
	}
	if len(h.notes.direct[b]) == 0 || len(h.notes.broadcasts) == 0 {
		t.Fatalf("expected notifications")
	}
	if h.audit.count("CONTEST_START") != 1 {
		t.Fatalf("audit entries: %+v", h.audit.entries)
	}
	h.consistent(t)
}

func TestRequestContest_Rejections(t *testing.T) {
	h := newHarness(t, nil)
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, a, pos(9, 9))
	h.claim(t, b, pos(0, 0))

	if r := h.eng.RequestContest(a, pos(0, 0)); r.Code != protocol.ErrTooYoung {
		t.Fatalf("young towns: %+v", r)
	}
	h.mature()
	if r := h.eng.RequestContest(a, pos(9, 9)); r.Code != protocol.ErrInvalidTarget {
		t.Fatalf("own land: %+v", r)
	}
	if r := h.eng.RequestContest(a, pos(50, 50)); r.Code != protocol.ErrInvalidTarget {
		t.Fatalf("unclaimed: %+v", r)
	}
	h.eng.Town(a).ContestedClaimsSpent = 63
	if r := h.eng.RequestContest(a, pos(0, 0)); r.Code != protocol.ErrNoResource {
		t.Fatalf("cannot afford: %+v", r)
	}
	h.eng.Town(a).ContestedClaimsSpent = 0
	h.openContest(t, a, pos(0, 0))

	c := player(3)
	h.town(t, c, "Gamma")
	h.eng.Town(c).CreatedAtMs = 1
	if r := h.eng.RequestContest(c, pos(0, 0)); r.Code != protocol.ErrContested {
		t.Fatalf("double contest: %+v", r)
	}
}

func TestContestCost_ReputationAndSize(t *testing.T) {
	h := newHarness(t, nil)
	b, c := player(2), player(3)
	h.town(t, b, "Beta")
	h.town(t, c, "Gamma")
	h.claim(t, c, row(0, 39, 0)...)
	h.mature()
	h.eng.Town(b).Reputation = -4

	if cost, ok := h.eng.ContestCost(b, pos(7, 0)); !ok || cost != 56 {
		t.Fatalf("cost: want 56, got %d (%v)", cost, ok)
	}
	h.openContest(t, b, pos(7, 0))
	if got := h.eng.Town(b).ContestedClaimsSpent; got != 56 {
		t.Fatalf("spent: want 56, got %d", got)
	}
	if got := h.eng.Town(b).Reputation; got != -5 {
		t.Fatalf("reputation: want -5, got %d", got)
	}
}

func TestAdvanceTimers_HoldWinChargesAgain(t *testing.T) {
	h := newHarness(t, nil)
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, b, pos(0, 0), pos(1, 0))
	h.mature()
	h.pres.at(a, pos(1, 0))
	h.pres.at(b, pos(30, 30))
	c := h.openContest(t, a, pos(0, 0))
	if c.Paused {
		t.Fatalf("both owners online; contest should tick")
	}

	h.clock.Advance(time.Hour)
	h.eng.AdvanceTimers(h.clock.Now())

	if len(h.eng.Contests()) != 0 {
		t.Fatalf("contest should have resolved")
	}
	if h.eng.Town(a).ClaimCount() != 2 || h.eng.Town(b).ClaimCount() != 0 {
		t.Fatalf("cells did not transfer")
	}
	if got := h.eng.Town(a).ContestedClaimsSpent; got != 6 {
		t.Fatalf("hold win should charge start cost again: spent=%d", got)
	}
	if got := topHistory(t, h.eng, pos(0, 0)); got != "CONTEST-HOLD" {
		t.Fatalf("history: %s", got)
	}
	h.consistent(t)
}

func TestAdvanceTimers_PausedWhileOfflineThenExpire(t *testing.T) {
	h := newHarness(t, nil)
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, b, pos(0, 0), pos(1, 0))
	h.mature()
	c := h.openContest(t, a, pos(0, 0))

	h.clock.Advance(30 * time.Minute)
	h.eng.AdvanceTimers(h.clock.Now())
	if !c.Paused || c.RemainingMs != time.Hour.Milliseconds() {
		t.Fatalf("offline contest ticked: paused=%v remaining=%d", c.Paused, c.RemainingMs)
	}
	if c.HoldEligible {
		t.Fatalf("challenger never entered; hold must be revoked")
	}

	h.pres.at(a, pos(50, 50))
	h.pres.at(b, pos(60, 60))
	h.clock.Advance(10 * time.Minute)
	h.eng.AdvanceTimers(h.clock.Now())
	if c.Paused || c.RemainingMs != 50*time.Minute.Milliseconds() {
		t.Fatalf("online contest: paused=%v remaining=%d", c.Paused, c.RemainingMs)
	}

	h.clock.Advance(50 * time.Minute)
	h.eng.AdvanceTimers(h.clock.Now())
	if len(h.eng.Contests()) != 0 {
		t.Fatalf("contest should have expired")
	}
	if h.eng.Town(b).ClaimCount() != 2 {
		t.Fatalf("defender must keep land on expiry")
	}
	if got := topHistory(t, h.eng, pos(1, 0)); got != "CONTEST-EXPIRE" {
		t.Fatalf("history: %s", got)
	}
	if h.eng.ImmunityRemaining(pos(0, 0)) <= 0 {
		t.Fatalf("expected immunity after expiry")
	}
}

func TestAdvanceTimers_MaxAgeExpiresAndGrantsImmunity(t *testing.T) {
	h := newHarness(t, nil)
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, b, pos(0, 0), pos(1, 0))
	h.mature()
	h.openContest(t, a, pos(0, 0))

	h.clock.Advance(7 * 24 * time.Hour)
	h.eng.AdvanceTimers(h.clock.Now())
	if len(h.eng.Contests()) != 0 {
		t.Fatalf("contest should have expired by age")
	}
	if h.eng.Town(b).ClaimCount() != 2 {
		t.Fatalf("defender lost land")
	}

	h.clock.Advance(24 * time.Hour)
	if r := h.eng.RequestContest(a, pos(1, 0)); r.Code != protocol.ErrImmune {
		t.Fatalf("want immune, got %+v", r)
	}
	h.clock.Advance(7 * 24 * time.Hour)
	h.eng.AdvanceTimers(h.clock.Now())
	if r := h.eng.RequestContest(a, pos(1, 0)); r.Code != protocol.ErrConfirm {
		t.Fatalf("immunity should have lapsed: %+v", r)
	}
}

func TestAdvanceTimers_HoldOfflineAllowed(t *testing.T) {
	h := newHarness(t, func(tu *tuning.Tuning) { tu.Contest.HoldOfflineAllowed = true })
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, b, pos(0, 0))
	h.mature()
	h.pres.at(a, pos(0, 0))
	c := h.openContest(t, a, pos(0, 0))
	if !c.HoldOfflineAllowed {
		t.Fatalf("flag not copied onto contest")
	}

	h.clock.Advance(20 * time.Minute)
	h.eng.AdvanceTimers(h.clock.Now())
	if c.Paused || c.RemainingMs != 40*time.Minute.Milliseconds() {
		t.Fatalf("occupied contest should tick with defender offline: paused=%v remaining=%d", c.Paused, c.RemainingMs)
	}
}

func TestCancelContest(t *testing.T) {
	h := newHarness(t, nil)
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, b, pos(0, 0))
	h.mature()
	cell := pos(0, 0)
	cost, ok := h.eng.ContestCost(a, cell)
	if !ok {
		t.Fatalf("no contest cost")
	}
	h.openContest(t, a, cell)

	if r := h.eng.CancelContest(b, &cell); r.Code != protocol.ErrNoPermission {
		t.Fatalf("defender cancel: %+v", r)
	}
	if r := h.eng.CancelContest(a, nil); !r.OK {
		t.Fatalf("cancel: %+v", r)
	}
	if got := h.eng.Town(a).ContestedClaimsSpent; got != cost || cost != 2 {
		t.Fatalf("cancel must not refund: spent=%d cost=%d", got, cost)
	}
	if got := topHistory(t, h.eng, cell); got != "CONTEST-CANCEL" {
		t.Fatalf("history: %s", got)
	}
	if h.eng.ImmunityRemaining(cell) != 7*24*time.Hour {
		t.Fatalf("immunity: %v", h.eng.ImmunityRemaining(cell))
	}
	if r := h.eng.CancelContest(a, nil); r.Code != protocol.ErrNotFound {
		t.Fatalf("second cancel: %+v", r)
	}
}

func TestHandleKillEvent(t *testing.T) {
	h := newHarness(t, nil)
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, b, pos(0, 0), pos(10, 10))
	h.mature()
	h.openContest(t, a, pos(0, 0))
	h.clock.Advance(time.Minute)
	h.openContest(t, a, pos(10, 10))

	// Defender kill keeps the earliest-ending contest's land.
	if r := h.eng.HandleKillEvent(b, a); !r.OK {
		t.Fatalf("kill: %+v", r)
	}
	if len(h.eng.Contests()) != 1 || h.eng.ContestOn(pos(0, 0)) != nil {
		t.Fatalf("earliest contest should have resolved")
	}
	if got := topHistory(t, h.eng, pos(0, 0)); got != "CONTEST-DEFENDED" {
		t.Fatalf("history: %s", got)
	}
	if h.eng.Town(b).Kills != 1 || h.eng.PlayerStats(a).Deaths != 1 {
		t.Fatalf("kill stats not recorded")
	}

	if r := h.eng.HandleKillEvent(a, b); !r.OK {
		t.Fatalf("kill: %+v", r)
	}
	if h.eng.TownAt(pos(10, 10)) != h.eng.Town(a) {
		t.Fatalf("challenger kill should take the outpost")
	}
	if got := topHistory(t, h.eng, pos(10, 10)); got != "CONTEST-WIN" {
		t.Fatalf("history: %s", got)
	}
	if r := h.eng.HandleKillEvent(a, a); r.Code != protocol.ErrBadRequest {
		t.Fatalf("self kill: %+v", r)
	}
	h.consistent(t)
}

func TestSubmitRps_TieThenWin(t *testing.T) {
	h := newHarness(t, nil)
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, b, pos(0, 0), pos(0, 1))
	h.mature()
	h.openContest(t, a, pos(0, 0))

	if r := h.eng.SubmitRps(a, nil, "rock"); r.Code != protocol.ErrOffline {
		t.Fatalf("offline rps: %+v", r)
	}
	h.pres.at(a, pos(20, 20))
	h.pres.at(b, pos(21, 20))
	if r := h.eng.SubmitRps(a, nil, "lizard"); r.Code != protocol.ErrBadRequest {
		t.Fatalf("bad throw: %+v", r)
	}
	if r := h.eng.SubmitRps(player(7), nil, "rock"); r.OK {
		t.Fatalf("outsider throw accepted")
	}

	if r := h.eng.SubmitRps(a, nil, "rock"); !r.OK {
		t.Fatalf("rock: %+v", r)
	}
	r := h.eng.SubmitRps(b, nil, "ROCK")
	if !r.OK || r.Data.(map[string]string)["outcome"] != "tie" {
		t.Fatalf("want tie, got %+v", r)
	}
	if len(h.eng.Contests()) != 1 {
		t.Fatalf("tie must not resolve")
	}

	h.eng.SubmitRps(a, nil, "paper")
	r = h.eng.SubmitRps(b, nil, "rock")
	if !r.OK || r.Data.(map[string]string)["outcome"] != "loss" {
		t.Fatalf("want loss for rock, got %+v", r)
	}
	if h.eng.Town(a).ClaimCount() != 2 {
		t.Fatalf("paper should have won the outpost")
	}
	if !strings.Contains(h.notes.broadcasts[len(h.notes.broadcasts)-1], "Rock Paper Scissors") {
		t.Fatalf("broadcast: %v", h.notes.broadcasts)
	}
	h.consistent(t)
}

func TestResolve_IsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	a, b := player(1), player(2)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.claim(t, b, pos(0, 0))
	h.mature()
	h.pres.at(a, pos(0, 0))
	c := h.openContest(t, a, pos(0, 0))
	now := h.clock.Now().UnixMilli()

	if !h.eng.resolve(c, a, contest.KindHold, now) {
		t.Fatalf("first resolve should apply")
	}
	spent := h.eng.Town(a).ContestedClaimsSpent
	hist := len(h.eng.HistoryFor(pos(0, 0)))
	if h.eng.resolve(c, a, contest.KindHold, now) || h.eng.resolve(c, b, contest.KindKill, now) {
		t.Fatalf("second resolve should be a no-op")
	}
	if h.eng.Town(a).ContestedClaimsSpent != spent || len(h.eng.HistoryFor(pos(0, 0))) != hist {
		t.Fatalf("second resolve changed state")
	}
	if h.audit.count("CONTEST_RESOLVE") != 1 {
		t.Fatalf("resolve audited %d times", h.audit.count("CONTEST_RESOLVE"))
	}
	h.consistent(t)
}

func TestDeleteTown_EndsContestsAndRelations(t *testing.T) {
	h := newHarness(t, nil)
	a, b, c := player(1), player(2), player(3)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.town(t, c, "Gamma")
	h.claim(t, b, pos(0, 0))
	h.claim(t, a, pos(5, 5))
	if r := h.eng.AllyInvite(b, "alpha"); !r.OK {
		t.Fatalf("ally invite: %+v", r)
	}
	if r := h.eng.AllyAccept(a, "Beta"); !r.OK {
		t.Fatalf("ally accept: %+v", r)
	}
	h.eng.Invite(b, player(8))
	h.mature()
	h.openContest(t, a, pos(0, 0))

	if r := h.eng.DeleteTown(b); !r.OK {
		t.Fatalf("delete: %+v", r)
	}
	if len(h.eng.Contests()) != 0 {
		t.Fatalf("contest survived town deletion")
	}
	if h.eng.TownAt(pos(0, 0)) != nil || h.eng.Town(b) != nil {
		t.Fatalf("town data survived deletion")
	}
	if len(h.eng.Town(a).Allies) != 0 {
		t.Fatalf("alliance survived deletion")
	}
	if r := h.eng.AcceptInvite(player(8), ""); r.OK {
		t.Fatalf("invite from deleted town accepted")
	}
	if len(h.store.deleted) != 1 || h.store.deleted[0] != b {
		t.Fatalf("store delete: %v", h.store.deleted)
	}
	if got := topHistory(t, h.eng, pos(0, 0)); got != "DELETE" {
		t.Fatalf("history: %s", got)
	}
	h.consistent(t)
}

func TestDeleteTown_DefenderLeavesNoImmunity(t *testing.T) {
	h := newHarness(t, nil)
	a, b, c := player(1), player(2), player(3)
	h.town(t, a, "Alpha")
	h.town(t, b, "Beta")
	h.town(t, c, "Gamma")
	h.claim(t, b, pos(0, 0))
	h.mature()
	h.openContest(t, a, pos(0, 0))

	if r := h.eng.DeleteTown(b); !r.OK {
		t.Fatalf("delete: %+v", r)
	}
	h.claim(t, c, pos(0, 0))
	if d := h.eng.ImmunityRemaining(pos(0, 0)); d != 0 {
		t.Fatalf("new owner inherited immunity: %v", d)
	}
	if r := h.eng.RequestContest(a, pos(0, 0)); r.Code != protocol.ErrConfirm {
		t.Fatalf("contest on reclaimed cell: %+v", r)
	}
	h.consistent(t)
}

func TestFormatRemaining(t *testing.T) {
	cases := map[int64]string{
		0:                                 "0m",
		-5:                                "0m",
		400:                               "1s",
		9_000:                             "9s",
		200_000:                           "3m20s",
		120_000:                           "2m",
		time.Hour.Milliseconds():          "1h",
		65 * time.Minute.Milliseconds():   "1h5m",
		7 * 24 * time.Hour.Milliseconds(): "7d",
		24 * time.Hour.Milliseconds():     "24h",
	}
	for ms, want := range cases {
		if got := FormatRemaining(ms); got != want {
			t.Fatalf("FormatRemaining(%d) = %q, want %q", ms, got, want)
		}
	}
}
