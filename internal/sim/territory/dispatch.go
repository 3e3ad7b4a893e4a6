package territory

import (
	"fmt"

	"github.com/google/uuid"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory/feature/economy"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

const defaultTopLimit = 10

func resultMsg(ref string, r Result) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Ref:             ref,
		OK:              r.OK,
		Code:            r.Code,
		Message:         r.Message,
		Data:            r.Data,
	}
}

func cellFromMsg(c *protocol.Cell) *modelpkg.ChunkPos {
	if c == nil {
		return nil
	}
	return &modelpkg.ChunkPos{World: c.World, X: c.X, Z: c.Z}
}

func adminOnly(op string) bool {
	switch op {
	case protocol.OpAdminDeleteTown, protocol.OpForceUnclaim, protocol.OpAdjustBonus, protocol.OpTrimOutposts:
		return true
	}
	return false
}

// Dispatch routes one host command to the engine. Permission to run admin ops is
// asserted by the host via cmd.Admin.
func (e *Engine) Dispatch(cmd protocol.CmdMsg) protocol.ResultMsg {
	actor, err := uuid.Parse(cmd.Actor)
	if err != nil {
		return resultMsg(cmd.ID, failResult(protocol.ErrBadRequest, "bad actor id"))
	}
	if adminOnly(cmd.Op) && !cmd.Admin {
		return resultMsg(cmd.ID, failResult(protocol.ErrNoPermission, "admin only"))
	}
	cell := cellFromMsg(cmd.Cell)
	withCell := func(fn func(p modelpkg.ChunkPos) Result) Result {
		if cell == nil {
			return failResult(protocol.ErrBadRequest, "missing cell")
		}
		return fn(*cell)
	}
	withTarget := func(fn func(target uuid.UUID) Result) Result {
		target, err := uuid.Parse(cmd.Target)
		if err != nil {
			return failResult(protocol.ErrBadRequest, "bad target player id")
		}
		return fn(target)
	}

	var r Result
	switch cmd.Op {
	case protocol.OpCreateTown:
		r = e.CreateTown(actor, cmd.Name, cmd.World)
	case protocol.OpDeleteTown:
		r = e.DeleteTown(actor)
	case protocol.OpAdminDeleteTown:
		r = e.AdminDeleteTown(actor, cmd.Target)
	case protocol.OpRenameTown:
		r = e.Rename(actor, cmd.Name)
	case protocol.OpRecolorTown:
		r = e.Recolor(actor, cmd.Color)
	case protocol.OpClaim:
		r = withCell(func(p modelpkg.ChunkPos) Result { return e.Claim(actor, p, cmd.Admin) })
	case protocol.OpUnclaim:
		r = withCell(func(p modelpkg.ChunkPos) Result { return e.Unclaim(actor, p) })
	case protocol.OpForceUnclaim:
		r = withCell(func(p modelpkg.ChunkPos) Result { return e.ForceUnclaim(actor, p) })
	case protocol.OpSetCapital:
		r = withCell(func(p modelpkg.ChunkPos) Result { return e.SetCapital(actor, p) })
	case protocol.OpInvite:
		r = withTarget(func(target uuid.UUID) Result { return e.Invite(actor, target) })
	case protocol.OpAcceptInvite:
		r = e.AcceptInvite(actor, cmd.Hint)
	case protocol.OpRemoveMember:
		r = withTarget(func(target uuid.UUID) Result { return e.RemoveMember(actor, target) })
	case protocol.OpAllyInvite:
		r = e.AllyInvite(actor, cmd.Target)
	case protocol.OpAllyAccept:
		r = e.AllyAccept(actor, cmd.Target)
	case protocol.OpAllyRemove:
		r = e.AllyRemove(actor, cmd.Target)
	case protocol.OpWarToggle:
		r = e.ToggleWar(actor, cmd.Target)
	case protocol.OpAdjustBonus:
		r = e.AdjustBonus(actor, cmd.Target, cmd.Amount)
	case protocol.OpContest:
		r = withCell(func(p modelpkg.ChunkPos) Result { return e.RequestContest(actor, p) })
	case protocol.OpContestCancel:
		r = e.CancelContest(actor, cell)
	case protocol.OpRps:
		r = e.SubmitRps(actor, cell, cmd.Choice)
	case protocol.OpTransfer:
		r = withCell(func(p modelpkg.ChunkPos) Result { return e.TransferOutpost(actor, p, cmd.Target) })
	case protocol.OpTrimOutposts:
		r = e.TrimSmallestOutposts(actor, cmd.Target, cmd.Amount)
	case protocol.OpTownInfo:
		r = e.townInfo(actor, cmd.Target)
	case protocol.OpHistory:
		r = withCell(func(p modelpkg.ChunkPos) Result {
			return okResult("", historyViews(e.HistoryFor(p)))
		})
	case protocol.OpTop:
		r = e.topResult(cmd.Name, cmd.Limit)
	case protocol.OpContests:
		r = okResult("", e.ContestViews())
	default:
		r = failResult(protocol.ErrBadRequest, fmt.Sprintf("unknown op: %s", cmd.Op))
	}
	return resultMsg(cmd.ID, r)
}

// DispatchKill handles a KILL message from the host.
func (e *Engine) DispatchKill(msg protocol.KillMsg) protocol.ResultMsg {
	killer, err1 := uuid.Parse(msg.Killer)
	victim, err2 := uuid.Parse(msg.Victim)
	if err1 != nil || err2 != nil {
		return resultMsg("", failResult(protocol.ErrBadRequest, "bad player id"))
	}
	return resultMsg("", e.HandleKillEvent(killer, victim))
}

func (e *Engine) townInfo(actor uuid.UUID, query string) Result {
	var t *modelpkg.Town
	if query == "" {
		t = e.members[actor]
	} else {
		t = e.FindTown(query)
	}
	if t == nil {
		return failResult(protocol.ErrNotFound, "town not found")
	}
	return okResult("", e.TownView(t))
}

func (e *Engine) topResult(board string, limit int) Result {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	var towns []*modelpkg.Town
	score := func(t *modelpkg.Town) int { return t.ClaimCount() }
	switch board {
	case "", "claims":
		towns = e.TopByClaims(limit)
	case "kills":
		towns = e.TopByKills(limit)
		score = func(t *modelpkg.Town) int { return t.Kills }
	default:
		return failResult(protocol.ErrBadRequest, "board must be claims or kills")
	}
	out := make([]RankView, 0, len(towns))
	for i, t := range towns {
		out = append(out, RankView{Rank: i + 1, Town: t.Name, Marker: economy.ReputationMarker(t.Reputation), Score: score(t)})
	}
	return okResult("", out)
}
