package model

import "github.com/google/uuid"

const (
	HistoryClaim           = "CLAIM"
	HistoryUnclaim         = "UNCLAIM"
	HistoryForceUnclaim    = "FORCE-UNCLAIM"
	HistoryDelete          = "DELETE"
	HistoryAdminDelete     = "ADMIN-DELETE"
	HistoryContestStart    = "CONTEST-START"
	HistoryContestCancel   = "CONTEST-CANCEL"
	HistoryContestExpire   = "CONTEST-EXPIRE"
	HistoryContestHold     = "CONTEST-HOLD"
	HistoryContestWin      = "CONTEST-WIN"
	HistoryContestDefended = "CONTEST-DEFENDED"
	HistoryTransfer        = "TRANSFER"
	HistoryExisting        = "EXISTING"
)

// HistoryEntry is one ownership event on a cell. TownOwner is uuid.Nil for unclaimed.
type HistoryEntry struct {
	TimestampMs int64
	Action      string
	TownName    string
	TownOwner   uuid.UUID
	Allies      []string
	Wars        []string
}

type PlayerStats struct {
	Kills  int
	Deaths int
	Claims int
}
