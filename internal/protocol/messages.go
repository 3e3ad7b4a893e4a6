package protocol

// HELLO (host -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HostName        string `json:"host_name"`
	Token           string `json:"token,omitempty"`
}

// WELCOME (server -> host)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	TuningDigest    string `json:"tuning_digest"`
	TickIntervalMs  int    `json:"tick_interval_ms"`
}

type Cell struct {
	World string `json:"world"`
	X     int32  `json:"x"`
	Z     int32  `json:"z"`
}

// PRESENCE (host -> server): connectivity, position and playtime of one player.
type PresenceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Player          string `json:"player"`
	Online          bool   `json:"online"`
	Cell            *Cell  `json:"cell,omitempty"`
	PlaytimeHours   int    `json:"playtime_hours,omitempty"`
}

// Command ops accepted in CMD messages.
const (
	OpCreateTown      = "create_town"
	OpDeleteTown      = "delete_town"
	OpAdminDeleteTown = "admin_delete_town"
	OpRenameTown      = "rename_town"
	OpRecolorTown     = "recolor_town"
	OpClaim           = "claim"
	OpUnclaim         = "unclaim"
	OpForceUnclaim    = "force_unclaim"
	OpSetCapital      = "set_capital"
	OpInvite          = "invite"
	OpAcceptInvite    = "accept_invite"
	OpRemoveMember    = "remove_member"
	OpAllyInvite      = "ally_invite"
	OpAllyAccept      = "ally_accept"
	OpAllyRemove      = "ally_remove"
	OpWarToggle       = "war_toggle"
	OpAdjustBonus     = "adjust_bonus"
	OpContest         = "contest"
	OpContestCancel   = "contest_cancel"
	OpRps             = "rps"
	OpTransfer        = "transfer_outpost"
	OpTrimOutposts    = "trim_outposts"
	OpTownInfo        = "town_info"
	OpHistory         = "history"
	OpTop             = "top"
	OpContests        = "contests"
)

// CMD (host -> server). Which optional fields are read depends on Op.
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Actor           string `json:"actor"`
	Op              string `json:"op"`
	Admin           bool   `json:"admin,omitempty"`

	Target string `json:"target,omitempty"`
	Cell   *Cell  `json:"cell,omitempty"`
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
	World  string `json:"world,omitempty"`
	Choice string `json:"choice,omitempty"`
	Hint   string `json:"hint,omitempty"`
	Amount int    `json:"amount,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// KILL (host -> server)
type KillMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Killer          string `json:"killer"`
	Victim          string `json:"victim"`
}

// RESULT (server -> host)
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Data            any    `json:"data,omitempty"`
}

// NOTIFY (server -> host). Player is empty when Broadcast is set.
type NotifyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Player          string `json:"player,omitempty"`
	Broadcast       bool   `json:"broadcast,omitempty"`
	Message         string `json:"message"`
}
