package protocol

// Error codes carried in RESULT.code. Territory codes are rule rejections and
// leave state untouched.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"

	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrNotFound      = "E_NOT_FOUND"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrConflict      = "E_CONFLICT"
	ErrInternal      = "E_INTERNAL"

	ErrClaimTaken  = "E_CLAIM_TAKEN"
	ErrClaimLimit  = "E_CLAIM_LIMIT"
	ErrOutpostCap  = "E_OUTPOST_CAP"
	ErrContested   = "E_CONTESTED"
	ErrImmune      = "E_IMMUNE"
	ErrTooYoung    = "E_TOO_YOUNG"
	ErrOffline     = "E_OFFLINE"
	ErrConfirm     = "E_CONFIRM"
	ErrConfirmLate = "E_CONFIRM_EXPIRED"
)

// Class groups codes by who has to act on them.
type Class uint8

const (
	ClassUnknown  Class = iota
	ClassProtocol       // malformed or throttled traffic; the host should fix its request
	ClassRejected       // well-formed request refused by a territory rule
	ClassPending        // nothing happened yet; repeat to proceed
	ClassInternal
)

var codeClass = map[string]Class{
	ErrProtoBadRequest: ClassProtocol,
	ErrRateLimit:       ClassProtocol,
	ErrBadRequest:      ClassProtocol,

	ErrNoPermission:  ClassRejected,
	ErrNotFound:      ClassRejected,
	ErrNoResource:    ClassRejected,
	ErrInvalidTarget: ClassRejected,
	ErrConflict:      ClassRejected,
	ErrClaimTaken:    ClassRejected,
	ErrClaimLimit:    ClassRejected,
	ErrOutpostCap:    ClassRejected,
	ErrContested:     ClassRejected,
	ErrImmune:        ClassRejected,
	ErrTooYoung:      ClassRejected,
	ErrOffline:       ClassRejected,
	ErrConfirmLate:   ClassRejected,

	ErrConfirm: ClassPending,

	ErrInternal: ClassInternal,
}

func ClassOf(code string) Class { return codeClass[code] }

func IsKnownCode(code string) bool {
	return code == "" || ClassOf(code) != ClassUnknown
}
