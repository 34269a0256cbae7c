package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Observer sessions.
	ErrBusy      = "E_BUSY"
	ErrForbidden = "E_FORBIDDEN"

	// Simulation.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrStale        = "E_STALE"
	ErrMalformed    = "E_MALFORMED"
	ErrInvalidState = "E_INVALID_STATE"
	ErrUnknownTeam  = "E_UNKNOWN_TEAM"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBusy:            {},
	ErrForbidden:       {},
	ErrBadRequest:      {},
	ErrStale:           {},
	ErrMalformed:       {},
	ErrInvalidState:    {},
	ErrUnknownTeam:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
