package matrix

import "fmt"

// AuthUnsupportedError is returned by Login/Register when none of the flows
// offered by the home server can be satisfied with the credentials supplied
// by the caller.
type AuthUnsupportedError struct {
	Flows []string
}

func (e AuthUnsupportedError) Error() string {
	return fmt.Sprintf("matrix: no offered auth flow could be satisfied (offered: %v)", e.Flows)
}

// AuthRejectedError wraps a server-side rejection of a login/register flow.
type AuthRejectedError struct {
	RespError
}

func (e AuthRejectedError) Error() string {
	return fmt.Sprintf("matrix: auth rejected: %s", e.RespError.Error())
}

func (e AuthRejectedError) Unwrap() error { return e.RespError }

// PaginationExhaustedError is returned by Room.Paginate once the room's
// create event has been seen while walking backward; it is local and
// deterministic, so it never triggers network traffic.
type PaginationExhaustedError struct {
	RoomID string
}

func (e PaginationExhaustedError) Error() string {
	return fmt.Sprintf("matrix: room %s has no earlier history to paginate", e.RoomID)
}

// ProtocolError marks a malformed event or response: a missing required
// field, or a field of unexpected JSON type. Folding code treats it as
// best-effort — the offending event is logged and dropped, never fatal.
type ProtocolError struct {
	Context string
	Err     error
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("matrix: protocol error in %s: %v", e.Context, e.Err)
}

func (e ProtocolError) Unwrap() error { return e.Err }

// DuplicateMemberError is logged as a warning and the offending initial-sync
// membership event is ignored; it never aborts the sync.
type DuplicateMemberError struct {
	RoomID, UserID string
}

func (e DuplicateMemberError) Error() string {
	return fmt.Sprintf("matrix: room %s already has a member entry for %s", e.RoomID, e.UserID)
}

// UnknownMemberError is logged as a warning when a message event's author
// has no membership fold on record; the message is dropped.
type UnknownMemberError struct {
	RoomID, UserID string
}

func (e UnknownMemberError) Error() string {
	return fmt.Sprintf("matrix: room %s has no known member %s", e.RoomID, e.UserID)
}
