package domain

import "errors"

var (
	// ErrNotFound is non-fatal: a disconnect may race with a prior cleanup.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateConnection means the transport reused a connection ID.
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotAMember          = errors.New("not a member")
	// ErrConnectionGone is returned when the requesting connection closed
	// while its request was in flight.
	ErrConnectionGone = errors.New("connection gone")
)

// ErrInvalidAction is returned for a control action without a name.
var ErrInvalidAction = errors.New("invalid action")
