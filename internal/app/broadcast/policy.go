package broadcast

import "github.com/dkeye/MusicRoom/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	CloseConnection
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, conn domain.ConnectionID) BackpressureAction
}

// SimplePolicy closes slow connections. The read pump then sees the closed
// socket and runs the regular disconnect path.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, domain.ConnectionID) BackpressureAction {
	return CloseConnection
}

// DropPolicy silently drops frames for slow connections.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomID, domain.ConnectionID) BackpressureAction {
	return DropFrame
}
