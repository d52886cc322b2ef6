package domain

import (
	"errors"
	"strings"
	"time"
)

const MaxRoomNameLen = 64

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
	ErrUnknownRoomKind = errors.New("unknown room kind")
)

type (
	RoomName string
	RoomID   string
	RoomKind string
)

const (
	// KindVote is a music track vote room.
	KindVote RoomKind = "mtv"
	// KindPlaylist is a collaborative playlist editing room.
	KindPlaylist RoomKind = "mpe"
)

// ParseRoomKind defaults to KindVote for an empty value.
func ParseRoomKind(raw string) (RoomKind, error) {
	switch RoomKind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindVote:
		return KindVote, nil
	case KindPlaylist:
		return KindPlaylist, nil
	default:
		return "", ErrUnknownRoomKind
	}
}

func ParseRoomName(raw string) (RoomName, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(name), nil
}

// WorkflowHandle identifies the workflow backing a room. Opaque to everything
// but the workflow bridge.
type WorkflowHandle struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Room exists exactly as long as its backing workflow is alive.
type Room struct {
	ID         RoomID    `gorm:"primaryKey;size:64" json:"id"`
	Kind       RoomKind  `gorm:"size:8;not null" json:"kind"`
	Name       RoomName  `gorm:"size:64;not null" json:"name"`
	CreatorID  UserID    `gorm:"index;size:64;not null" json:"creator"`
	WorkflowID string    `gorm:"uniqueIndex;size:128;not null" json:"-"`
	RunID      string    `gorm:"size:128" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *Room) Handle() WorkflowHandle {
	return WorkflowHandle{WorkflowID: r.WorkflowID, RunID: r.RunID}
}

func (r *Room) IsCreator(user UserID) bool { return r.CreatorID == user }

// Membership is per user, never per device.
type Membership struct {
	RoomID   RoomID    `gorm:"primaryKey;size:64"`
	UserID   UserID    `gorm:"primaryKey;size:64;index"`
	JoinedAt time.Time `gorm:"not null"`
}

// RoomSummary is a read-only view for APIs.
type RoomSummary struct {
	ID          RoomID   `json:"id"`
	Kind        RoomKind `json:"kind"`
	Name        RoomName `json:"name"`
	Creator     UserID   `json:"creator"`
	MemberCount int      `json:"member_count"`
}
