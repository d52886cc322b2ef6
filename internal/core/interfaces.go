package core

import (
	"context"
	"errors"

	"github.com/dkeye/MusicRoom/internal/domain"
)

// Frame is one encoded outbound message.
type Frame []byte

// ErrBackpressure is returned by TrySend when the connection's send buffer is full.
var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts the messaging transport of a single device.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// DeviceRegistry is the durable record of open transport connections.
type DeviceRegistry interface {
	// Register fails with domain.ErrDuplicateConnection if the connection is known.
	Register(ctx context.Context, d *domain.Device) error
	// Unregister deletes and returns the row, or domain.ErrNotFound.
	Unregister(ctx context.Context, conn domain.ConnectionID) (*domain.Device, error)
	Get(ctx context.Context, conn domain.ConnectionID) (*domain.Device, error)
	ListByUser(ctx context.Context, user domain.UserID) ([]domain.Device, error)
	// Purge drops every row; used at process start.
	Purge(ctx context.Context) (int64, error)
}

// RoomDirectory is the durable record of live rooms and their members.
type RoomDirectory interface {
	// Create persists the room together with the creator's membership.
	Create(ctx context.Context, r *domain.Room) error
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	FindByWorkflow(ctx context.Context, workflowID string) (*domain.Room, error)
	FindByCreator(ctx context.Context, user domain.UserID) ([]domain.Room, error)
	FindForUser(ctx context.Context, user domain.UserID) ([]domain.Room, error)
	Members(ctx context.Context, id domain.RoomID) ([]domain.UserID, error)
	IsMember(ctx context.Context, id domain.RoomID, user domain.UserID) (bool, error)
	// AddMember and RemoveMember are idempotent.
	AddMember(ctx context.Context, id domain.RoomID, user domain.UserID) error
	RemoveMember(ctx context.Context, id domain.RoomID, user domain.UserID) error
	// Delete cascades memberships. Deleting an unknown room is not an error.
	Delete(ctx context.Context, id domain.RoomID) error
	List(ctx context.Context) ([]domain.RoomSummary, error)
}
