// Package orch is the lifecycle coordinator. It owns every policy decision
// about devices, rooms and their backing workflows; nothing else mutates the
// device registry or the room directory.
package orch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/app/broadcast"
	"github.com/dkeye/MusicRoom/internal/core"
	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/workflow"
)

// Retrier takes over workflow terminations that failed during eviction.
type Retrier interface {
	Enqueue(h domain.WorkflowHandle) bool
}

type Orchestrator struct {
	Devices core.DeviceRegistry
	Rooms   core.RoomDirectory
	Bridge  workflow.Bridge
	Hub     *broadcast.Manager
	Reaper  Retrier

	// Lock order is always users before rooms.
	users *keyedMutex
	rooms *keyedMutex

	draining atomic.Bool
}

func New(devices core.DeviceRegistry, rooms core.RoomDirectory, bridge workflow.Bridge, hub *broadcast.Manager, reaper Retrier) *Orchestrator {
	return &Orchestrator{
		Devices: devices,
		Rooms:   rooms,
		Bridge:  bridge,
		Hub:     hub,
		Reaper:  reaper,
		users:   newKeyedMutex(),
		rooms:   newKeyedMutex(),
	}
}

// BeginShutdown makes later disconnects only unregister their device. Rooms of
// creators going offline this way are evicted by Reconcile on the next start.
func (o *Orchestrator) BeginShutdown() {
	o.draining.Store(true)
}

func (o *Orchestrator) lockUser(user domain.UserID) func() { return o.users.Lock(string(user)) }

func (o *Orchestrator) lockRoom(room domain.RoomID) func() { return o.rooms.Lock(string(room)) }

// device resolves the owner of a live connection.
func (o *Orchestrator) device(ctx context.Context, conn domain.ConnectionID) (*domain.Device, error) {
	d, err := o.Devices.Get(ctx, conn)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrConnectionGone
	}
	return d, err
}

// OnWorkflowUpdate relays an engine notification to the room's group.
func (o *Orchestrator) OnWorkflowUpdate(u workflow.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	room, err := o.Rooms.FindByWorkflow(ctx, u.Handle.WorkflowID)
	if err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("workflow", u.Handle.WorkflowID).Msg("update for unknown room dropped")
		return
	}
	o.Hub.Publish(room.ID, encode(roomMessage{Type: MsgStateUpdate, Room: room.ID, Kind: room.Kind, State: u.State}))
}

// RoomDetails is a read-only view for APIs.
type RoomDetails struct {
	Room        *domain.Room    `json:"room"`
	Members     []domain.UserID `json:"members"`
	Connections int             `json:"connections"`
}

func (o *Orchestrator) ListRooms(ctx context.Context) ([]domain.RoomSummary, error) {
	return o.Rooms.List(ctx)
}

func (o *Orchestrator) RoomDetails(ctx context.Context, id domain.RoomID) (*RoomDetails, error) {
	room, err := o.Rooms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := o.Rooms.Members(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RoomDetails{Room: room, Members: members, Connections: len(o.Hub.Members(id))}, nil
}
