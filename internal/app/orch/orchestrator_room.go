package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/core"
	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/metrics"
	"github.com/dkeye/MusicRoom/internal/workflow"
)

type CreateRoomRequest struct {
	Name    string
	Kind    string
	Options json.RawMessage
}

// CreateRoom starts a workflow and, once the engine confirms it, records the
// room and pulls every live device of the creator into its group.
func (o *Orchestrator) CreateRoom(ctx context.Context, conn domain.ConnectionID, req CreateRoomRequest) (*domain.Room, error) {
	device, err := o.device(ctx, conn)
	if err != nil {
		return nil, err
	}
	name, err := domain.ParseRoomName(req.Name)
	if err != nil {
		return nil, err
	}
	kind, err := domain.ParseRoomKind(req.Kind)
	if err != nil {
		return nil, err
	}
	user := device.UserID
	logger := log.With().Str("module", "orch").Str("conn", string(conn)).Str("user", string(user)).Logger()

	roomID := domain.RoomID(uuid.NewString())
	res, err := o.Bridge.Create(ctx, workflow.CreateParams{
		RoomID:    roomID,
		Kind:      kind,
		Name:      name,
		CreatorID: user,
		Options:   req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	room := &domain.Room{
		ID:         roomID,
		Kind:       kind,
		Name:       name,
		CreatorID:  user,
		WorkflowID: res.Handle.WorkflowID,
		RunID:      res.Handle.RunID,
	}

	unlock := o.lockUser(user)
	defer unlock()

	if _, err := o.Devices.Get(ctx, conn); err != nil {
		logger.Warn().Err(err).Str("room", string(roomID)).Msg("requester left during create, terminating orphan")
		o.terminate(ctx, res.Handle)
		return nil, domain.ErrConnectionGone
	}
	if err := o.Rooms.Create(ctx, room); err != nil {
		logger.Error().Err(err).Str("room", string(roomID)).Msg("persist room, terminating orphan")
		o.terminate(ctx, res.Handle)
		return nil, fmt.Errorf("create room: %w", err)
	}
	metrics.RoomsCreatedTotal.WithLabelValues(string(kind)).Inc()
	logger.Info().Str("room", string(roomID)).Str("kind", string(kind)).Msg("room created")

	o.fanIn(ctx, room, user, res.State)
	return room, nil
}

// JoinRoom adds the connection's user to a room and pulls all of their live
// devices into its group. Joining twice is harmless.
func (o *Orchestrator) JoinRoom(ctx context.Context, conn domain.ConnectionID, roomID domain.RoomID) (*domain.Room, error) {
	device, err := o.device(ctx, conn)
	if err != nil {
		return nil, err
	}
	user := device.UserID
	room, err := o.Rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	member, err := o.Rooms.IsMember(ctx, room.ID, user)
	if err != nil {
		return nil, err
	}
	if !member {
		if err := o.Bridge.Join(ctx, room.Handle(), user); err != nil {
			return nil, fmt.Errorf("join room %s: %w", room.ID, err)
		}
	}

	unlockUser := o.lockUser(user)
	defer unlockUser()
	unlockRoom := o.lockRoom(room.ID)
	defer unlockRoom()

	// The creator may have gone offline while the engine handled the join.
	if _, err := o.Rooms.Get(ctx, room.ID); err != nil {
		return nil, err
	}
	if err := o.Rooms.AddMember(ctx, room.ID, user); err != nil {
		return nil, err
	}
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("user", string(user)).Str("room", string(room.ID)).Msg("joined room")

	state, err := o.Bridge.Query(ctx, room.Handle())
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(room.ID)).Msg("query state after join")
		state = nil
	}
	o.fanIn(ctx, room, user, state)
	return room, nil
}

// fanIn adds every live connection of user to the room's group and sends each
// of them the room context when state is known.
func (o *Orchestrator) fanIn(ctx context.Context, room *domain.Room, user domain.UserID, state workflow.State) {
	devices, err := o.Devices.ListByUser(ctx, user)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(user)).Msg("list devices for fan-in")
		return
	}
	var frame core.Frame
	if state != nil {
		frame = contextFrame(room, state)
	}
	for _, d := range devices {
		if err := o.Hub.Join(room.ID, d.ConnectionID); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("conn", string(d.ConnectionID)).Msg("fan-in skipped")
			continue
		}
		if frame != nil {
			_ = o.Hub.Send(d.ConnectionID, frame)
		}
	}
}

// LeaveRoom drops the user's membership. A creator leaving ends the room.
func (o *Orchestrator) LeaveRoom(ctx context.Context, conn domain.ConnectionID, roomID domain.RoomID) error {
	device, err := o.device(ctx, conn)
	if err != nil {
		return err
	}
	user := device.UserID
	room, err := o.Rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}

	unlockUser := o.lockUser(user)
	defer unlockUser()

	if room.IsCreator(user) {
		o.evict(ctx, *room, "creator_left", conn)
		return nil
	}

	unlockRoom := o.lockRoom(room.ID)
	defer unlockRoom()

	member, err := o.Rooms.IsMember(ctx, room.ID, user)
	if err != nil {
		return err
	}
	if !member {
		return nil
	}
	if err := o.Rooms.RemoveMember(ctx, room.ID, user); err != nil {
		return err
	}
	devices, err := o.Devices.ListByUser(ctx, user)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(user)).Msg("list devices for leave")
	}
	for _, d := range devices {
		o.Hub.Leave(room.ID, d.ConnectionID)
	}
	o.Hub.Leave(room.ID, conn)

	payload, _ := json.Marshal(struct {
		UserID domain.UserID `json:"userId"`
	}{user})
	if err := o.Bridge.Signal(ctx, room.Handle(), "leave", payload); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(room.ID)).Msg("leave signal failed")
	}
	log.Info().Str("module", "orch").Str("user", string(user)).Str("room", string(room.ID)).Msg("left room")
	return nil
}

// ControlAction forwards a control action to the room's workflow without
// interpreting it. Only connections in the room's group may send one.
func (o *Orchestrator) ControlAction(ctx context.Context, conn domain.ConnectionID, roomID domain.RoomID, action string, payload json.RawMessage) error {
	if !o.Hub.Contains(roomID, conn) {
		return domain.ErrNotAMember
	}
	if action == "" {
		return domain.ErrInvalidAction
	}
	room, err := o.Rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if err := o.Bridge.Signal(ctx, room.Handle(), action, payload); err != nil {
		return fmt.Errorf("signal %s: %w", action, err)
	}
	user, _ := o.Hub.UserOf(conn)
	log.Debug().Str("module", "orch").Str("user", string(user)).Str("room", string(room.ID)).Str("action", action).Msg("control action")
	return nil
}

// GetContext sends the current room state to one connection.
func (o *Orchestrator) GetContext(ctx context.Context, conn domain.ConnectionID, roomID domain.RoomID) error {
	if !o.Hub.Contains(roomID, conn) {
		return domain.ErrNotAMember
	}
	room, err := o.Rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	state, err := o.Bridge.Query(ctx, room.Handle())
	if err != nil {
		return fmt.Errorf("query %s: %w", room.ID, err)
	}
	return o.Hub.Send(conn, contextFrame(room, state))
}
