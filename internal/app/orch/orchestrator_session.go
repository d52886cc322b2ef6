package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/MusicRoom/internal/core"
	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/metrics"
)

const maxResyncQueries = 4

type ConnectRequest struct {
	ConnectionID domain.ConnectionID
	UserID       domain.UserID
	DeviceName   string
	Conn         core.SignalConnection
}

// Connect registers a new device and resumes every room its user already
// belongs to: the connection joins each group and gets one retrieve_context.
func (o *Orchestrator) Connect(ctx context.Context, req ConnectRequest) (*domain.Device, error) {
	device, err := domain.NewDevice(req.ConnectionID, req.UserID, req.DeviceName)
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("module", "orch").Str("conn", string(device.ConnectionID)).Str("user", string(device.UserID)).Logger()

	unlock := o.lockUser(device.UserID)
	defer unlock()

	if err := o.Devices.Register(ctx, device); err != nil {
		if errors.Is(err, domain.ErrDuplicateConnection) {
			logger.Error().Err(err).Msg("integrity violation: connection registered twice")
		}
		return nil, err
	}
	if !o.Hub.Attach(device.ConnectionID, device.UserID, req.Conn) {
		logger.Error().Msg("integrity violation: connection already attached")
		if _, err := o.Devices.Unregister(ctx, device.ConnectionID); err != nil {
			logger.Error().Err(err).Msg("rollback device registration")
		}
		return nil, fmt.Errorf("attach %s: %w", device.ConnectionID, domain.ErrDuplicateConnection)
	}
	metrics.ActiveConnections.Inc()
	logger.Info().Str("device", device.DeviceName).Msg("device connected")

	rooms, err := o.Rooms.FindForUser(ctx, device.UserID)
	if err != nil {
		// Connected without resync; the client can still ask for context.
		logger.Error().Err(err).Msg("lookup rooms for resync")
		return device, nil
	}
	o.resync(ctx, device.ConnectionID, rooms)
	return device, nil
}

type resyncResult struct {
	room  *domain.Room
	frame core.Frame
	err   error
}

func (o *Orchestrator) resync(ctx context.Context, conn domain.ConnectionID, rooms []domain.Room) {
	if len(rooms) == 0 {
		return
	}
	p := pool.NewWithResults[resyncResult]().WithMaxGoroutines(maxResyncQueries)
	for i := range rooms {
		room := &rooms[i]
		if !o.joinLive(ctx, room.ID, conn) {
			continue
		}
		p.Go(func() resyncResult {
			state, err := o.Bridge.Query(ctx, room.Handle())
			if err != nil {
				return resyncResult{room: room, err: err}
			}
			return resyncResult{room: room, frame: contextFrame(room, state)}
		})
	}
	for _, res := range p.Wait() {
		if res.err != nil {
			log.Warn().Err(res.err).Str("module", "orch").Str("conn", string(conn)).Str("room", string(res.room.ID)).Msg("resync query failed")
			continue
		}
		if err := o.Hub.Send(conn, res.frame); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("resync send dropped")
		}
	}
}

// joinLive adds conn to the room's group unless the room was evicted since it
// was listed. Caller holds the user lock.
func (o *Orchestrator) joinLive(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) bool {
	unlock := o.lockRoom(id)
	defer unlock()

	logger := log.With().Str("module", "orch").Str("conn", string(conn)).Str("room", string(id)).Logger()
	if _, err := o.Rooms.Get(ctx, id); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			logger.Debug().Msg("room evicted before resync")
		} else {
			logger.Error().Err(err).Msg("lookup room for resync")
		}
		return false
	}
	if err := o.Hub.Join(id, conn); err != nil {
		logger.Error().Err(err).Msg("join group on connect")
		return false
	}
	return true
}

// Disconnect removes a device. When it was its user's last one, every room
// the user created is evicted. Calling it twice for one connection is a no-op
// the second time.
func (o *Orchestrator) Disconnect(ctx context.Context, conn domain.ConnectionID) error {
	// The transport context is usually already cancelled here.
	ctx = context.WithoutCancel(ctx)
	logger := log.With().Str("module", "orch").Str("conn", string(conn)).Logger()

	device, err := o.Devices.Get(ctx, conn)
	if errors.Is(err, domain.ErrNotFound) {
		o.Hub.Detach(conn)
		logger.Debug().Msg("disconnect of unknown connection ignored")
		return nil
	}
	if err != nil {
		o.Hub.Detach(conn)
		return fmt.Errorf("disconnect %s: %w", conn, err)
	}
	user := device.UserID
	logger = logger.With().Str("user", string(user)).Logger()

	unlock := o.lockUser(user)
	defer unlock()

	if _, err := o.Devices.Unregister(ctx, conn); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Lost the race against another disconnect of the same connection.
			return nil
		}
		o.Hub.Detach(conn)
		return fmt.Errorf("disconnect %s: %w", conn, err)
	}
	metrics.ActiveConnections.Dec()
	rooms := o.Hub.Detach(conn)
	logger.Info().Int("rooms", len(rooms)).Msg("device disconnected")

	remaining, err := o.Devices.ListByUser(ctx, user)
	if err != nil {
		// Unknown device count: keep the rooms rather than evict by mistake.
		return fmt.Errorf("count devices of %s: %w", user, err)
	}
	if len(remaining) > 0 {
		return nil
	}
	if o.draining.Load() {
		logger.Debug().Msg("shutting down, eviction left to startup")
		return nil
	}

	created, err := o.Rooms.FindByCreator(ctx, user)
	if err != nil {
		return fmt.Errorf("rooms created by %s: %w", user, err)
	}
	for _, room := range created {
		o.evict(ctx, room, "creator_offline", "")
	}
	return nil
}

// Reconcile evicts every room whose creator has no registered device. It runs
// at startup, after stale devices were purged.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	rooms, err := o.Rooms.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	evicted := 0
	for _, summary := range rooms {
		unlock := o.lockUser(summary.Creator)
		devices, err := o.Devices.ListByUser(ctx, summary.Creator)
		if err != nil {
			unlock()
			return evicted, fmt.Errorf("reconcile: %w", err)
		}
		if len(devices) == 0 {
			room, err := o.Rooms.Get(ctx, summary.ID)
			if err == nil {
				o.evict(ctx, *room, "creator_offline", "")
				evicted++
			}
		}
		unlock()
	}
	return evicted, nil
}
