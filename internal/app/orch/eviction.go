package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/metrics"
	"github.com/dkeye/MusicRoom/internal/workflow"
)

// evict terminates a room's workflow, deletes the room and tells every
// connection still watching it, except skip, that it is gone. Failures are
// logged only; the local room is removed regardless.
func (o *Orchestrator) evict(ctx context.Context, room domain.Room, reason string, skip domain.ConnectionID) {
	logger := log.With().Str("module", "orch").Str("room", string(room.ID)).Str("reason", reason).Logger()

	unlock := o.lockRoom(room.ID)
	defer unlock()

	if _, err := o.Rooms.Get(ctx, room.ID); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			logger.Debug().Msg("room already evicted")
		} else {
			logger.Error().Err(err).Msg("lookup room before eviction")
		}
		return
	}

	o.terminate(ctx, room.Handle())

	if err := o.Rooms.Delete(ctx, room.ID); err != nil {
		logger.Error().Err(err).Msg("delete room")
	}

	frame := encode(roomMessage{Type: MsgForcedDisconnection, Room: room.ID, Kind: room.Kind})
	notified := 0
	for _, id := range o.Hub.Drop(room.ID) {
		if id == skip {
			continue
		}
		if err := o.Hub.Send(id, frame); err != nil {
			logger.Debug().Err(err).Str("conn", string(id)).Msg("forced disconnection not delivered")
			continue
		}
		notified++
	}
	metrics.RoomsEvictedTotal.WithLabelValues(reason).Inc()
	logger.Info().Int("notified", notified).Msg("room evicted")
}

// terminate stops a workflow, handing failures to the reaper.
func (o *Orchestrator) terminate(ctx context.Context, h domain.WorkflowHandle) {
	err := o.Bridge.Terminate(ctx, h)
	if err == nil {
		return
	}
	logger := log.With().Str("module", "orch").Str("workflow", h.WorkflowID).Logger()
	if errors.Is(err, workflow.ErrEngineRejected) {
		logger.Warn().Err(err).Msg("terminate rejected, workflow already gone")
		return
	}
	if o.Reaper == nil {
		logger.Error().Err(err).Msg("terminate failed, no reaper configured")
		return
	}
	logger.Warn().Err(err).Msg("terminate failed, retrying out-of-band")
	o.Reaper.Enqueue(h)
}
