package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/app/orch"
	"github.com/dkeye/MusicRoom/internal/domain"
)

type roomPayload struct {
	Room domain.RoomID `json:"room"`
}

func (ctl *SignalWSController) decode(s *session, env envelope, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", env.Type).Msg("bad payload")
		ctl.replyCode(s, env.Request, codeBadPayload)
		return false
	}
	return true
}

func (ctl *SignalWSController) roomOf(s *session, env envelope, data []byte) (domain.RoomID, bool) {
	var p roomPayload
	if !ctl.decode(s, env, data, &p) {
		return "", false
	}
	if p.Room == "" {
		ctl.replyCode(s, env.Request, codeBadPayload)
		return "", false
	}
	return p.Room, true
}

func (ctl *SignalWSController) handleCreateRoom(ctx context.Context, s *session, env envelope, data []byte) {
	var p struct {
		Name    string          `json:"name"`
		Kind    string          `json:"kind"`
		Options json.RawMessage `json:"options,omitempty"`
	}
	if !ctl.decode(s, env, data, &p) {
		return
	}
	room, err := ctl.Orch.CreateRoom(ctx, s.id, orch.CreateRoomRequest{Name: p.Name, Kind: p.Kind, Options: p.Options})
	if err != nil {
		ctl.reply(s, env, "", err)
		return
	}
	ctl.reply(s, env, room.ID, nil)
}

func (ctl *SignalWSController) handleJoinRoom(ctx context.Context, s *session, env envelope, data []byte) {
	roomID, ok := ctl.roomOf(s, env, data)
	if !ok {
		return
	}
	_, err := ctl.Orch.JoinRoom(ctx, s.id, roomID)
	ctl.reply(s, env, roomID, err)
}

// handleLeaveRoom leaves a room while the connection stays open.
func (ctl *SignalWSController) handleLeaveRoom(ctx context.Context, s *session, env envelope, data []byte) {
	roomID, ok := ctl.roomOf(s, env, data)
	if !ok {
		return
	}
	ctl.reply(s, env, roomID, ctl.Orch.LeaveRoom(ctx, s.id, roomID))
}

func (ctl *SignalWSController) handleControl(ctx context.Context, s *session, env envelope, data []byte) {
	var p struct {
		Room    domain.RoomID   `json:"room"`
		Action  string          `json:"action"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if !ctl.decode(s, env, data, &p) {
		return
	}
	ctl.reply(s, env, p.Room, ctl.Orch.ControlAction(ctx, s.id, p.Room, p.Action, p.Payload))
}

func (ctl *SignalWSController) handleGetContext(ctx context.Context, s *session, env envelope, data []byte) {
	roomID, ok := ctl.roomOf(s, env, data)
	if !ok {
		return
	}
	ctl.reply(s, env, roomID, ctl.Orch.GetContext(ctx, s.id, roomID))
}
