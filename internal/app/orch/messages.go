package orch

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/core"
	"github.com/dkeye/MusicRoom/internal/domain"
)

// Outbound message types.
const (
	MsgRetrieveContext     = "retrieve_context"
	MsgForcedDisconnection = "forced_disconnection"
	MsgStateUpdate         = "state_update"
)

type roomMessage struct {
	Type  string          `json:"type"`
	Room  domain.RoomID   `json:"room"`
	Kind  domain.RoomKind `json:"kind,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}

func encode(msg roomMessage) core.Frame {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", msg.Type).Msg("encode message")
		return nil
	}
	return b
}

func contextFrame(room *domain.Room, state json.RawMessage) core.Frame {
	return encode(roomMessage{Type: MsgRetrieveContext, Room: room.ID, Kind: room.Kind, State: state})
}
