package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/workflow"
)

// Error codes sent to clients in error{request,error}.
const (
	codeEngineUnavailable = "engine_unavailable"
	codeEngineRejected    = "engine_rejected"
	codeNotAMember        = "not_a_member"
	codeRoomNotFound      = "room_not_found"
	codeConnectionGone    = "connection_gone"
	codeInvalidAction     = "invalid_action"
	codeBadPayload        = "bad_payload"
	codeRateLimited       = "rate_limited"
	codeUnknownType       = "unknown_type"
	codeInternal          = "internal"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, workflow.ErrEngineUnavailable):
		return codeEngineUnavailable
	case errors.Is(err, workflow.ErrEngineRejected):
		return codeEngineRejected
	case errors.Is(err, domain.ErrNotAMember):
		return codeNotAMember
	case errors.Is(err, domain.ErrRoomNotFound):
		return codeRoomNotFound
	case errors.Is(err, domain.ErrConnectionGone):
		return codeConnectionGone
	case errors.Is(err, domain.ErrInvalidAction):
		return codeInvalidAction
	case errors.Is(err, domain.ErrRoomNameEmpty),
		errors.Is(err, domain.ErrRoomNameTooLong),
		errors.Is(err, domain.ErrUnknownRoomKind):
		return codeBadPayload
	default:
		return codeInternal
	}
}

type ackMessage struct {
	Type    string        `json:"type"`
	Request string        `json:"request,omitempty"`
	Room    domain.RoomID `json:"room,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Error   string `json:"error"`
}

func (ctl *SignalWSController) ack(s *session, request string, room domain.RoomID) {
	ctl.sendJSON(s, ackMessage{Type: "ack", Request: request, Room: room})
}

func (ctl *SignalWSController) replyCode(s *session, request, code string) {
	ctl.sendJSON(s, errorMessage{Type: "error", Request: request, Error: code})
}

// reply acks a successful request or reports its error code.
func (ctl *SignalWSController) reply(s *session, env envelope, room domain.RoomID, err error) {
	if err == nil {
		ctl.ack(s, env.Request, room)
		return
	}
	code := errorCode(err)
	ev := log.Warn()
	if code == codeInternal {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "signal").Str("conn", string(s.id)).Str("type", env.Type).Str("code", code).Msg("request failed")
	ctl.replyCode(s, env.Request, code)
}
