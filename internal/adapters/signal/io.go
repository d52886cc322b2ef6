package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

// readPump handles frames of one connection in order. Leaving it, for any
// reason, disconnects the device.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, s *session) {
	defer func() {
		defer ctl.pumps.Done()
		log.Info().Str("module", "signal").Str("conn", string(s.id)).Msg("readPump closing")
		cancel()
		s.conn.Close()
		if err := ctl.Orch.Disconnect(ctx, s.id); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("disconnect")
		}
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = s.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.conn.SetPongHandler(func(string) error {
		return s.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(s.id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := s.conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("readPump read error")
				}
				return
			}
			_ = s.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(ctx, s, data)
		}
	}
}

type envelope struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, s *session, data []byte) {
	var env envelope
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("conn", string(s.id)).Interface("panic", r).Str("type", env.Type).Msg("handler panicked")
			ctl.replyCode(s, env.Request, codeInternal)
		}
	}()

	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.replyCode(s, "", codeBadPayload)
		return
	}

	if mutating(env.Type) && ctl.Limiter != nil && !ctl.Limiter.Allow(s.user) {
		ctl.replyCode(s, env.Request, codeRateLimited)
		return
	}

	switch env.Type {
	case "create_room":
		ctl.handleCreateRoom(ctx, s, env, data)
	case "join_room":
		ctl.handleJoinRoom(ctx, s, env, data)
	case "leave_room":
		ctl.handleLeaveRoom(ctx, s, env, data)
	case "control":
		ctl.handleControl(ctx, s, env, data)
	case "get_context":
		ctl.handleGetContext(ctx, s, env, data)
	case "ping":
		ctl.sendJSON(s, map[string]string{"type": "pong"})
	case "whoami":
		ctl.handleWhoAmI(s)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.replyCode(s, env.Request, codeUnknownType)
	}
}

func mutating(msgType string) bool {
	switch msgType {
	case "create_room", "join_room", "leave_room", "control":
		return true
	}
	return false
}

func (ctl *SignalWSController) sendJSON(s *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := s.conn.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("reply dropped")
	}
}
