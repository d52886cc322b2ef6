package signal

import "github.com/dkeye/MusicRoom/internal/domain"

func (ctl *SignalWSController) handleWhoAmI(s *session) {
	resp := struct {
		Type       string              `json:"type"`
		User       domain.UserID       `json:"user"`
		Connection domain.ConnectionID `json:"connection"`
		Device     string              `json:"device"`
	}{
		Type:       "whoami",
		User:       s.user,
		Connection: s.id,
		Device:     s.device,
	}
	ctl.sendJSON(s, resp)
}
