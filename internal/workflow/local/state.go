package local

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/MusicRoom/internal/domain"
)

type track struct {
	ID          string        `json:"trackId"`
	Votes       int           `json:"votes"`
	SuggestedBy domain.UserID `json:"suggestedBy,omitempty"`
}

// roomState is what the in-process engine reports from Query.
type roomState struct {
	RoomID  domain.RoomID   `json:"roomId"`
	Kind    domain.RoomKind `json:"kind"`
	Name    domain.RoomName `json:"name"`
	Creator domain.UserID   `json:"creator"`
	Members []domain.UserID `json:"members"`
	Playing bool            `json:"playing"`
	Tracks  []track         `json:"tracks"`
	Options json.RawMessage `json:"options,omitempty"`
	Version int             `json:"version"`
}

func (s *roomState) hasMember(user domain.UserID) bool {
	for _, m := range s.Members {
		if m == user {
			return true
		}
	}
	return false
}

func (s *roomState) removeMember(user domain.UserID) bool {
	for i, m := range s.Members {
		if m == user {
			s.Members = append(s.Members[:i], s.Members[i+1:]...)
			return true
		}
	}
	return false
}

func (s *roomState) track(id string) *track {
	for i := range s.Tracks {
		if s.Tracks[i].ID == id {
			return &s.Tracks[i]
		}
	}
	return nil
}

type trackPayload struct {
	TrackID string        `json:"trackId"`
	UserID  domain.UserID `json:"userId,omitempty"`
}

type userPayload struct {
	UserID domain.UserID `json:"userId"`
}

// apply runs one signal against the state. The returned error is the
// rejection reason.
func (s *roomState) apply(name string, payload json.RawMessage) error {
	switch name {
	case "play":
		s.Playing = true
	case "pause":
		s.Playing = false
	case "suggest":
		var p trackPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.TrackID == "" {
			return fmt.Errorf("suggest: bad payload")
		}
		if s.track(p.TrackID) == nil {
			s.Tracks = append(s.Tracks, track{ID: p.TrackID, SuggestedBy: p.UserID})
		}
	case "vote":
		var p trackPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.TrackID == "" {
			return fmt.Errorf("vote: bad payload")
		}
		t := s.track(p.TrackID)
		if t == nil {
			return fmt.Errorf("vote: unknown track %q", p.TrackID)
		}
		t.Votes++
	case "leave":
		var p userPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
			return fmt.Errorf("leave: bad payload")
		}
		s.removeMember(p.UserID)
	default:
		return fmt.Errorf("unknown signal %q", name)
	}
	s.Version++
	return nil
}
