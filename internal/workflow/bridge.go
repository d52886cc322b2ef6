// Package workflow is the narrow client interface to the durable workflow
// engine that owns room business state. Nothing here interprets that state.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/MusicRoom/internal/domain"
)

var (
	ErrEngineUnavailable = errors.New("workflow engine unavailable")
	ErrEngineRejected    = errors.New("workflow engine rejected the call")
)

// Rejected wraps ErrEngineRejected with the engine's reason.
func Rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEngineRejected, fmt.Sprintf(format, args...))
}

// Unavailable wraps ErrEngineUnavailable with the underlying cause.
func Unavailable(cause error) error {
	return fmt.Errorf("%w: %v", ErrEngineUnavailable, cause)
}

type Handle = domain.WorkflowHandle

// State is the engine's opaque room state, relayed verbatim to clients.
type State = json.RawMessage

type CreateParams struct {
	RoomID    domain.RoomID
	Kind      domain.RoomKind
	Name      domain.RoomName
	CreatorID domain.UserID
	Options   json.RawMessage
}

type CreateResult struct {
	Handle Handle
	State  State
}

//go:generate mockgen -source=bridge.go -destination=mock_workflow/bridge_mock.go -package=mock_workflow

// Bridge translates coordinator intents into workflow engine calls.
// Every call may fail with ErrEngineUnavailable or ErrEngineRejected.
type Bridge interface {
	Create(ctx context.Context, params CreateParams) (CreateResult, error)
	Join(ctx context.Context, h Handle, user domain.UserID) error
	Terminate(ctx context.Context, h Handle) error
	// Signal is fire-and-forget from the coordinator's point of view.
	Signal(ctx context.Context, h Handle, name string, payload json.RawMessage) error
	Query(ctx context.Context, h Handle) (State, error)
}

// Update is a state change notification pushed by the engine.
type Update struct {
	Handle Handle
	State  State
}

// Listener receives engine notifications. It must not block for long.
type Listener func(Update)
