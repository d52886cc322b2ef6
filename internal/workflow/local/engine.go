// Package local is an in-process workflow engine for single node deployments
// and tests. State lives in memory and dies with the process.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/workflow"
)

var errClosed = errors.New("engine closed")

type run struct {
	runID string
	state roomState
}

// Engine implements workflow.Bridge.
type Engine struct {
	mu       sync.Mutex
	runs     map[string]*run
	listener workflow.Listener
	closed   bool
}

func New() *Engine {
	return &Engine{runs: make(map[string]*run)}
}

// SetListener installs the receiver of state change notifications.
func (e *Engine) SetListener(l workflow.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// Close makes every further call fail with ErrEngineUnavailable.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Running reports whether a workflow is alive.
func (e *Engine) Running(workflowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[workflowID]
	return ok
}

func (e *Engine) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return workflow.Unavailable(err)
	}
	if e.closed {
		return workflow.Unavailable(errClosed)
	}
	return nil
}

func (e *Engine) lookup(h workflow.Handle) (*run, error) {
	r, ok := e.runs[h.WorkflowID]
	if !ok || (h.RunID != "" && r.runID != h.RunID) {
		return nil, workflow.Rejected("workflow %s not found", h.WorkflowID)
	}
	return r, nil
}

func (e *Engine) emit(l workflow.Listener, h workflow.Handle, st workflow.State) {
	if l == nil {
		return
	}
	l(workflow.Update{Handle: h, State: st})
}

func (e *Engine) Create(ctx context.Context, p workflow.CreateParams) (workflow.CreateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(ctx); err != nil {
		return workflow.CreateResult{}, err
	}
	wid := string(p.RoomID)
	if wid == "" {
		wid = uuid.NewString()
	}
	if _, exists := e.runs[wid]; exists {
		return workflow.CreateResult{}, workflow.Rejected("workflow %s already running", wid)
	}
	r := &run{
		runID: uuid.NewString(),
		state: roomState{
			RoomID:  p.RoomID,
			Kind:    p.Kind,
			Name:    p.Name,
			Creator: p.CreatorID,
			Members: []domain.UserID{p.CreatorID},
			Tracks:  []track{},
			Options: p.Options,
		},
	}
	st, err := json.Marshal(r.state)
	if err != nil {
		return workflow.CreateResult{}, workflow.Rejected("encode state: %v", err)
	}
	e.runs[wid] = r
	log.Debug().Str("module", "workflow.local").Str("workflow", wid).Msg("workflow started")
	return workflow.CreateResult{
		Handle: workflow.Handle{WorkflowID: wid, RunID: r.runID},
		State:  st,
	}, nil
}

func (e *Engine) Join(ctx context.Context, h workflow.Handle, user domain.UserID) error {
	e.mu.Lock()
	if err := e.guard(ctx); err != nil {
		e.mu.Unlock()
		return err
	}
	r, err := e.lookup(h)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !r.state.hasMember(user) {
		r.state.Members = append(r.state.Members, user)
		r.state.Version++
	}
	st, _ := json.Marshal(r.state)
	l := e.listener
	e.mu.Unlock()

	e.emit(l, h, st)
	return nil
}

func (e *Engine) Terminate(ctx context.Context, h workflow.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(ctx); err != nil {
		return err
	}
	if _, err := e.lookup(h); err != nil {
		return err
	}
	delete(e.runs, h.WorkflowID)
	log.Debug().Str("module", "workflow.local").Str("workflow", h.WorkflowID).Msg("workflow terminated")
	return nil
}

func (e *Engine) Signal(ctx context.Context, h workflow.Handle, name string, payload json.RawMessage) error {
	e.mu.Lock()
	if err := e.guard(ctx); err != nil {
		e.mu.Unlock()
		return err
	}
	r, err := e.lookup(h)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if err := r.state.apply(name, payload); err != nil {
		e.mu.Unlock()
		return workflow.Rejected("%v", err)
	}
	st, _ := json.Marshal(r.state)
	l := e.listener
	e.mu.Unlock()

	e.emit(l, h, st)
	return nil
}

func (e *Engine) Query(ctx context.Context, h workflow.Handle) (workflow.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	r, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	st, err := json.Marshal(r.state)
	if err != nil {
		return nil, workflow.Rejected("encode state: %v", err)
	}
	return st, nil
}
