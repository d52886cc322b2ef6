package orch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/MusicRoom/internal/app/broadcast"
	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/store"
	"github.com/dkeye/MusicRoom/internal/testutil"
	"github.com/dkeye/MusicRoom/internal/workflow"
	"github.com/dkeye/MusicRoom/internal/workflow/local"
)

// countingBridge records how often the lifecycle calls reach the engine.
type countingBridge struct {
	workflow.Bridge
	creates    atomic.Int32
	joins      atomic.Int32
	terminates atomic.Int32
}

func (b *countingBridge) Create(ctx context.Context, p workflow.CreateParams) (workflow.CreateResult, error) {
	b.creates.Add(1)
	return b.Bridge.Create(ctx, p)
}

func (b *countingBridge) Join(ctx context.Context, h workflow.Handle, user domain.UserID) error {
	b.joins.Add(1)
	return b.Bridge.Join(ctx, h, user)
}

func (b *countingBridge) Terminate(ctx context.Context, h workflow.Handle) error {
	b.terminates.Add(1)
	return b.Bridge.Terminate(ctx, h)
}

type fakeRetrier struct {
	mu      sync.Mutex
	handles []domain.WorkflowHandle
}

func (r *fakeRetrier) Enqueue(h domain.WorkflowHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, h)
	return true
}

func (r *fakeRetrier) Handles() []domain.WorkflowHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.WorkflowHandle(nil), r.handles...)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	orch   *Orchestrator
	store  *store.Store
	engine *local.Engine
	bridge *countingBridge
	reaper *fakeRetrier
	sinks  map[domain.ConnectionID]*testutil.Sink
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// newFixture wires the coordinator to a real store and the in-process engine.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := openStore(t)
	engine := local.New()
	bridge := &countingBridge{Bridge: engine}
	reaper := &fakeRetrier{}
	o := New(st.Devices(), st.Rooms(), bridge, broadcast.NewManager(broadcast.DropPolicy{}), reaper)
	engine.SetListener(o.OnWorkflowUpdate)
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		orch:   o,
		store:  st,
		engine: engine,
		bridge: bridge,
		reaper: reaper,
		sinks:  make(map[domain.ConnectionID]*testutil.Sink),
	}
}

// newMockFixture wires the coordinator to the given bridge.
func newMockFixture(t *testing.T, bridge workflow.Bridge) *fixture {
	t.Helper()
	st := openStore(t)
	reaper := &fakeRetrier{}
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		orch:   New(st.Devices(), st.Rooms(), bridge, broadcast.NewManager(broadcast.DropPolicy{}), reaper),
		store:  st,
		reaper: reaper,
		sinks:  make(map[domain.ConnectionID]*testutil.Sink),
	}
}

func (f *fixture) connect(conn, user string) *testutil.Sink {
	f.t.Helper()
	sink := testutil.NewSink()
	_, err := f.orch.Connect(f.ctx, ConnectRequest{
		ConnectionID: domain.ConnectionID(conn),
		UserID:       domain.UserID(user),
		DeviceName:   "device " + conn,
		Conn:         sink,
	})
	require.NoError(f.t, err)
	f.sinks[domain.ConnectionID(conn)] = sink
	return sink
}

func (f *fixture) disconnect(conn string) {
	f.t.Helper()
	require.NoError(f.t, f.orch.Disconnect(f.ctx, domain.ConnectionID(conn)))
}

func (f *fixture) createRoom(conn string) *domain.Room {
	f.t.Helper()
	room, err := f.orch.CreateRoom(f.ctx, domain.ConnectionID(conn), CreateRoomRequest{Name: "room of " + conn})
	require.NoError(f.t, err)
	return room
}

func (f *fixture) joinRoom(conn string, room domain.RoomID) {
	f.t.Helper()
	_, err := f.orch.JoinRoom(f.ctx, domain.ConnectionID(conn), room)
	require.NoError(f.t, err)
}

func (f *fixture) roomExists(id domain.RoomID) bool {
	f.t.Helper()
	_, err := f.store.Rooms().Get(f.ctx, id)
	if err != nil {
		require.ErrorIs(f.t, err, domain.ErrRoomNotFound)
		return false
	}
	return true
}

func (f *fixture) isMember(id domain.RoomID, user string) bool {
	f.t.Helper()
	ok, err := f.store.Rooms().IsMember(f.ctx, id, domain.UserID(user))
	require.NoError(f.t, err)
	return ok
}
