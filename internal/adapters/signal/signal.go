package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/app/orch"
	"github.com/dkeye/MusicRoom/internal/auth"
	"github.com/dkeye/MusicRoom/internal/core"
	"github.com/dkeye/MusicRoom/internal/domain"
)

var errConnClosed = errors.New("connection closed")

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *ActionRateLimiter
	opts    Options

	// pumps counts read pumps that have not finished their disconnect yet.
	pumps sync.WaitGroup
}

func NewSignalWSController(o *orch.Orchestrator, limiter *ActionRateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Limiter: limiter,
		opts:    opts.withDefaults(),
	}
}

// wsSignalConn is the core.SignalConnection of one websocket. Frames are
// queued on send and written by the write pump.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *wsSignalConn {
	return &wsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// session is what the pumps know about their connection.
type session struct {
	id     domain.ConnectionID
	user   domain.UserID
	device string
	conn   *wsSignalConn
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := domain.ParseUserID(c.GetString(auth.UserKey))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no identity"})
		return
	}

	// A fresh guest session cookie has to travel with the upgrade response.
	var header http.Header
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	s := &session{
		id:   domain.ConnectionID(uuid.NewString()),
		user: user,
		conn: newWsSignalConn(ws, ctl.opts.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)

	// The write pump must run before Connect so resync frames can drain.
	go ctl.writePump(ctx, s.conn)

	device, err := ctl.Orch.Connect(ctx, orch.ConnectRequest{
		ConnectionID: s.id,
		UserID:       user,
		DeviceName:   c.Query("device"),
		Conn:         s.conn,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(user)).Msg("connect")
		cancel()
		s.conn.Close()
		return
	}
	s.device = device.DeviceName
	log.Info().Str("module", "signal").Str("conn", string(s.id)).Str("user", string(user)).Msg("new WS connection")

	ctl.pumps.Add(1)
	go ctl.readPump(ctx, cancel, s)
}

// Drain waits until every read pump has disconnected its device. Pumps stop
// once the context given to HandleSignal is cancelled.
func (ctl *SignalWSController) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ctl.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
