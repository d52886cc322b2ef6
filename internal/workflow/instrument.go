package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/metrics"
)

type instrumentedBridge struct{ next Bridge }

// Instrument records call counts and latency per operation.
func Instrument(next Bridge) Bridge { return &instrumentedBridge{next: next} }

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEngineRejected):
		return "rejected"
	case errors.Is(err, ErrEngineUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func observe(op string, start time.Time, err error) {
	metrics.BridgeCallsTotal.WithLabelValues(op, result(err)).Inc()
	metrics.BridgeCallDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (b *instrumentedBridge) Create(ctx context.Context, params CreateParams) (res CreateResult, err error) {
	defer func(start time.Time) { observe("create", start, err) }(time.Now())
	return b.next.Create(ctx, params)
}

func (b *instrumentedBridge) Join(ctx context.Context, h Handle, user domain.UserID) (err error) {
	defer func(start time.Time) { observe("join", start, err) }(time.Now())
	return b.next.Join(ctx, h, user)
}

func (b *instrumentedBridge) Terminate(ctx context.Context, h Handle) (err error) {
	defer func(start time.Time) { observe("terminate", start, err) }(time.Now())
	return b.next.Terminate(ctx, h)
}

func (b *instrumentedBridge) Signal(ctx context.Context, h Handle, name string, payload json.RawMessage) (err error) {
	defer func(start time.Time) { observe("signal", start, err) }(time.Now())
	return b.next.Signal(ctx, h, name, payload)
}

func (b *instrumentedBridge) Query(ctx context.Context, h Handle) (st State, err error) {
	defer func(start time.Time) { observe("query", start, err) }(time.Now())
	return b.next.Query(ctx, h)
}
