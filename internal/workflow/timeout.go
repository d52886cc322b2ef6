package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/MusicRoom/internal/domain"
)

type timeoutBridge struct {
	next    Bridge
	timeout time.Duration
}

// WithTimeout bounds every call to next. A call that runs out of time fails
// with ErrEngineUnavailable.
func WithTimeout(next Bridge, d time.Duration) Bridge {
	if d <= 0 {
		return next
	}
	return &timeoutBridge{next: next, timeout: d}
}

func (b *timeoutBridge) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrEngineUnavailable) {
		return Unavailable(err)
	}
	return err
}

func (b *timeoutBridge) Create(ctx context.Context, params CreateParams) (CreateResult, error) {
	var res CreateResult
	err := b.call(ctx, func(ctx context.Context) error {
		var err error
		res, err = b.next.Create(ctx, params)
		return err
	})
	return res, err
}

func (b *timeoutBridge) Join(ctx context.Context, h Handle, user domain.UserID) error {
	return b.call(ctx, func(ctx context.Context) error { return b.next.Join(ctx, h, user) })
}

func (b *timeoutBridge) Terminate(ctx context.Context, h Handle) error {
	return b.call(ctx, func(ctx context.Context) error { return b.next.Terminate(ctx, h) })
}

func (b *timeoutBridge) Signal(ctx context.Context, h Handle, name string, payload json.RawMessage) error {
	return b.call(ctx, func(ctx context.Context) error { return b.next.Signal(ctx, h, name, payload) })
}

func (b *timeoutBridge) Query(ctx context.Context, h Handle) (State, error) {
	var st State
	err := b.call(ctx, func(ctx context.Context) error {
		var err error
		st, err = b.next.Query(ctx, h)
		return err
	})
	return st, err
}
