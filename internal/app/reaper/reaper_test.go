package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/metrics"
	"github.com/dkeye/MusicRoom/internal/workflow"
	"github.com/dkeye/MusicRoom/internal/workflow/mock_workflow"
)

var h = domain.WorkflowHandle{WorkflowID: "wf-1", RunID: "run-1"}

func startReaper(t *testing.T, r *Reaper) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestReaper_RetriesUntilSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	bridge := mock_workflow.NewMockBridge(ctrl)
	succeeded := make(chan struct{})
	gomock.InOrder(
		bridge.EXPECT().Terminate(gomock.Any(), h).Return(workflow.Unavailable(context.DeadlineExceeded)).Times(2),
		bridge.EXPECT().Terminate(gomock.Any(), h).DoAndReturn(func(context.Context, domain.WorkflowHandle) error {
			close(succeeded)
			return nil
		}),
	)

	before := testutil.ToFloat64(metrics.TerminateRetriesTotal.WithLabelValues("ok"))
	r := New(bridge, Config{InitialInterval: time.Millisecond, MaxElapsed: 5 * time.Second})
	startReaper(t, r)
	assert.True(t, r.Enqueue(h))

	select {
	case <-succeeded:
	case <-time.After(5 * time.Second):
		t.Fatal("terminate was not retried")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.TerminateRetriesTotal.WithLabelValues("ok")) == before+1
	}, time.Second, 5*time.Millisecond)
}

func TestReaper_RejectionIsPermanent(t *testing.T) {
	ctrl := gomock.NewController(t)
	bridge := mock_workflow.NewMockBridge(ctrl)
	called := make(chan struct{})
	bridge.EXPECT().Terminate(gomock.Any(), h).DoAndReturn(func(context.Context, domain.WorkflowHandle) error {
		close(called)
		return workflow.Rejected("workflow %s not found", h.WorkflowID)
	}).Times(1)

	before := testutil.ToFloat64(metrics.TerminateRetriesTotal.WithLabelValues("rejected"))
	r := New(bridge, Config{InitialInterval: time.Millisecond})
	startReaper(t, r)
	r.Enqueue(h)

	<-called
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.TerminateRetriesTotal.WithLabelValues("rejected")) == before+1
	}, time.Second, 5*time.Millisecond)
}

func TestReaper_EnqueueNeverBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := New(mock_workflow.NewMockBridge(ctrl), Config{QueueSize: 1})
	assert.True(t, r.Enqueue(h))
	assert.False(t, r.Enqueue(h))
}
