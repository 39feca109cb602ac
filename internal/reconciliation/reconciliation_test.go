package reconciliation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/customsdesk/internal/ledger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReconciler struct {
	calls atomic.Int32
	drift []ledger.Drift
	err   error
	panic bool
}

func (f *fakeReconciler) Reconcile(context.Context, ...ledger.Scope) ([]ledger.Drift, error) {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	return f.drift, f.err
}

func TestRunner_RecordsReport(t *testing.T) {
	f := &fakeReconciler{drift: []ledger.Drift{{Scope: ledger.UserScope("u1"), Cached: 9, Actual: 4}}}
	r := NewRunner(f, quietLogger())
	assert.Nil(t, r.Last())

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Drift, 1)
	assert.Same(t, rep, r.Last())
	assert.Equal(t, float64(1), testutil.ToFloat64(driftedScopes))
}

func TestRunner_FailureKeepsPreviousReport(t *testing.T) {
	f := &fakeReconciler{}
	r := NewRunner(f, quietLogger())
	first, err := r.Run(context.Background())
	require.NoError(t, err)

	before := testutil.ToFloat64(runErrors)
	f.err = errors.New("db down")
	_, err = r.Run(context.Background())
	assert.Error(t, err)
	assert.Same(t, first, r.Last())
	assert.Equal(t, before+1, testutil.ToFloat64(runErrors))
}

func TestTimer_RunsUntilStopped(t *testing.T) {
	f := &fakeReconciler{}
	timer := NewTimer(NewRunner(f, quietLogger()), 5*time.Millisecond, quietLogger())

	done := make(chan struct{})
	go func() {
		timer.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, time.Second, time.Millisecond)
	assert.True(t, timer.Running())

	timer.Stop()
	timer.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
	assert.False(t, timer.Running())
}

func TestTimer_SurvivesPanicAndHonoursContext(t *testing.T) {
	f := &fakeReconciler{panic: true}
	timer := NewTimer(NewRunner(f, quietLogger()), 5*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer ignored cancellation")
	}
}

func TestNewTimer_DefaultInterval(t *testing.T) {
	timer := NewTimer(NewRunner(&fakeReconciler{}, nil), 0, nil)
	assert.Equal(t, DefaultInterval, timer.interval)
}
