package kernel

import (
	"context"
	"testing"

	"cellrun/internal/kernel/kerneltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(10, nil)
	if mgr == nil {
		t.Fatal("expected non-nil manager")
	}
	assert.Empty(t, mgr.List())
}

func TestManager_GetNotFound(t *testing.T) {
	mgr := NewManager(10, nil)
	_, err := mgr.Get("nonexistent")
	assert.Error(t, err)
}

func TestManager_TracksAndShutsDown(t *testing.T) {
	srv := kerneltest.New(testToken, nil)
	defer srv.Close()

	mgr := NewManager(10, nil)
	c := newTestClient(Options{Manager: mgr})
	ctx := runCtx(t)

	a, err := c.StartSession(ctx, mustInfo(t, srv))
	require.NoError(t, err)
	b, err := c.StartSession(ctx, mustInfo(t, srv))
	require.NoError(t, err)

	list := mgr.List()
	require.Len(t, list, 2)
	assert.Equal(t, StateActive, list[0].State)

	got, err := mgr.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.KernelID, got.KernelID)

	mgr.Shutdown(context.Background())
	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, 2, srv.Deleted())
	assert.Equal(t, StateTerminated, b.Info().State)
}

func TestManager_MaxSessionsLimit(t *testing.T) {
	srv := kerneltest.New(testToken, nil)
	defer srv.Close()

	mgr := NewManager(1, nil)
	c := newTestClient(Options{Manager: mgr})
	ctx := runCtx(t)

	first, err := c.StartSession(ctx, mustInfo(t, srv))
	require.NoError(t, err)
	defer first.Shutdown(ctx)

	_, err = c.StartSession(ctx, mustInfo(t, srv))
	assert.ErrorIs(t, err, ErrMaxSessions)
	assert.Equal(t, 1, srv.Live(), "rejected session must be deleted server-side")
}

func TestManager_ShutdownSessionNotStarted(t *testing.T) {
	srv := kerneltest.New(testToken, nil)
	defer srv.Close()

	mgr := NewManager(10, nil)
	c := newTestClient(Options{Manager: mgr})

	sess := newSession(c, mustInfo(t, srv), "never-started", "kernel-0")
	require.NoError(t, mgr.add(sess))
	assert.Equal(t, StateStarting, sess.Info().State)

	assert.NotPanics(t, func() { mgr.Shutdown(context.Background()) })
	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, StateTerminated, sess.Info().State)

	_, err := sess.Execute(context.Background(), "1", nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
