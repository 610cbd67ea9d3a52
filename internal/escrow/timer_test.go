package escrow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.open(t, "bk-due", "1000")
	f.open(t, "bk-disputed", "500")
	_, err := f.svc.OpenDispute(ctx, "bk-disputed", DisputeRequest{RaisedBy: "guest-1", Reason: "damage"})
	require.NoError(t, err)

	later := openReq("bk-later", "300")
	later.CheckIn = checkIn.Add(30 * 24 * time.Hour)
	later.CheckOut = later.CheckIn.Add(48 * time.Hour)
	_, err = f.svc.Open(ctx, later)
	require.NoError(t, err)

	timer := NewTimer(f.svc, f.store, time.Minute, slog.Default())
	assert.Equal(t, 0, timer.sweep(ctx))

	f.clock.Set(due.ReleaseAfter)
	assert.Equal(t, 2, timer.sweep(ctx))

	got, err := f.svc.Get(ctx, "bk-due")
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, got.Status)

	disputed, err := f.svc.Get(ctx, "bk-disputed")
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, disputed.Status)
	assert.True(t, disputed.Conditions.TimeoutReached)

	pending, err := f.svc.Get(ctx, "bk-later")
	require.NoError(t, err)
	assert.False(t, pending.Conditions.TimeoutReached)

	// Recorded timeouts are not picked up again.
	assert.Equal(t, 0, timer.sweep(ctx))
}

func TestTimer_StartStop(t *testing.T) {
	f := newFixture(t)
	timer := NewTimer(f.svc, f.store, 10*time.Millisecond, slog.Default())

	done := make(chan struct{})
	go func() {
		timer.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, timer.Running, time.Second, 5*time.Millisecond)
	timer.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
	assert.False(t, timer.Running())
}
