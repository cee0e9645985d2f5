package migrate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPool_RejectsWhenSaturated(t *testing.T) {
	defer goleak.VerifyNone(t)

	recorder := newCountingRecorder()
	pool := NewPool("node_copy", 2, recorder)
	pool.Start(context.Background())
	defer pool.Stop()

	release := make(chan struct{})
	for range 2 {
		require.True(t, pool.Submit(func(context.Context) { <-release }))
	}
	assert.False(t, pool.Submit(func(context.Context) {}), "no queue behind busy slots")
	assert.Equal(t, 1, recorder.count(recorder.rejections, "node_copy"))

	close(release)
	pool.Wait()
	assert.True(t, pool.Submit(func(context.Context) {}), "slots are reusable")
	pool.Wait()
}

func TestPool_StopCancelsAndWaits(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewPool("dispatch", 1, nil)
	pool.Start(context.Background())

	var cancelled atomic.Bool
	started := make(chan struct{})
	require.True(t, pool.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}))
	<-started

	pool.Stop()
	assert.True(t, cancelled.Load())
	assert.False(t, pool.Submit(func(context.Context) {}), "stopped pool accepts nothing")
}

func TestPool_NotStarted(t *testing.T) {
	pool := NewPool("dispatch", 0, nil)
	assert.Equal(t, 1, pool.Size(), "size is at least one")
	assert.False(t, pool.Submit(func(context.Context) {}))
	pool.Stop()
}

func TestPool_RestartAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewPool("dispatch", 1, nil)
	pool.Start(context.Background())
	pool.Stop()
	pool.Start(context.Background())
	defer pool.Stop()

	done := make(chan struct{})
	require.True(t, pool.Submit(func(context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submitted work did not run")
	}
}
