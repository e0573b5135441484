package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoolConfig() Config {
	cfg := DefaultConfig()
	cfg.NumWorkers = 2
	cfg.QueueSize = 4
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.NumWorkers = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.QueueSize = 0
	assert.Error(t, bad.Validate())

	cc := DefaultCompactorConfig()
	require.NoError(t, cc.Validate())
	cc.Keep = cc.Threshold
	assert.Error(t, cc.Validate())
}

func TestTaskPool_RunsTasks(t *testing.T) {
	p, err := NewTaskPool(testPoolConfig())
	require.NoError(t, err)
	p.Start()

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		ok := p.Submit(Task{Name: "count", Run: func(context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
			return nil
		}})
		require.True(t, ok)
	}
	wg.Wait()
	assert.Equal(t, int32(3), atomic.LoadInt32(&ran))
	require.NoError(t, p.Stop(context.Background()))
}

func TestTaskPool_FailuresAndPanicsDoNotKillWorkers(t *testing.T) {
	cfg := testPoolConfig()
	cfg.NumWorkers = 1
	p, err := NewTaskPool(cfg)
	require.NoError(t, err)
	p.Start()

	done := make(chan struct{})
	p.Submit(Task{Name: "fail", Run: func(context.Context) error { return errors.New("nope") }})
	p.Submit(Task{Name: "panic", Run: func(context.Context) error { panic("boom") }})
	p.Submit(Task{Name: "after", Run: func(context.Context) error { close(done); return nil }})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive a failing task")
	}
	require.NoError(t, p.Stop(context.Background()))
}

func TestTaskPool_FullQueueDrops(t *testing.T) {
	cfg := testPoolConfig()
	cfg.NumWorkers = 1
	cfg.QueueSize = 1
	p, err := NewTaskPool(cfg)
	require.NoError(t, err)
	p.Start()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit(Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started

	require.True(t, p.Submit(Task{Name: "queued", Run: func(context.Context) error { return nil }}))
	assert.False(t, p.Submit(Task{Name: "dropped", Run: func(context.Context) error { return nil }}))

	close(block)
	require.NoError(t, p.Stop(context.Background()))
}

func TestTaskPool_SubmitAfterStop(t *testing.T) {
	p, err := NewTaskPool(testPoolConfig())
	require.NoError(t, err)
	p.Start()
	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()), "stop is idempotent")

	assert.False(t, p.Submit(Task{Name: "late", Run: func(context.Context) error { return nil }}))
}

func TestTaskPool_StopDrainsQueue(t *testing.T) {
	p, err := NewTaskPool(testPoolConfig())
	require.NoError(t, err)

	var ran int32
	for i := 0; i < 4; i++ {
		p.Submit(Task{Name: "drain", Run: func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}})
	}
	p.Start()
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(4), atomic.LoadInt32(&ran))
}
