package ksync

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/kconfig"
	"github.com/teaching-os/rvkernel/internal/kstack"
	"github.com/teaching-os/rvkernel/internal/sched"
	"github.com/teaching-os/rvkernel/internal/task"
)

type fakeProc struct{ pid defs.Pid_t }

func (f fakeProc) Pid() defs.Pid_t { return f.pid }

func newTestThread(t *testing.T, pool *kstack.Pool, pid defs.Pid_t) *task.Thread {
	t.Helper()
	stack, err := pool.Alloc()
	require.NoError(t, err)
	return task.New(fakeProc{pid: pid}, stack, task.UserResources{}, nil)
}

func TestSpinMutexExcludesConcurrentAccess(t *testing.T) {
	m := &SpinMutex{}
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock()
			counter++
			m.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestSemaphoreUpThenDownDoesNotBlock(t *testing.T) {
	s := sched.New()
	pool := kstack.NewPool(kconfig.Default())
	sem := NewSemaphore(s, 0)
	th := newTestThread(t, pool, 1)

	sem.Up()
	assert.Equal(t, 1, sem.Count())

	done := make(chan struct{})
	go func() {
		sem.Down(th)
		close(done)
	}()
	select {
	case <-done:
	case <-afterShortPoll():
		t.Fatal("Down should not have blocked once Up had incremented the count")
	}
	assert.Equal(t, 0, sem.Count())
}

func TestSemaphoreDownBlocksUntilUp(t *testing.T) {
	s := sched.New()
	pool := kstack.NewPool(kconfig.Default())
	sem := NewSemaphore(s, 0)
	th := newTestThread(t, pool, 1)

	stop := make(chan struct{})
	go s.Run(stop)
	defer close(stop)

	woke := make(chan struct{})
	go func() {
		sem.Down(th)
		close(woke)
	}()

	// give Down a chance to register and block before Up is called
	for i := 0; i < 100; i++ {
		runtime.Gosched()
	}
	select {
	case <-woke:
		t.Fatal("Down should block while the semaphore count is zero")
	default:
	}

	sem.Up() // re-enqueues th; the running idle loop dispatches it
	<-woke
}

func afterShortPoll() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			runtime.Gosched()
		}
		close(ch)
	}()
	return ch
}
