package timerwheel

import (
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

func TestCheckWakesOnlyDueEntries(t *testing.T) {
	cfg := kconfig.Default()
	pool := kstack.NewPool(cfg)
	s := sched.New()
	w := New(s)

	early := newTestThread(t, pool, 1)
	late := newTestThread(t, pool, 2)
	w.Add(100, early)
	w.Add(200, late)
	require.Equal(t, 2, w.Len())

	woken := w.Check(150)
	assert.ElementsMatch(t, []*task.Thread{early}, woken)
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 1, s.ReadyLen(), "the due thread should have been enqueued by Check")

	woken = w.Check(200)
	assert.ElementsMatch(t, []*task.Thread{late}, woken)
	assert.Equal(t, 0, w.Len())
}

func TestRemoveDropsPendingWakeup(t *testing.T) {
	cfg := kconfig.Default()
	pool := kstack.NewPool(cfg)
	s := sched.New()
	w := New(s)

	th := newTestThread(t, pool, 1)
	w.Add(100, th)
	require.True(t, w.Remove(th))
	assert.False(t, w.Remove(th), "a second Remove of the same thread should report no entry found")
	assert.Empty(t, w.Check(1000))
}

func TestCheckOrdersByDeadlineAcrossManyEntries(t *testing.T) {
	cfg := kconfig.Default()
	pool := kstack.NewPool(cfg)
	s := sched.New()
	w := New(s)

	deadlines := []int64{50, 10, 30, 20, 40}
	threads := make(map[*task.Thread]int64)
	for i, d := range deadlines {
		th := newTestThread(t, pool, defs.Pid_t(i))
		threads[th] = d
		w.Add(d, th)
	}

	woken := w.Check(25)
	got := make([]int64, 0, len(woken))
	for _, th := range woken {
		assert.LessOrEqual(t, threads[th], int64(25))
		got = append(got, threads[th])
	}
	assert.Equal(t, 2, len(woken))
	assert.Equal(t, []int64{10, 20}, got)
}
