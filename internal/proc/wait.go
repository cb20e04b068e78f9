package proc

import "github.com/teaching-os/rvkernel/internal/defs"

// Waitpid implements spec.md §4.7/§6 syscall 260: pid == -1 waits for any
// child, pid >= 0 waits for that specific child. Returns (-1, _) if no
// matching child exists, (-2, _) if matching children exist but none are
// zombies yet, or (child_pid, exit_code) for a reaped zombie. A reaped
// child is removed from the children list and from the process registry.
func (p *Process) Waitpid(pid defs.Pid_t) (defs.Pid_t, int) {
	p.mu.Lock()
	found := false
	zombieIdx := -1
	for i, c := range p.children {
		if pid != -1 && c.Pid() != pid {
			continue
		}
		found = true
		if c.IsZombie() {
			zombieIdx = i
			break
		}
	}
	if zombieIdx < 0 {
		p.mu.Unlock()
		if !found {
			return -1, 0
		}
		return -2, 0
	}
	child := p.children[zombieIdx]
	p.children = append(p.children[:zombieIdx], p.children[zombieIdx+1:]...)
	p.mu.Unlock()

	p.res.Registry.Remove(child.Pid())
	p.res.Pids.Free(int(child.Pid()))
	return child.Pid(), child.ExitCode()
}

// Waittid implements spec.md §4.7/§6 syscall 1002: tid == -1 means "wait for
// the process's only remaining thread other than self" is not special-cased
// here (callers pass a concrete tid, per the original's sys_waittid, which
// rejects waiting on tid 0 or on the caller's own tid). Returns -1 if tid
// does not name a thread of this process, -2 if it is still running, or its
// exit code once it has exited. A reaped thread's slot is cleared.
func (p *Process) Waittid(tid defs.Tid_t) int {
	p.mu.Lock()
	if int(tid) < 0 || int(tid) >= len(p.threads) || p.threads[tid] == nil {
		p.mu.Unlock()
		return -1
	}
	th := p.threads[tid]
	p.mu.Unlock()

	code, exited := th.ExitCode()
	if !exited {
		return -2
	}

	p.mu.Lock()
	p.threads[tid] = nil
	p.mu.Unlock()
	return code
}
