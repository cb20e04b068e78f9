package proc

import (
	"fmt"
	"sync"

	"github.com/teaching-os/rvkernel/internal/addrspace"
	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/fd"
	"github.com/teaching-os/rvkernel/internal/frame"
	"github.com/teaching-os/rvkernel/internal/fs"
	"github.com/teaching-os/rvkernel/internal/idalloc"
	"github.com/teaching-os/rvkernel/internal/kconfig"
	"github.com/teaching-os/rvkernel/internal/ksync"
	"github.com/teaching-os/rvkernel/internal/kstack"
	"github.com/teaching-os/rvkernel/internal/sched"
	"github.com/teaching-os/rvkernel/internal/task"
	"github.com/teaching-os/rvkernel/internal/timerwheel"
	"github.com/teaching-os/rvkernel/internal/trapframe"
)

// Resources groups the services every process needs to reach in order to
// build threads: the frame allocator, the kernel address space (whose
// token every trap context carries), the kernel-stack pool, the scheduler,
// the pid allocator, the process registry, and the boot-time tunables.
// It plays the role of the teacher's global singletons (spec.md §9) without
// this package importing a top-level "kernel" package, avoiding an import
// cycle with the orchestrator that in turn constructs Processes.
type Resources struct {
	Frames   *frame.Allocator
	KernelAS *addrspace.AddressSpace
	Kstacks  *kstack.Pool
	Sched    *sched.Scheduler
	Timers   *timerwheel.Wheel
	Pids     *idalloc.Allocator
	Registry *Registry
	Cfg      kconfig.Config
	FS       *fs.FileSystem
}

// Process is the container of threads described by spec.md §3/§4.7.
type Process struct {
	mu sync.Mutex

	pid      defs.Pid_t
	as       *addrspace.AddressSpace
	parent   *Process
	children []*Process
	isZombie bool
	exitCode int

	Fds *fd.Table
	Cwd *fd.Cwd_t

	signals defs.Signal_t

	threads []*task.Thread
	tids    *idalloc.Allocator

	mutexes  map[int]mutexHandle
	sems     map[int]*ksync.Semaphore
	condvars map[int]*ksync.CondVar
	kobjIDs  *idalloc.Allocator

	res *Resources
}

// Pid returns the process id, satisfying task.ProcessRef.
func (p *Process) Pid() defs.Pid_t { return p.pid }

// AddressSpace exposes the process's address space.
func (p *Process) AddressSpace() *addrspace.AddressSpace { return p.as }

// FS exposes the mounted file system shared by every process, for the
// syscall surface's open/exec path resolution.
func (p *Process) FS() *fs.FileSystem { return p.res.FS }

// IsZombie reports whether the process has completed (tid 0 exited).
func (p *Process) IsZombie() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isZombie
}

// ExitCode returns the process's recorded exit code (valid once IsZombie).
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Parent returns the non-owning back-link to the parent process, or nil
// for init.
func (p *Process) Parent() *Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

// Threads returns a snapshot of the process's live thread table, for
// shutdown-time sweeps such as profile export.
func (p *Process) Threads() []*task.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*task.Thread, len(p.threads))
	copy(out, p.threads)
	return out
}

// pageCount converts a byte size to a page count using cfg.PageSize.
func pageCount(cfg kconfig.Config, bytes int) addrspace.VPN {
	return addrspace.VPN((bytes + cfg.PageSize - 1) / cfg.PageSize)
}

// userResourceVPNs computes the per-thread stack and trap-context VPN
// layout of spec.md §4.7 Thread::spawn: user stack at
// ustack_base + tid*(stack_size+guard), trap context at
// TRAMPOLINE - (tid+1)*page_size.
func userResourceVPNs(cfg kconfig.Config, tid defs.Tid_t) (lo, hi, trapVPN addrspace.VPN) {
	stackPages := pageCount(cfg, cfg.UserStackSize)
	guardPages := pageCount(cfg, cfg.UserStackGuard)
	span := stackPages + guardPages
	lo = addrspace.VPN(cfg.UserStackBaseVPN) + addrspace.VPN(tid)*span
	hi = lo + stackPages
	trapVPN = addrspace.VPN(cfg.TrampolineVPN) - addrspace.VPN(tid) - 1
	return
}

// mapTrampoline installs the shared trampoline page identity mapping, per
// spec.md §4.2: "mapped at a fixed high virtual address in every address
// space ... with identical contents". Hosted, the trampoline carries no
// executable bytes worth modeling (spec.md §1 places trap assembly out of
// scope); only the VPN identity and R|X permissions are load-bearing.
func mapTrampoline(as *addrspace.AddressSpace, cfg kconfig.Config) error {
	vpn := addrspace.VPN(cfg.TrampolineVPN)
	return as.PushArea(&addrspace.MapArea{
		StartVPN: vpn,
		EndVPN:   vpn + 1,
		Kind:     addrspace.KindIdentity,
		Perm:     addrspace.PermR | addrspace.PermX,
	}, nil)
}

// mapUserResources pushes a fresh user-stack area and trap-context frame
// for tid into as, returning the UserResources describing them.
func mapUserResources(as *addrspace.AddressSpace, cfg kconfig.Config, tid defs.Tid_t) (task.UserResources, error) {
	lo, hi, trapVPN := userResourceVPNs(cfg, tid)
	if err := as.PushArea(&addrspace.MapArea{
		StartVPN: lo, EndVPN: hi,
		Kind: addrspace.KindFramed,
		Perm: addrspace.PermR | addrspace.PermW | addrspace.PermU,
	}, nil); err != nil {
		return task.UserResources{}, fmt.Errorf("proc: map user stack: %w", err)
	}
	if err := as.PushArea(&addrspace.MapArea{
		StartVPN: trapVPN, EndVPN: trapVPN + 1,
		Kind: addrspace.KindFramed,
		Perm: addrspace.PermR | addrspace.PermW,
	}, nil); err != nil {
		as.RemoveAreaCovering(lo)
		return task.UserResources{}, fmt.Errorf("proc: map trap context: %w", err)
	}
	return task.UserResources{Tid: tid, UserStackLo: lo, UserStackHi: hi, TrapCtxVPN: trapVPN}, nil
}

func userStackTop(cfg kconfig.Config, hi addrspace.VPN) uint64 {
	return uint64(hi) * uint64(cfg.PageSize)
}

// installStdio wires fd 0/1/2 to the host console streams, per spec.md
// §4.7 "installs stdin/stdout/stderr into fd_table[0..3]".
func installStdio(t *fd.Table) {
	t.InsertAt(0, &fd.Fd_t{File: fd.NewStdinConsole(), Perms: fd.PermRead})
	t.InsertAt(1, &fd.Fd_t{File: fd.NewStdoutConsole(), Perms: fd.PermWrite})
	t.InsertAt(2, &fd.Fd_t{File: fd.NewStderrConsole(), Perms: fd.PermWrite})
}

// NewInitProcess builds the init process from a program image, per
// spec.md §4.7 Process::from_program_image(). It constructs an address
// space from the ELF image, allocates a pid, creates thread tid 0, maps
// its user stack and trap-context frame, seeds the trap context, installs
// stdio, registers the process, and enqueues the thread.
func NewInitProcess(res *Resources, image []byte) (*Process, error) {
	li, err := addrspace.ParseProgramImage(image)
	if err != nil {
		return nil, fmt.Errorf("proc: parse image: %w", err)
	}
	as := addrspace.NewUserSpace(res.Frames)
	for _, seg := range li.Segments {
		if err := as.PushArea(&addrspace.MapArea{
			StartVPN: seg.StartVPN, EndVPN: seg.EndVPN,
			Kind: addrspace.KindFramed, Perm: seg.Perm,
		}, seg.Data); err != nil {
			return nil, fmt.Errorf("proc: map segment: %w", err)
		}
	}
	if err := mapTrampoline(as, res.Cfg); err != nil {
		return nil, err
	}

	p := &Process{
		pid:      defs.Pid_t(res.Pids.Alloc()),
		as:       as,
		Fds:      fd.NewTable(),
		Cwd:      fd.NewRootCwd(),
		tids:     idalloc.New(0),
		mutexes:  make(map[int]mutexHandle),
		sems:     make(map[int]*ksync.Semaphore),
		condvars: make(map[int]*ksync.CondVar),
		kobjIDs:  idalloc.New(0),
		res:      res,
	}
	installStdio(p.Fds)
	p.tids.Alloc() // reserve tid 0 for the main thread below

	th, err := p.buildThread(0, li.Entry)
	if err != nil {
		return nil, err
	}
	p.threads = []*task.Thread{th}
	res.Registry.Insert(p)
	res.Sched.Enqueue(th)
	return p, nil
}

// buildThread allocates a kernel stack and trap context for tid within p's
// address space and constructs its Thread, seeding the trap context to
// start at entry with a fresh user stack top, per spec.md §4.7.
func (p *Process) buildThread(tid defs.Tid_t, entry uint64) (*task.Thread, error) {
	stack, err := p.res.Kstacks.Alloc()
	if err != nil {
		return nil, fmt.Errorf("proc: alloc kstack: %w", err)
	}
	ures, err := mapUserResources(p.as, p.res.Cfg, tid)
	if err != nil {
		stack.Release()
		return nil, err
	}
	sp := userStackTop(p.res.Cfg, ures.UserStackHi)
	trap := trapframe.NewUserEntry(entry, sp, p.res.KernelAS.Token(), stack.TopAddr(), 0)
	return task.New(p, stack, ures, trap), nil
}
