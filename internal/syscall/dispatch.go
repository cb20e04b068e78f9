package syscall

import (
	"encoding/binary"
	"time"

	"github.com/teaching-os/rvkernel/internal/addrspace"
	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/fd"
	"github.com/teaching-os/rvkernel/internal/kconfig"
	"github.com/teaching-os/rvkernel/internal/proc"
	"github.com/teaching-os/rvkernel/internal/sched"
	"github.com/teaching-os/rvkernel/internal/task"
	"github.com/teaching-os/rvkernel/internal/timerwheel"
)

// Dispatcher holds the services Dispatch needs beyond the calling process
// and thread: the scheduler (yield/sleep), the timer wheel (sleep), and the
// boot clock (get_time/sleep deadlines). It is built once at boot and
// wired into internal/trap's Gateway as a trap.SyscallFunc.
type Dispatcher struct {
	Sched  *sched.Scheduler
	Timers *timerwheel.Wheel
	Clock  *kconfig.BootClock
}

// New builds a Dispatcher over the kernel's scheduler, timer wheel and boot
// clock.
func New(s *sched.Scheduler, timers *timerwheel.Wheel, clock *kconfig.BootClock) *Dispatcher {
	return &Dispatcher{Sched: s, Timers: timers, Clock: clock}
}

// Dispatch implements spec.md §4.10: translate one (id, a0, a1, a2) call
// into the corresponding component call and return the value to place in
// a0. The second return reports thread exit (syscall 93), matching
// trap.SyscallFunc.
func (d *Dispatcher) Dispatch(p *proc.Process, th *task.Thread, id, a0, a1, a2 uint64) (uint64, bool) {
	switch id {
	case SysDup:
		return retErr(d.sysDup(p, int(a0)))
	case SysOpen:
		return retErr(d.sysOpen(p, a0, a1))
	case SysClose:
		return retErr(d.sysClose(p, int(a0)))
	case SysPipe:
		return retErr(d.sysPipe(p, a0))
	case SysGetdents:
		return retErr(d.sysGetdents(p, int(a0), a1, int(a2)))
	case SysRead:
		return retErr(d.sysRead(p, int(a0), a1, int(a2)))
	case SysWrite:
		return retErr(d.sysWrite(p, int(a0), a1, int(a2)))
	case SysExit:
		p.ExitThread(th, int(int32(a0)))
		return 0, true
	case SysSleep:
		d.sysSleep(th, a0)
		return 0, false
	case SysYield:
		d.Sched.SuspendCurrentAndRunNext(th)
		return 0, false
	case SysKill:
		return retErr(d.sysKill(defs.Pid_t(int64(a0)), defs.Signal_t(a1)))
	case SysGetTime:
		return uint64(d.Clock.NowMs(time.Now())), false
	case SysGetpid:
		return uint64(p.Pid()), false
	case SysFork:
		return retErr(d.sysFork(p))
	case SysExec:
		return retErr(d.sysExec(p, a0, a1))
	case SysWaitpid:
		return retErr(d.sysWaitpid(p, a0, a1))
	case SysThreadCreate:
		return retErr(d.sysThreadCreate(p, a0, a1))
	case SysGettid:
		return uint64(th.Res.Tid), false
	case SysWaittid:
		return uint64(int64(p.Waittid(defs.Tid_t(int64(a0))))), false
	case SysMutexCreate:
		return uint64(p.CreateMutex(a0 != 0)), false
	case SysMutexLock:
		return retErr(boolErr(p.LockMutex(int(a0), th)))
	case SysMutexUnlock:
		return retErr(boolErr(p.UnlockMutex(int(a0))))
	case SysSemCreate:
		return uint64(p.CreateSemaphore(int(int64(a0)))), false
	case SysSemUp:
		return retErr(boolErr(p.SemaphoreUp(int(a0))))
	case SysSemDown:
		return retErr(boolErr(p.SemaphoreDown(int(a0), th)))
	case SysCondvarCreate:
		return uint64(p.CreateCondVar()), false
	case SysCondvarSignal:
		return retErr(boolErr(p.CondVarSignal(int(a0))))
	case SysCondvarWait:
		return retErr(boolErr(p.CondVarWait(int(a0), int(a1), th)))
	default:
		panic("syscall: unknown call id")
	}
}

// retErr turns a (value, ok) pair into the register value Dispatch returns:
// -1 on failure, value on success. It is used by every call whose failure
// mode is the generic -1 of spec.md §7.
func retErr(v int64, ok bool) (uint64, bool) {
	if !ok {
		return uint64(int64(-1)), false
	}
	return uint64(v), false
}

func boolErr(ok bool) (int64, bool) { return 0, ok }

func (d *Dispatcher) sysSleep(th *task.Thread, ms uint64) {
	deadline := d.Clock.NowMs(time.Now()) + int64(ms)
	d.Timers.Add(deadline, th)
	d.Sched.BlockCurrentAndRunNext(th)
}

func (d *Dispatcher) sysKill(pid defs.Pid_t, sig defs.Signal_t) (int64, bool) {
	target, ok := globalRegistryLookup(pid)
	if !ok {
		return 0, false
	}
	target.Kill(sig)
	return 0, true
}

// globalRegistryLookup is set by cmd/kernel at boot to the live process
// registry's Get method, since kill's target process need not be any
// ancestor/descendant of the caller and so is not reachable through p
// alone.
var globalRegistryLookup func(defs.Pid_t) (*proc.Process, bool)

// SetRegistry wires the process registry kill (and any future cross-process
// lookup) needs. cmd/kernel calls this once at boot.
func SetRegistry(r *proc.Registry) {
	globalRegistryLookup = func(pid defs.Pid_t) (*proc.Process, bool) { return r.Get(pid) }
}

func (d *Dispatcher) sysDup(p *proc.Process, oldfd int) (int64, bool) {
	f, ok := p.Fds.Get(oldfd)
	if !ok {
		return 0, false
	}
	nf, errt := fd.Copyfd(f)
	if errt != 0 {
		return 0, false
	}
	return int64(p.Fds.Insert(nf)), true
}

func (d *Dispatcher) sysOpen(p *proc.Process, pathPtr, flags uint64) (int64, bool) {
	as := p.AddressSpace()
	path, err := as.CopyInString(pathPtr, maxPathLen)
	if err != nil {
		return 0, false
	}
	full := p.Cwd.Fullpath(path)

	ino, exists, err := p.FS().Resolve(full)
	if err != nil {
		return 0, false
	}
	if !exists {
		if flags&OpenCREATE == 0 {
			return 0, false
		}
		dir, name, err := p.FS().ResolveParent(full)
		if err != nil {
			return 0, false
		}
		ino, err = dir.Create(name)
		if err != nil {
			return 0, false
		}
	} else if flags&OpenCREATE != 0 || flags&OpenTRUNC != 0 {
		if err := ino.Clear(); err != nil {
			return 0, false
		}
	}

	perms := 0
	switch flags & 0x3 {
	case OpenRDONLY:
		perms = fd.PermRead
	case OpenWRONLY:
		perms = fd.PermWrite
	case OpenRDWR:
		perms = fd.PermRead | fd.PermWrite
	}
	idx := p.Fds.Insert(&fd.Fd_t{File: fd.NewRegularFile(ino), Perms: perms})
	return int64(idx), true
}

func (d *Dispatcher) sysClose(p *proc.Process, fdNum int) (int64, bool) {
	f := p.Fds.Remove(fdNum)
	if f == nil {
		return 0, false
	}
	return 0, f.File.Close() == 0
}

func (d *Dispatcher) sysPipe(p *proc.Process, outPtr uint64) (int64, bool) {
	r, w := fd.NewPipe()
	ri := p.Fds.Insert(&fd.Fd_t{File: r, Perms: fd.PermRead})
	wi := p.Fds.Insert(&fd.Fd_t{File: w, Perms: fd.PermWrite})

	var buf [2 * wordSize]byte
	binary.LittleEndian.PutUint64(buf[0:wordSize], uint64(ri))
	binary.LittleEndian.PutUint64(buf[wordSize:2*wordSize], uint64(wi))
	if _, err := p.AddressSpace().CopyOut(outPtr, buf[:]); err != nil {
		return 0, false
	}
	return 0, true
}

func (d *Dispatcher) sysGetdents(p *proc.Process, fdNum int, bufPtr uint64, buflen int) (int64, bool) {
	f, ok := p.Fds.Get(fdNum)
	if !ok {
		return 0, false
	}
	rf, ok := f.File.(*fd.RegularFile)
	if !ok || !rf.Inode().IsDir() {
		return 0, false
	}
	size := int(rf.Inode().Size())
	if buflen < size {
		size = buflen
	}
	raw := make([]byte, size)
	n, err := rf.Inode().ReadAt(0, raw)
	if err != nil {
		return 0, false
	}
	written, err := p.AddressSpace().CopyOut(bufPtr, raw[:n])
	if err != nil {
		return 0, false
	}
	return int64(written), true
}

func (d *Dispatcher) sysRead(p *proc.Process, fdNum int, bufPtr uint64, n int) (int64, bool) {
	f, ok := p.Fds.Get(fdNum)
	if !ok {
		return 0, false
	}
	host := make([]byte, n)
	got, errt := f.File.Read(host)
	if errt != 0 {
		return 0, false
	}
	if _, err := p.AddressSpace().CopyOut(bufPtr, host[:got]); err != nil {
		return 0, false
	}
	return int64(got), true
}

func (d *Dispatcher) sysWrite(p *proc.Process, fdNum int, bufPtr uint64, n int) (int64, bool) {
	f, ok := p.Fds.Get(fdNum)
	if !ok {
		return 0, false
	}
	host := make([]byte, n)
	got, err := p.AddressSpace().CopyIn(bufPtr, host)
	if err != nil {
		return 0, false
	}
	written, errt := f.File.Write(host[:got])
	if errt != 0 {
		return 0, false
	}
	return int64(written), true
}

func (d *Dispatcher) sysFork(p *proc.Process) (int64, bool) {
	child, err := p.Fork()
	if err != nil {
		return 0, false
	}
	return int64(child.Pid()), true
}

func (d *Dispatcher) sysExec(p *proc.Process, pathPtr, argvPtr uint64) (int64, bool) {
	as := p.AddressSpace()
	path, err := as.CopyInString(pathPtr, maxPathLen)
	if err != nil {
		return 0, false
	}
	ino, ok, err := p.FS().Resolve(p.Cwd.Fullpath(path))
	if err != nil || !ok {
		return 0, false
	}
	image := make([]byte, ino.Size())
	if _, err := ino.ReadAt(0, image); err != nil {
		return 0, false
	}

	argv, err := readArgv(as, argvPtr)
	if err != nil {
		return 0, false
	}
	if err := p.Exec(image, argv); err != nil {
		return 0, false
	}
	return int64(len(argv)), true
}

// readArgv reads a NULL-terminated array of string pointers starting at
// argvPtr, per spec.md §6 exec(path_ptr, argv_ptr).
func readArgv(as *addrspace.AddressSpace, argvPtr uint64) ([]string, error) {
	var argv []string
	for i := 0; ; i++ {
		var raw [wordSize]byte
		if _, err := as.CopyIn(argvPtr+uint64(i*wordSize), raw[:]); err != nil {
			return nil, err
		}
		strPtr := binary.LittleEndian.Uint64(raw[:])
		if strPtr == 0 {
			break
		}
		s, err := as.CopyInString(strPtr, maxArgLen)
		if err != nil {
			return nil, err
		}
		argv = append(argv, s)
	}
	return argv, nil
}

func (d *Dispatcher) sysWaitpid(p *proc.Process, pidArg, exitCodePtr uint64) (int64, bool) {
	pid, code := p.Waitpid(defs.Pid_t(int64(pidArg)))
	if pid >= 0 {
		var buf [wordSize]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(code)))
		if _, err := p.AddressSpace().CopyOut(exitCodePtr, buf[:]); err != nil {
			return 0, false
		}
	}
	return int64(pid), true
}

func (d *Dispatcher) sysThreadCreate(p *proc.Process, entry, arg uint64) (int64, bool) {
	th, err := p.SpawnThread(entry, arg)
	if err != nil {
		return 0, false
	}
	return int64(th.Res.Tid), true
}
