package proc

import (
	"fmt"

	"github.com/teaching-os/rvkernel/internal/addrspace"
	"github.com/teaching-os/rvkernel/internal/trapframe"
)

const wordSize = 8

// Exec implements spec.md §4.7 Process::exec: requires exactly one thread,
// replaces the address space with one built from a fresh program image,
// re-allocates the thread's user resources in the new space, copies argv
// onto the new user stack word-aligned (NUL-terminated strings, a
// NULL-terminated pointer array), and seeds the trap context with
// {entry, sp, a0=argc, a1=argv_base}.
func (p *Process) Exec(image []byte, argv []string) error {
	p.mu.Lock()
	if len(p.threads) != 1 || p.threads[0] == nil {
		p.mu.Unlock()
		return fmt.Errorf("proc: exec requires exactly one thread")
	}
	th := p.threads[0]
	oldAS := p.as
	p.mu.Unlock()

	li, err := addrspace.ParseProgramImage(image)
	if err != nil {
		return fmt.Errorf("proc: parse image: %w", err)
	}

	newAS := addrspace.NewUserSpace(p.res.Frames)
	for _, seg := range li.Segments {
		if err := newAS.PushArea(&addrspace.MapArea{
			StartVPN: seg.StartVPN, EndVPN: seg.EndVPN,
			Kind: addrspace.KindFramed, Perm: seg.Perm,
		}, seg.Data); err != nil {
			newAS.Destroy()
			return fmt.Errorf("proc: map segment: %w", err)
		}
	}
	if err := mapTrampoline(newAS, p.res.Cfg); err != nil {
		newAS.Destroy()
		return err
	}
	ures, err := mapUserResources(newAS, p.res.Cfg, 0)
	if err != nil {
		newAS.Destroy()
		return err
	}

	sp := userStackTop(p.res.Cfg, ures.UserStackHi)
	sp, argvBase, err := pushArgv(newAS, sp, argv)
	if err != nil {
		newAS.Destroy()
		return err
	}

	trap := trapframe.NewUserEntry(li.Entry, sp, p.res.KernelAS.Token(), th.Kstack.TopAddr(), 0)
	trap.X[10] = uint64(len(argv))
	trap.X[11] = argvBase

	p.mu.Lock()
	p.as = newAS
	th.Res = ures
	th.Trap = trap
	p.mu.Unlock()

	oldAS.Destroy()
	return nil
}

// pushArgv writes argv onto the user stack below sp, matching the layout
// of original_source/kernel/src/task/process.rs's exec(): a
// NULL-terminated array of pointers directly below sp, then the
// NUL-terminated strings below that array (last argument first, growing the
// stack down), with the final stack pointer aligned down to 8 bytes. It
// returns the new stack pointer and the base address of the pointer array.
func pushArgv(as *addrspace.AddressSpace, sp uint64, argv []string) (newSP, argvBase uint64, err error) {
	sp -= uint64(len(argv)+1) * wordSize
	argvBase = sp
	ptrs := make([]uint64, len(argv)+1)

	strSP := argvBase
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		strSP -= uint64(len(s) + 1)
		buf := make([]byte, len(s)+1)
		copy(buf, s)
		if _, err := as.CopyOut(strSP, buf); err != nil {
			return 0, 0, fmt.Errorf("proc: write argv[%d]: %w", i, err)
		}
		ptrs[i] = strSP
	}
	strSP -= strSP % wordSize // 8-byte align

	for i, p := range ptrs {
		var b [wordSize]byte
		for j := 0; j < wordSize; j++ {
			b[j] = byte(p >> (8 * j))
		}
		if _, err := as.CopyOut(argvBase+uint64(i)*wordSize, b[:]); err != nil {
			return 0, 0, fmt.Errorf("proc: write argv pointer %d: %w", i, err)
		}
	}
	return strSP, argvBase, nil
}
