// Package trapframe defines the fixed-layout trap-context record of
// spec.md §3/§4.4, the data the trampoline would save/restore across the
// user/kernel privilege boundary. It is split out from the trap gateway's
// dispatch logic (internal/trap) purely to avoid an import cycle: both
// internal/task (which owns one per thread) and internal/trap (which reads
// and writes it) need the type, but task must not depend on the gateway.
// The shape follows the original Rust sources' TrapContext
// (kernel/src/trap/context.rs), generalized from raw register-array poking
// into named fields in the teacher's capitalized-accessor style.
package trapframe

// Context mirrors the 32 RISC-V general-purpose registers plus the
// supervisor state needed to resume user execution, per spec.md §3.
type Context struct {
	X [32]uint64 // x0..x31; x10 (a0) carries syscall args/return value

	Sstatus    uint64
	Sepc       uint64 // saved program counter
	KernelSatp uint64 // kernel address-space token, for trap entry
	KernelSp   uint64 // top of this thread's kernel stack
	TrapHandler uint64 // address of trap_handler, for the trampoline to jump to
}

// Register index names for the GPRs this kernel actually touches, matching
// the RISC-V calling convention (a0..a7 = x10..x17).
const (
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17 // syscall id
)

// A0 returns the syscall return-value / argument-0 slot.
func (c *Context) A0() uint64 { return c.X[RegA0] }

// SetA0 writes the syscall return-value / argument-0 slot.
func (c *Context) SetA0(v uint64) { c.X[RegA0] = v }

// SyscallArgs returns the syscall id (a7) and its three arguments (a0..a2),
// per spec.md §4.10 "every call receives (syscall_id, arg0, arg1, arg2)".
func (c *Context) SyscallArgs() (id uint64, a0, a1, a2 uint64) {
	return c.X[RegA7], c.X[RegA0], c.X[RegA1], c.X[RegA2]
}

// NewUserEntry builds a trap context for a thread about to start executing
// user code at entry with stack pointer sp, kernel bookkeeping fields
// filled in by the caller (kernelSatp, kernelSp, trapHandler), per spec.md
// §4.7 Thread::spawn / Process::from_program_image.
func NewUserEntry(entry, sp, kernelSatp, kernelSp, trapHandler uint64) *Context {
	c := &Context{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSp:    kernelSp,
		TrapHandler: trapHandler,
	}
	c.X[2] = sp // x2 = sp
	return c
}
