package fd

import (
	"io"
	"os"
	"sync"

	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/stat"
)

// Console wraps a host stdio stream as a File, standing in for the UART
// console device driver that spec.md §1 places out of scope. Unlike the
// teacher's interrupt-driven Console_i (which blocks a reader on a
// condvar until the UART IRQ handler deposits a byte), reads and writes
// here go straight through to the host's stdin/stdout/stderr — there is
// no kernel-level blocking to simulate once the byte source is a real OS
// file descriptor rather than a polled device register.
type Console struct {
	mu sync.Mutex
	r  io.Reader
	w  io.Writer
}

// NewStdinConsole wraps the host process's stdin as a read-only console.
func NewStdinConsole() *Console { return &Console{r: os.Stdin} }

// NewStdoutConsole wraps the host process's stdout as a write-only console.
func NewStdoutConsole() *Console { return &Console{w: os.Stdout} }

// NewStderrConsole wraps the host process's stderr as a write-only console.
func NewStderrConsole() *Console { return &Console{w: os.Stderr} }

func (c *Console) Read(buf []byte) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r == nil {
		return 0, defs.EINVAL
	}
	n, err := c.r.Read(buf)
	if err != nil && err != io.EOF {
		return n, defs.EINVAL
	}
	return n, 0
}

func (c *Console) Write(buf []byte) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return 0, defs.EINVAL
	}
	n, err := c.w.Write(buf)
	if err != nil {
		return n, defs.EINVAL
	}
	return n, 0
}

func (c *Console) Stat() (stat.Stat_t, defs.Err_t) {
	var st stat.Stat_t
	st.Wkind(stat.KindDev)
	return st, 0
}

func (c *Console) Close() defs.Err_t  { return 0 }
func (c *Console) Reopen() defs.Err_t { return 0 }
