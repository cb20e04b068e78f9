// Command kernel boots the kernel structures of spec.md §3/§4 over a disk
// image, constructs the init process from a loaded ELF image, and runs the
// scheduler's idle loop until the --run-for duration has elapsed. Grounded
// in the teacher's
// boot sequence (biscuit assembles its singletons in main.go/sys.go) and
// rebuilt on github.com/spf13/cobra + github.com/spf13/pflag per
// SPEC_FULL.md's ambient CLI-tooling section.
//
// This module has no RISC-V instruction interpreter (out of scope, per
// SPEC_FULL.md §1/§5: the kernel side is the whole of what is modeled).
// driveThread stands in for "a thread executing user code and eventually
// trapping back in": it parks until first scheduled, then yields a fixed
// number of times before exiting, which exercises the scheduler's yield,
// block and dispatch paths end to end without a user-mode CPU. It calls the
// scheduler directly; the timer wheel and the trap gateway's HandleUserTrap
// are not driven by it.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teaching-os/rvkernel/internal/accnt"
	"github.com/teaching-os/rvkernel/internal/addrspace"
	"github.com/teaching-os/rvkernel/internal/blockcache"
	"github.com/teaching-os/rvkernel/internal/blockdev"
	"github.com/teaching-os/rvkernel/internal/frame"
	"github.com/teaching-os/rvkernel/internal/fs"
	"github.com/teaching-os/rvkernel/internal/idalloc"
	"github.com/teaching-os/rvkernel/internal/kconfig"
	"github.com/teaching-os/rvkernel/internal/kstack"
	"github.com/teaching-os/rvkernel/internal/proc"
	"github.com/teaching-os/rvkernel/internal/sched"
	"github.com/teaching-os/rvkernel/internal/syscall"
	"github.com/teaching-os/rvkernel/internal/task"
	"github.com/teaching-os/rvkernel/internal/taskctx"
	"github.com/teaching-os/rvkernel/internal/timerwheel"
	"github.com/teaching-os/rvkernel/internal/trap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kernel:", err)
		os.Exit(1)
	}
}

type bootFlags struct {
	diskPath         string
	initPath         string
	format           bool
	totalBlocks      uint64
	inodeBitmapBlocks uint64
	cacheCapacity    int
	framePoolPages   int
	runFor           time.Duration
	cpuProfileOut    string
}

func newRootCmd() *cobra.Command {
	f := &bootFlags{}
	cfg := kconfig.Default()

	cmd := &cobra.Command{
		Use:   "kernel",
		Short: "Boot the kernel over a disk image and run its scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return boot(f, cfg)
		},
	}
	cmd.Flags().StringVar(&f.diskPath, "disk", "disk.img", "path to the disk image")
	cmd.Flags().StringVar(&f.initPath, "init", "", "path to the init program's ELF image")
	cmd.Flags().BoolVar(&f.format, "format", false, "format the disk image before mounting")
	cmd.Flags().Uint64Var(&f.totalBlocks, "blocks", 8192, "total blocks when formatting")
	cmd.Flags().Uint64Var(&f.inodeBitmapBlocks, "inode-bitmap-blocks", 1, "inode bitmap blocks when formatting")
	cmd.Flags().IntVar(&f.cacheCapacity, "cache-capacity", cfg.BlockCacheCapacity, "block cache capacity")
	cmd.Flags().IntVar(&f.framePoolPages, "frames", 1<<16, "physical frames available to the kernel")
	cmd.Flags().DurationVar(&f.runFor, "run-for", 2*time.Second, "how long to run the scheduler before shutting down")
	cmd.Flags().StringVar(&f.cpuProfileOut, "cpu-profile-out", "", "write a pprof profile of per-thread user/sys accounting here before shutting down")
	return cmd
}

// writeAccountingProfile sweeps every live process's threads and writes
// their accumulated accnt.Accnt_t accounting as a pprof profile to path.
func writeAccountingProfile(registry *proc.Registry, clock *kconfig.BootClock, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cpu profile: %w", err)
	}
	defer out.Close()

	var samples []accnt.ThreadSample
	for _, p := range registry.All() {
		for _, th := range p.Threads() {
			samples = append(samples, accnt.ThreadSample{
				Pid:  int64(p.Pid()),
				Tid:  int64(th.Res.Tid),
				Acct: &th.Acct,
			})
		}
	}
	return accnt.WriteProfile(out, samples, clock.NowMs(time.Now())*int64(time.Millisecond))
}

func boot(f *bootFlags, cfg kconfig.Config) error {
	log := slog.Default()

	dev, fsys, err := mountDisk(f, cfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer dev.Close()

	frames := frame.NewAllocator(0, frame.PPN(f.framePoolPages), log)
	kernelAS, err := addrspace.NewKernel(frames, nil)
	if err != nil {
		return fmt.Errorf("kernel address space: %w", err)
	}
	kstacks := kstack.NewPool(cfg)
	scheduler := sched.New()
	pids := idalloc.New(1)
	registry := proc.NewRegistry()
	clock := kconfig.NewBootClock(time.Now())
	timers := timerwheel.New(scheduler)

	dispatcher := syscall.New(scheduler, timers, clock)
	syscall.SetRegistry(registry)
	gateway := trap.NewGateway(scheduler, timers, clock, dispatcher.Dispatch)

	res := &proc.Resources{
		Frames:   frames,
		KernelAS: kernelAS,
		Kstacks:  kstacks,
		Sched:    scheduler,
		Timers:   timers,
		Pids:     pids,
		Registry: registry,
		Cfg:      cfg,
		FS:       fsys,
	}

	if f.initPath == "" {
		log.Info("kernel boot complete, no init program given; exiting")
		return nil
	}
	image, err := os.ReadFile(f.initPath)
	if err != nil {
		return fmt.Errorf("read init image: %w", err)
	}
	initProc, err := proc.NewInitProcess(res, image)
	if err != nil {
		return fmt.Errorf("start init: %w", err)
	}
	log.Info("init process started", "pid", initProc.Pid())

	initThread, _ := initProc.ThreadByTid(0)
	// driveThread's goroutine parks forever once its thread exits (see the
	// package doc comment), so it is never a member of the shutdown group:
	// only the timer that bounds scheduler.Run belongs there.
	go driveThread(gateway, initProc, initThread)

	stop := make(chan struct{})
	var eg errgroup.Group
	eg.Go(func() error {
		time.Sleep(f.runFor)
		close(stop)
		return nil
	})

	scheduler.Run(stop)
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("shutdown timer: %w", err)
	}

	if err := fsys.Cache().SyncAll(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if f.cpuProfileOut != "" {
		if err := writeAccountingProfile(registry, clock, f.cpuProfileOut); err != nil {
			return err
		}
		log.Info("wrote accounting profile", "path", f.cpuProfileOut)
	}
	log.Info("kernel shut down")
	return nil
}

func mountDisk(f *bootFlags, cfg kconfig.Config) (*blockdev.File, *fs.FileSystem, error) {
	if f.format {
		dev, err := blockdev.CreateFile(f.diskPath, f.totalBlocks)
		if err != nil {
			return nil, nil, err
		}
		cache := blockcache.New(f.cacheCapacity)
		fsys, err := fs.Format(dev, cache, f.totalBlocks, f.inodeBitmapBlocks)
		if err != nil {
			return nil, nil, err
		}
		return dev, fsys, nil
	}

	dev, err := blockdev.OpenFile(f.diskPath, f.totalBlocks)
	if err != nil {
		return nil, nil, err
	}
	cache := blockcache.New(f.cacheCapacity)
	fsys, err := fs.Open(dev, cache)
	if err != nil {
		return nil, nil, err
	}
	return dev, fsys, nil
}

// driveThread stands in for user-mode execution: it waits to be first
// scheduled, yields a handful of times so the scheduler sees real traffic,
// then exits the thread. See the package doc comment.
func driveThread(gw *trap.Gateway, p *proc.Process, th *task.Thread) {
	taskctx.Park(th.Ctx)
	for i := 0; i < 4; i++ {
		gw.Sched.SuspendCurrentAndRunNext(th)
	}
	p.ExitThread(th, 0)
	gw.Sched.BlockCurrentAndRunNext(th)
}
