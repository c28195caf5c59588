//go:build linux

package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// invoke runs one grader attempt against the locator, bounded by the attempt
// deadline. The grader runs in its own process group so a timeout kill takes
// any children with it, and address-space/CPU ceilings are applied to the
// live process before it can allocate meaningfully.
func (g *Grader) invoke(ctx context.Context, locator string, deadline time.Time) runResult {
	start := time.Now()

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	args := append(append([]string{}, g.cfg.Args...), locator)
	cmd := exec.CommandContext(runCtx, g.cfg.Command, args...)
	cmd.Dir = g.cfg.WorkDir
	cmd.Env = g.environment(locator)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Cancel = func() error {
		// Negative pid signals the whole process group.
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		return runResult{StartErr: err, Duration: time.Since(start)}
	}

	g.applyLimits(cmd.Process.Pid)

	waitErr := cmd.Wait()
	res := runResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
		WaitErr:  waitErr,
		Duration: time.Since(start),
	}
	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
	}

	graderDuration.Observe(res.Duration.Seconds())
	return res
}

// applyLimits sets address-space and CPU rlimits on the running grader.
// RLIMIT_AS makes swap unusable past the cap; RLIMIT_CPU backstops the
// wall-clock deadline for spin-heavy graders.
func (g *Grader) applyLimits(pid int) {
	if g.cfg.MemoryLimitBytes > 0 {
		lim := unix.Rlimit{Cur: g.cfg.MemoryLimitBytes, Max: g.cfg.MemoryLimitBytes}
		_ = unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil)
	}
	if g.cfg.CPUSeconds > 0 {
		lim := unix.Rlimit{Cur: g.cfg.CPUSeconds, Max: g.cfg.CPUSeconds}
		_ = unix.Prlimit(pid, unix.RLIMIT_CPU, &lim, nil)
	}
}
