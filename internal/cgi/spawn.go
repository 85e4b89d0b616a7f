package cgi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/42ship/serverx/internal/socket"
	"golang.org/x/sys/unix"
)

// Process is a running script. The parent's pipe ends are non-blocking.
type Process struct {
	Pid int
	// Stdin is the writing end of the script's standard input.
	Stdin *socket.Socket
	// Stdout is the reading end of the script's standard output.
	Stdout *socket.Socket
	// Pidfd becomes readable once the process exits. It's -1 if the kernel doesn't
	// support pidfds, in which case the process must be polled via Reap.
	Pidfd int
	exited bool
}

// Start runs the script, either directly or via the interpreter if it isn't empty.
// The working directory is the one containing the script.
func Start(interpreter, script string, env []string) (*Process, error) {
	argv := []string{script}
	path := script
	if len(interpreter) > 0 {
		argv = []string{interpreter, script}
		path = interpreter
	}

	var stdin, stdout [2]int
	if err := unix.Pipe2(stdin[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}

	if err := unix.Pipe2(stdout[:], unix.O_CLOEXEC); err != nil {
		closeAll(stdin[0], stdin[1])
		return nil, fmt.Errorf("pipe: %w", err)
	}

	childIn := os.NewFile(uintptr(stdin[0]), "cgi-stdin")
	childOut := os.NewFile(uintptr(stdout[1]), "cgi-stdout")
	proc, err := os.StartProcess(path, argv, &os.ProcAttr{
		Dir:   filepath.Dir(script),
		Env:   env,
		Files: []*os.File{childIn, childOut, os.Stderr},
		// own group, so Kill reaches everything the script spawned
		Sys: &syscall.SysProcAttr{Setpgid: true},
	})

	// the child has its own copies by now
	_ = childIn.Close()
	_ = childOut.Close()

	if err != nil {
		closeAll(stdin[1], stdout[0])
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	p := &Process{Pid: proc.Pid, Pidfd: -1}
	// the process is reaped by Wait4 directly
	_ = proc.Release()

	if p.Stdin, err = socket.New(stdin[1]); err == nil {
		p.Stdout, err = socket.New(stdout[0])
	}

	if err != nil {
		closeAll(stdin[1], stdout[0])
		p.Kill()
		return nil, err
	}

	if pidfd, err := unix.PidfdOpen(p.Pid, 0); err == nil {
		unix.CloseOnExec(pidfd)
		p.Pidfd = pidfd
	}

	return p, nil
}

// Kill terminates the process group forcefully. The process still must be reaped afterward.
func (p *Process) Kill() {
	if !p.exited {
		_ = unix.Kill(-p.Pid, unix.SIGKILL)
	}
}

// Reap collects the exit status without blocking. The exited is false if the process
// is still running.
func (p *Process) Reap() (exited bool, status unix.WaitStatus, err error) {
	if p.exited {
		return true, 0, nil
	}

	for {
		pid, err := unix.Wait4(p.Pid, &status, unix.WNOHANG, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			// reaped by someone else already
			p.exited = true
			return true, 0, nil
		case err != nil:
			return false, 0, err
		case pid == 0:
			return false, 0, nil
		}

		p.exited = true
		return true, status, nil
	}
}

// Exited reports whether the process was reaped.
func (p *Process) Exited() bool {
	return p.exited
}

// ClosePidfd releases the pidfd, if any.
func (p *Process) ClosePidfd() {
	if p.Pidfd >= 0 {
		_ = unix.Close(p.Pidfd)
		p.Pidfd = -1
	}
}

func closeAll(fds ...int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
