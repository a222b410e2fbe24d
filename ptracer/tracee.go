package ptracer

import (
	"errors"

	"github.com/sirupsen/logrus"
	unix "golang.org/x/sys/unix"
)

// Tracee is an attached process. It is detached at most once, and every
// request after that fails with ErrDetached.
type Tracee struct {
	ops Ops
	log logrus.FieldLogger
	pid int

	// inSyscall tracks entry and exit stops on architectures whose
	// registers do not tell them apart.
	inSyscall bool
	detached  bool
}

// Attach sends PTRACE_ATTACH to pid. The tracee reports an initial SIGSTOP
// through wait.
func Attach(ops Ops, pid int, log logrus.FieldLogger) (*Tracee, error) {
	if err := ops.Attach(pid); err != nil {
		return nil, &AttachError{Pid: pid, Err: err}
	}
	log.WithField("pid", pid).Debug("attached")
	return NewTracee(ops, pid, log), nil
}

// NewTracee wraps a process the kernel attached automatically, such as a
// child reported by PTRACE_EVENT_FORK.
func NewTracee(ops Ops, pid int, log logrus.FieldLogger) *Tracee {
	return &Tracee{
		ops: ops,
		log: log.WithField("pid", pid),
		pid: pid,
	}
}

// Pid returns the process id.
func (t *Tracee) Pid() int { return t.pid }

// Detached reports whether Detach was called.
func (t *Tracee) Detached() bool { return t.detached }

// Detach releases the tracee and delivers sig, 0 for none. A failed request
// is logged and the tracee still counts as detached. It reports whether the
// kernel accepted the request.
func (t *Tracee) Detach(sig unix.Signal) bool {
	if t.detached {
		return false
	}
	t.detached = true
	if err := t.ops.Detach(t.pid, int(sig)); err != nil {
		l := t.log.WithError(err)
		if errors.Is(err, unix.ESRCH) {
			l.Debug("detach: tracee gone")
		} else {
			l.Warn("detach failed")
		}
		return false
	}
	t.log.Debug("detached")
	return true
}

// Resume continues the tracee with PTRACE_CONT.
func (t *Tracee) Resume(sig unix.Signal) error {
	return t.request("cont", func() error { return t.ops.Cont(t.pid, int(sig)) })
}

// StepToNextSyscallStop continues the tracee until its next syscall entry
// or exit.
func (t *Tracee) StepToNextSyscallStop(sig unix.Signal) error {
	return t.request("syscall", func() error { return t.ops.Syscall(t.pid, int(sig)) })
}

// EnableChildTracing makes the kernel auto-attach children created by fork
// and report them with PTRACE_EVENT_FORK.
func (t *Tracee) EnableChildTracing() error {
	return t.request("setoptions", func() error { return t.ops.SetOptions(t.pid, unix.PTRACE_O_TRACEFORK) })
}

// ChildOptions are the ptrace options of a traced child. TRACEEXEC turns the
// SIGTRAP sent after a successful execve into a PTRACE_EVENT_EXEC stop.
const ChildOptions = unix.PTRACE_O_TRACESYSGOOD | unix.PTRACE_O_TRACEEXEC

// EnableSyscallTraceMarking sets PTRACE_O_TRACESYSGOOD so syscall stops can
// be told apart from a real SIGTRAP, and PTRACE_O_TRACEEXEC so execve is
// reported as an event. Options inherited from the parent are replaced.
func (t *Tracee) EnableSyscallTraceMarking() error {
	return t.request("setoptions", func() error { return t.ops.SetOptions(t.pid, ChildOptions) })
}

// PendingForkedPid returns the pid of the child announced by the current
// fork event stop.
func (t *Tracee) PendingForkedPid() (int, error) {
	var msg uint
	err := t.request("geteventmsg", func() (err error) {
		msg, err = t.ops.GetEventMsg(t.pid)
		return err
	})
	return int(msg), err
}

// PendingSignalInfo returns the siginfo of the current signal stop. It fails
// with EINVAL in a group-stop.
func (t *Tracee) PendingSignalInfo() (*SigInfo, error) {
	var info *SigInfo
	err := t.request("getsiginfo", func() (err error) {
		info, err = t.ops.GetSiginfo(t.pid)
		return err
	})
	return info, err
}

// ReadMemory fills out from tracee memory at addr.
func (t *Tracee) ReadMemory(addr uintptr, out []byte) error {
	return t.request("peekdata", func() error {
		n, err := t.ops.PeekData(t.pid, addr, out)
		if err == nil && n != len(out) {
			return unix.EIO
		}
		return err
	})
}

// WriteMemory copies data into tracee memory at addr.
func (t *Tracee) WriteMemory(addr uintptr, data []byte) error {
	return t.request("pokedata", func() error {
		n, err := t.ops.PokeData(t.pid, addr, data)
		if err == nil && n != len(data) {
			return unix.EIO
		}
		return err
	})
}

func (t *Tracee) regs() (*unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	err := t.request("getregs", func() error { return t.ops.GetRegs(t.pid, &regs) })
	if err != nil {
		return nil, err
	}
	return &regs, nil
}

// toggleSyscallPhase flips the entry/exit tracking and reports whether the
// stop just consumed is an entry.
func (t *Tracee) toggleSyscallPhase() bool {
	t.inSyscall = !t.inSyscall
	return t.inSyscall
}

func (t *Tracee) request(op string, fn func() error) error {
	if t.detached {
		return &TraceError{Op: op, Pid: t.pid, Err: ErrDetached}
	}
	if err := fn(); err != nil {
		return &TraceError{Op: op, Pid: t.pid, Err: err}
	}
	return nil
}
