package ptracer

import (
	"github.com/sirupsen/logrus"
	unix "golang.org/x/sys/unix"
)

// syscallTrap is the stop signal of a syscall stop once PTRACE_O_TRACESYSGOOD
// is set.
const syscallTrap = unix.SIGTRAP | 0x80

// WaitResult is one state change reported by wait4.
type WaitResult struct {
	Pid    int
	Status unix.WaitStatus
}

// Wait blocks for the next state change of any tracee.
func Wait(ops Ops) (WaitResult, error) {
	var ws unix.WaitStatus
	pid, err := ops.Wait4(&ws)
	if err != nil {
		return WaitResult{Pid: pid}, err
	}
	return WaitResult{Pid: pid, Status: ws}, nil
}

// Exited reports a normal termination.
func (r WaitResult) Exited() bool { return r.Status.Exited() }

// ExitStatus returns the exit code, or -1 if the process did not exit.
func (r WaitResult) ExitStatus() int { return r.Status.ExitStatus() }

// Signaled reports a termination by signal.
func (r WaitResult) Signaled() bool { return r.Status.Signaled() }

// Signal returns the terminating signal.
func (r WaitResult) Signal() unix.Signal { return r.Status.Signal() }

// CoreDump reports whether the terminating signal dumped core.
func (r WaitResult) CoreDump() bool { return r.Status.CoreDump() }

// Stopped reports a ptrace stop of any kind.
func (r WaitResult) Stopped() bool { return r.Status.Stopped() }

// StopSignal returns the signal of a stop, including the 0x80 marker of
// syscall stops.
func (r WaitResult) StopSignal() unix.Signal { return r.Status.StopSignal() }

// Event returns the PTRACE_EVENT_* code of an event stop, 0 otherwise.
func (r WaitResult) Event() int {
	if !r.Stopped() {
		return 0
	}
	return int(r.Status >> 16)
}

// IsForkEvent reports a PTRACE_EVENT_FORK stop.
func (r WaitResult) IsForkEvent() bool {
	return r.Stopped() && r.StopSignal() == unix.SIGTRAP && r.Event() == unix.PTRACE_EVENT_FORK
}

// InSyscall reports a syscall stop of a tracee with PTRACE_O_TRACESYSGOOD.
func (r WaitResult) InSyscall() bool {
	return r.Stopped() && r.StopSignal() == syscallTrap
}

// Fields describes the result for structured logging.
func (r WaitResult) Fields() logrus.Fields {
	f := logrus.Fields{"pid": r.Pid}
	switch {
	case r.Exited():
		f["exit_status"] = r.ExitStatus()
	case r.Signaled():
		f["signal"] = r.Signal().String()
		f["core_dump"] = r.CoreDump()
	case r.InSyscall():
		f["stop"] = "syscall"
	case r.Stopped():
		f["stop_signal"] = r.StopSignal().String()
		if ev := r.Event(); ev != 0 {
			f["event"] = ev
		}
	default:
		f["status"] = uint32(r.Status)
	}
	return f
}
