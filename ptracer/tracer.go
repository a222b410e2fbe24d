// Package ptracer wraps the ptrace primitives used to observe the spawner
// and the children it forks.
//
// Every method of Ops must be invoked from the OS thread that attached the
// tracees. Callers lock that thread with runtime.LockOSThread before the
// first Attach and keep it until every tracee is detached.
package ptracer

import (
	"github.com/Luminger/AnJaRoot/pkg/capset"
	unix "golang.org/x/sys/unix"
)

// Ops is the kernel boundary of the tracer. Kernel is the real
// implementation, tests substitute a scripted one.
type Ops interface {
	// Attach sends PTRACE_ATTACH.
	Attach(pid int) error
	// Detach sends PTRACE_DETACH and delivers sig on the way out.
	Detach(pid int, sig int) error
	// Cont resumes a stopped tracee with PTRACE_CONT.
	Cont(pid int, sig int) error
	// Syscall resumes a stopped tracee until its next syscall stop.
	Syscall(pid int, sig int) error
	// SetOptions sets the PTRACE_O_* option mask.
	SetOptions(pid int, options int) error
	// GetEventMsg returns the message of the pending ptrace event.
	GetEventMsg(pid int) (uint, error)
	// GetSiginfo returns the siginfo of the pending stop.
	GetSiginfo(pid int) (*SigInfo, error)
	// GetRegs loads the general purpose registers of a stopped tracee.
	GetRegs(pid int, regs *unix.PtraceRegs) error
	// PeekData reads len(out) bytes of tracee memory at addr.
	PeekData(pid int, addr uintptr, out []byte) (int, error)
	// PokeData writes data into tracee memory at addr. Bytes of the
	// surrounding words are preserved.
	PokeData(pid int, addr uintptr, data []byte) (int, error)
	// Wait4 blocks for the next state change of any tracee, including
	// clone children.
	Wait4(status *unix.WaitStatus) (int, error)
}

// Arch decodes syscall stops for the architecture the daemon runs on.
type Arch interface {
	// SyscallNo returns the syscall number of the stop the tracee is in
	// and whether the stop is a syscall entry. Exit stops report entry
	// as false and the number is meaningless.
	SyscallNo(t *Tracee) (no int, entry bool, err error)

	// PatchPermitted sets the permitted field of the capset data argument
	// of the syscall the tracee is entering to the full mask. It returns
	// the triple as read before the write.
	PatchPermitted(t *Tracee) (capset.Triple, error)
}
