//go:build linux && (amd64 || 386 || arm || arm64)

package ptracer

import (
	"github.com/Luminger/AnJaRoot/pkg/capset"
	unix "golang.org/x/sys/unix"
)

// Context is the register state of a tracee at a syscall stop.
type Context struct {
	regs unix.PtraceRegs
}

func getTrapContext(t *Tracee) (*Context, error) {
	regs, err := t.regs()
	if err != nil {
		return nil, err
	}
	return &Context{regs: *regs}, nil
}

// Native decodes syscall stops for the architecture the binary was built for.
var Native Arch = nativeArch{}

type nativeArch struct{}

func (nativeArch) SyscallNo(t *Tracee) (int, bool, error) {
	if !phaseFromRegs && !t.toggleSyscallPhase() {
		return -1, false, nil
	}
	ctx, err := getTrapContext(t)
	if err != nil {
		return -1, false, err
	}
	if phaseFromRegs && !ctx.atEntry() {
		return -1, false, nil
	}
	no, err := ctx.syscallNo(t)
	if err != nil {
		return -1, false, err
	}
	return no, true, nil
}

func (nativeArch) PatchPermitted(t *Tracee) (capset.Triple, error) {
	ctx, err := getTrapContext(t)
	if err != nil {
		return capset.Triple{}, err
	}
	return PatchPermittedAt(t, uintptr(ctx.Arg1()))
}
