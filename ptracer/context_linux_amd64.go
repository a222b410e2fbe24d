package ptracer

// x86_64 reports entry and exit stops with the same register layout, the
// tracee keeps track of the phase.
const phaseFromRegs = false

func (c *Context) atEntry() bool { return true }

// orig_rax survives the return value written to rax.
func (c *Context) syscallNo(*Tracee) (int, error) {
	return int(c.regs.Orig_rax), nil
}

// Arg1 gets the arg1 for the current syscall
func (c *Context) Arg1() uint {
	return uint(c.regs.Rsi)
}
