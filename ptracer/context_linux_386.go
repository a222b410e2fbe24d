package ptracer

const phaseFromRegs = false

func (c *Context) atEntry() bool { return true }

func (c *Context) syscallNo(*Tracee) (int, error) {
	return int(c.regs.Orig_eax), nil
}

// Arg1 gets the arg1 for the current syscall
func (c *Context) Arg1() uint {
	return uint(uint32(c.regs.Ecx))
}
