package ptracer

import "encoding/binary"

// The kernel sets ip (r12) to 0 on syscall entry and 1 on exit.
const phaseFromRegs = true

const (
	armIP   = 12
	armPC   = 15
	armCPSR = 16
)

func (c *Context) atEntry() bool {
	return c.regs.Uregs[armIP] == 0
}

// syscallNo reads the instruction before pc to tell EABI from OABI calls
// when the tracee is not in Thumb state.
func (c *Context) syscallNo(t *Tracee) (int, error) {
	regs := &c.regs.Uregs
	var insn uint32
	if regs[armCPSR]&armThumbBit == 0 {
		var b [4]byte
		if err := t.ReadMemory(uintptr(regs[armPC]-4), b[:]); err != nil {
			return -1, err
		}
		insn = binary.LittleEndian.Uint32(b[:])
	}
	return DecodeARMSyscall(regs[armCPSR], insn, regs[7]), nil
}

// Arg1 gets the arg1 for the current syscall
func (c *Context) Arg1() uint {
	return uint(c.regs.Uregs[1])
}
