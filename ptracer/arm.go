package ptracer

const (
	armThumbBit = 0x20

	armSwiEABI     = 0xef000000
	armSwiOABIMask = 0x0ff00000
	armSwiOABI     = 0x0f900000
)

// DecodeARMSyscall derives the syscall number on 32-bit ARM from the cpsr,
// the instruction preceding pc and r7. insn is ignored in Thumb state.
// OABI numbers are taken from the swi immediate without the 0x900000 base.
// Numbers in the private ARM range keep their low 16 bits. An unknown trap
// instruction yields -1.
func DecodeARMSyscall(cpsr, insn, r7 uint32) int {
	var no uint32
	switch {
	case cpsr&armThumbBit != 0:
		no = r7
	case insn == armSwiEABI:
		no = r7
	case insn&armSwiOABIMask == armSwiOABI:
		no = insn & 0xfffff
	default:
		return -1
	}
	if no&0x0f0000 != 0 {
		no &= 0xffff
	}
	return int(no)
}
