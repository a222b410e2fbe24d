package ptracer

import (
	"debug/elf"
	"unsafe"

	unix "golang.org/x/sys/unix"
)

// Kernel issues real ptrace requests.
type Kernel struct{}

var _ Ops = Kernel{}

func (Kernel) Attach(pid int) error {
	return unix.PtraceAttach(pid)
}

func (Kernel) Detach(pid int, sig int) error {
	return ptrace(unix.PTRACE_DETACH, pid, 0, uintptr(sig))
}

func (Kernel) Cont(pid int, sig int) error {
	return unix.PtraceCont(pid, sig)
}

func (Kernel) Syscall(pid int, sig int) error {
	return unix.PtraceSyscall(pid, sig)
}

func (Kernel) SetOptions(pid int, options int) error {
	return unix.PtraceSetOptions(pid, options)
}

func (Kernel) GetEventMsg(pid int) (uint, error) {
	return unix.PtraceGetEventMsg(pid)
}

func (Kernel) GetSiginfo(pid int) (*SigInfo, error) {
	var buf [sigInfoSize]byte
	if err := ptracePtr(unix.PTRACE_GETSIGINFO, pid, 0, unsafe.Pointer(&buf[0])); err != nil {
		return nil, err
	}
	info := parseSigInfo(buf[:])
	return &info, nil
}

// GetRegs uses PTRACE_GETREGSET with NT_PRSTATUS, which every supported
// architecture implements. arm64 has no PTRACE_GETREGS.
func (Kernel) GetRegs(pid int, regs *unix.PtraceRegs) error {
	iov := getIovec((*byte)(unsafe.Pointer(regs)), int(unsafe.Sizeof(*regs)))
	return ptracePtr(unix.PTRACE_GETREGSET, pid, uintptr(elf.NT_PRSTATUS), unsafe.Pointer(&iov))
}

func (Kernel) PeekData(pid int, addr uintptr, out []byte) (int, error) {
	return peekData(pid, addr, out)
}

func (Kernel) PokeData(pid int, addr uintptr, data []byte) (int, error) {
	return unix.PtracePokeData(pid, addr, data)
}

func (Kernel) Wait4(status *unix.WaitStatus) (int, error) {
	return unix.Wait4(-1, status, unix.WALL, nil)
}

func ptrace(request int, pid int, addr uintptr, data uintptr) error {
	_, _, e1 := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(pid), addr, data, 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

// ptracePtr keeps data an unsafe.Pointer until the syscall so the object
// stays reachable and is not moved.
func ptracePtr(request int, pid int, addr uintptr, data unsafe.Pointer) error {
	_, _, e1 := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(pid), addr, uintptr(data), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}
