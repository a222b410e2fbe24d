package ptracer

import (
	"errors"

	unix "golang.org/x/sys/unix"
)

// UseVMReadv determines whether tracee memory is read with process_vm_readv
// before falling back to PTRACE_PEEKDATA. It is cleared the first time the
// kernel reports ENOSYS.
var UseVMReadv = true

// vmRead copies len(buff) bytes at addr in pid into buff.
func vmRead(pid int, addr uintptr, buff []byte) (int, error) {
	l := len(buff)
	if l == 0 {
		return 0, nil
	}
	return unix.ProcessVMReadv(pid, getIovecs(&buff[0], l), getRemoteIovecs(addr, l), 0)
}

func getIovecs(base *byte, l int) []unix.Iovec {
	return []unix.Iovec{getIovec(base, l)}
}

func getIovec(base *byte, l int) unix.Iovec {
	iov := unix.Iovec{Base: base}
	iov.SetLen(l)
	return iov
}

// getRemoteIovecs describes a range in the tracee. The address is never
// dereferenced here so it stays a uintptr.
func getRemoteIovecs(addr uintptr, l int) []unix.RemoteIovec {
	return []unix.RemoteIovec{{Base: addr, Len: l}}
}

// peekData reads tracee memory, preferring process_vm_readv. A short or
// failed vm read falls back to the word-wise ptrace path.
func peekData(pid int, addr uintptr, out []byte) (int, error) {
	if UseVMReadv {
		n, err := vmRead(pid, addr, out)
		switch {
		case err == nil && n == len(out):
			return n, nil
		case errors.Is(err, unix.ENOSYS):
			UseVMReadv = false
		}
	}
	return unix.PtracePeekData(pid, addr, out)
}
