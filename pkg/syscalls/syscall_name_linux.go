// Package syscalls maps syscall numbers and names of the running
// architecture.
package syscalls

import (
	"fmt"

	"github.com/elastic/go-seccomp-bpf/arch"
	unix "golang.org/x/sys/unix"
)

var info, errInfo = arch.GetInfo("")

// ToSyscallName returns the name of sysno.
func ToSyscallName(sysno uint) (string, error) {
	if errInfo != nil {
		return "", errInfo
	}
	n, ok := info.SyscallNumbers[int(sysno)]
	if !ok {
		return "", fmt.Errorf("syscall no %d does not exist", sysno)
	}
	return n, nil
}

// ToSyscallNo returns the number of the named syscall.
func ToSyscallNo(name string) (int, error) {
	if errInfo != nil {
		return -1, errInfo
	}
	no, ok := info.SyscallNames[name]
	if !ok {
		return -1, fmt.Errorf("syscall %q does not exist on %s", name, info.Name)
	}
	return no, nil
}

// Capset returns the number of capset(2). The compiled in constant is used
// when the table has no entry.
func Capset() int {
	if no, err := ToSyscallNo("capset"); err == nil {
		return no
	}
	return unix.SYS_CAPSET
}
