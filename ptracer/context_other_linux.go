//go:build linux && !amd64 && !386 && !arm && !arm64

package ptracer

import "github.com/Luminger/AnJaRoot/pkg/capset"

// Native refuses to decode syscalls on architectures without a decoder.
// Children are released untouched.
var Native Arch = unsupportedArch{}

type unsupportedArch struct{}

func (unsupportedArch) SyscallNo(*Tracee) (int, bool, error) {
	return -1, false, ErrUnsupportedArch
}

func (unsupportedArch) PatchPermitted(*Tracee) (capset.Triple, error) {
	return capset.Triple{}, ErrUnsupportedArch
}
