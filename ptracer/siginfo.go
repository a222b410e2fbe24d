package ptracer

import (
	"encoding/binary"
	"unsafe"

	unix "golang.org/x/sys/unix"
)

const (
	sigInfoSize = 128
	ptrSize     = int(unsafe.Sizeof(uintptr(0)))
	// the union following si_signo, si_errno and si_code is pointer aligned
	sigInfoUnionOffset = (12 + ptrSize - 1) &^ (ptrSize - 1)
)

// SigInfo is the subset of siginfo_t needed to identify the sender of a
// SIGCHLD.
type SigInfo struct {
	Signo  unix.Signal
	Errno  int32
	Code   int32
	Pid    int
	UID    uint32
	Status int32
}

func parseSigInfo(b []byte) SigInfo {
	if len(b) < sigInfoUnionOffset+12 {
		return SigInfo{}
	}
	ne := binary.NativeEndian
	o := sigInfoUnionOffset
	return SigInfo{
		Signo:  unix.Signal(int32(ne.Uint32(b[0:]))),
		Errno:  int32(ne.Uint32(b[4:])),
		Code:   int32(ne.Uint32(b[8:])),
		Pid:    int(int32(ne.Uint32(b[o:]))),
		UID:    ne.Uint32(b[o+4:]),
		Status: int32(ne.Uint32(b[o+8:])),
	}
}
