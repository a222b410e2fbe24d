package ptracer

import (
	"errors"
	"fmt"
)

var (
	// ErrDetached is returned for operations on a tracee after Detach.
	ErrDetached = errors.New("tracee already detached")
	// ErrUnsupportedArch is returned by the Arch adapter of architectures
	// without a syscall decoder.
	ErrUnsupportedArch = errors.New("unsupported architecture")
)

// AttachError reports a failed PTRACE_ATTACH.
type AttachError struct {
	Pid int
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach %d: %v", e.Pid, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

// TraceError reports a failed ptrace request on an attached tracee.
type TraceError struct {
	Op  string
	Pid int
	Err error
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Op, e.Pid, e.Err)
}

func (e *TraceError) Unwrap() error {
	return e.Err
}
