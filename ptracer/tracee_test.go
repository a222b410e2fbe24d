package ptracer_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	unix "golang.org/x/sys/unix"

	"github.com/Luminger/AnJaRoot/ptracer"
	"github.com/Luminger/AnJaRoot/ptracer/ptracetest"
)

func newLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func TestAttach(t *testing.T) {
	k := ptracetest.New()
	tr, err := ptracer.Attach(k, 100, newLogger())
	require.NoError(t, err)
	assert.Equal(t, 100, tr.Pid())
	assert.Equal(t, []string{"attach"}, k.History(100))
}

func TestAttachError(t *testing.T) {
	k := ptracetest.New()
	k.Fail = func(op string, pid int) error {
		if op == "attach" {
			return unix.EPERM
		}
		return nil
	}
	tr, err := ptracer.Attach(k, 100, newLogger())
	assert.Nil(t, tr)

	var attachErr *ptracer.AttachError
	require.ErrorAs(t, err, &attachErr)
	assert.Equal(t, 100, attachErr.Pid)
	assert.ErrorIs(t, err, unix.EPERM)
}

func TestDetachOnce(t *testing.T) {
	k := ptracetest.New()
	tr := ptracer.NewTracee(k, 7, newLogger())

	assert.True(t, tr.Detach(unix.SIGCHLD))
	assert.True(t, tr.Detached())
	assert.False(t, tr.Detach(0))
	assert.Equal(t, 1, k.Count("detach", 7))
	assert.Equal(t, int(unix.SIGCHLD), k.CallsTo(7)[0].Arg)
}

func TestDetachFailureStillDetached(t *testing.T) {
	log, hook := test.NewNullLogger()
	k := ptracetest.New()
	k.Fail = func(op string, pid int) error { return unix.EIO }
	tr := ptracer.NewTracee(k, 7, log)

	assert.False(t, tr.Detach(0))
	assert.True(t, tr.Detached())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRequestsAfterDetach(t *testing.T) {
	k := ptracetest.New()
	tr := ptracer.NewTracee(k, 7, newLogger())
	tr.Detach(0)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"resume", func() error { return tr.Resume(0) }},
		{"step", func() error { return tr.StepToNextSyscallStop(0) }},
		{"child tracing", tr.EnableChildTracing},
		{"syscall marking", tr.EnableSyscallTraceMarking},
		{"event msg", func() error { _, err := tr.PendingForkedPid(); return err }},
		{"siginfo", func() error { _, err := tr.PendingSignalInfo(); return err }},
		{"read", func() error { return tr.ReadMemory(0x1000, make([]byte, 4)) }},
		{"write", func() error { return tr.WriteMemory(0x1000, make([]byte, 4)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.fn(), ptracer.ErrDetached)
		})
	}
	assert.Equal(t, []string{"detach"}, k.History(7))
}

func TestResumeAndStep(t *testing.T) {
	k := ptracetest.New()
	tr := ptracer.NewTracee(k, 7, newLogger())

	require.NoError(t, tr.Resume(unix.SIGWINCH))
	require.NoError(t, tr.StepToNextSyscallStop(0))
	assert.Equal(t, []ptracetest.Call{
		{Op: "cont", Pid: 7, Arg: int(unix.SIGWINCH)},
		{Op: "syscall", Pid: 7, Arg: 0},
	}, k.Calls)
}

func TestTraceError(t *testing.T) {
	k := ptracetest.New()
	k.Fail = func(op string, pid int) error {
		if op == "syscall" {
			return unix.ESRCH
		}
		return nil
	}
	tr := ptracer.NewTracee(k, 7, newLogger())

	err := tr.StepToNextSyscallStop(0)
	var traceErr *ptracer.TraceError
	require.True(t, errors.As(err, &traceErr))
	assert.Equal(t, "syscall", traceErr.Op)
	assert.Equal(t, 7, traceErr.Pid)
	assert.ErrorIs(t, err, unix.ESRCH)
}

func TestOptions(t *testing.T) {
	k := ptracetest.New()
	tr := ptracer.NewTracee(k, 7, newLogger())

	require.NoError(t, tr.EnableChildTracing())
	require.NoError(t, tr.EnableSyscallTraceMarking())
	calls := k.CallsTo(7)
	require.Len(t, calls, 2)
	assert.Equal(t, unix.PTRACE_O_TRACEFORK, calls[0].Arg)
	assert.Equal(t, unix.PTRACE_O_TRACESYSGOOD|unix.PTRACE_O_TRACEEXEC, calls[1].Arg)
}

func TestPendingForkedPid(t *testing.T) {
	k := ptracetest.New()
	k.EventMsg[7] = 1234
	tr := ptracer.NewTracee(k, 7, newLogger())

	pid, err := tr.PendingForkedPid()
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)
}

func TestPendingSignalInfo(t *testing.T) {
	k := ptracetest.New()
	k.Siginfo[7] = &ptracer.SigInfo{Signo: unix.SIGCHLD, Pid: 1234}
	tr := ptracer.NewTracee(k, 7, newLogger())

	info, err := tr.PendingSignalInfo()
	require.NoError(t, err)
	assert.Equal(t, 1234, info.Pid)

	other := ptracer.NewTracee(k, 8, newLogger())
	_, err = other.PendingSignalInfo()
	assert.ErrorIs(t, err, unix.EINVAL)
}

func TestMemory(t *testing.T) {
	k := ptracetest.New()
	k.Store(0x1000, []byte{1, 2, 3, 4})
	tr := ptracer.NewTracee(k, 7, newLogger())

	out := make([]byte, 4)
	require.NoError(t, tr.ReadMemory(0x1000, out))
	assert.Equal(t, []byte{1, 2, 3, 4}, out)

	require.NoError(t, tr.WriteMemory(0x1001, []byte{9, 9}))
	assert.Equal(t, []byte{1, 9, 9, 4}, k.Load(0x1000, 4))

	assert.ErrorIs(t, tr.ReadMemory(0x2000, out), unix.EIO)
}
