package supervisor

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	unix "golang.org/x/sys/unix"

	"github.com/Luminger/AnJaRoot/ptracer"
	"github.com/Luminger/AnJaRoot/ptracer/ptracetest"
	"github.com/Luminger/AnJaRoot/trust"
)

type handlers struct {
	k        *ptracetest.Kernel
	arch     *fakeArch
	children *childRegistry
	spawner  *spawnerHandler
	stats    Result
	hook     *test.Hook
}

// newHandlers returns a spawner handler past its attach stop.
func newHandlers(t *testing.T) *handlers {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)
	h := &handlers{k: ptracetest.New(), arch: newFakeArch(), hook: hook}
	h.children = newChildRegistry(Config{
		Ops:      h.k,
		Arch:     h.arch,
		Oracle:   trust.OracleFunc(func(int) bool { return false }),
		UIDOf:    func(int) (int, error) { return untrustedUID, nil },
		Log:      log,
		CapsetNo: capsetNo,
	}, &h.stats)
	h.spawner = newSpawnerHandler(ptracer.NewTracee(h.k, spawnerPid, log), h.children, log)
	require.True(t, h.spawner.handle(h.result(spawnerPid, ptracetest.Stopped(unix.SIGSTOP))))
	h.k.Calls = nil
	return h
}

func (h *handlers) result(pid int, status unix.WaitStatus) ptracer.WaitResult {
	return ptracer.WaitResult{Pid: pid, Status: status}
}

func (h *handlers) fork(t *testing.T, pid int) {
	t.Helper()
	h.k.EventMsg[spawnerPid] = uint(pid)
	require.True(t, h.spawner.handle(h.result(spawnerPid, ptracetest.ForkEvent())))
}

func (h *handlers) childStop(pid int, sig unix.Signal) {
	h.children.handle(h.result(pid, ptracetest.Stopped(sig)))
}

func TestForkOrderIndependence(t *testing.T) {
	orders := []struct {
		name string
		run  func(t *testing.T, h *handlers)
	}{
		{
			name: "fork event first",
			run: func(t *testing.T, h *handlers) {
				h.fork(t, childPid)
				state, ok := h.children.state(childPid)
				require.True(t, ok)
				assert.Equal(t, ChildAwaitingConfiguration, state)
				h.childStop(childPid, unix.SIGSTOP)
			},
		},
		{
			name: "child stop first",
			run: func(t *testing.T, h *handlers) {
				h.childStop(childPid, unix.SIGSTOP)
				h.fork(t, childPid)
			},
		},
	}
	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlers(t)
			tt.run(t, h)

			state, ok := h.children.state(childPid)
			require.True(t, ok)
			assert.Equal(t, ChildAwaitingSyscallStop, state)
			assert.Equal(t, []ptracetest.Call{
				{Op: "setoptions", Pid: childPid, Arg: ptracer.ChildOptions},
				{Op: "syscall", Pid: childPid},
			}, h.k.CallsTo(childPid))
			assert.Equal(t, SpawnerRunning, h.spawner.state)
			assert.Equal(t, 1, h.stats.Children)
		})
	}
}

func TestChildSignalPassthrough(t *testing.T) {
	h := newHandlers(t)
	h.fork(t, childPid)
	h.childStop(childPid, unix.SIGSTOP)
	h.k.Calls = nil

	h.childStop(childPid, unix.SIGWINCH)

	state, ok := h.children.state(childPid)
	require.True(t, ok)
	assert.Equal(t, ChildAwaitingSyscallStop, state)
	assert.Equal(t, []ptracetest.Call{
		{Op: "syscall", Pid: childPid, Arg: int(unix.SIGWINCH)},
	}, h.k.Calls)

	// the phase is untouched, the next syscall stop is still an entry
	h.arch.entries[childPid] = []int{getuidNo}
	h.children.handle(h.result(childPid, ptracetest.SyscallStop()))
	assert.True(t, h.arch.phase[childPid])
}

func TestChildSignalBeforeConfiguration(t *testing.T) {
	h := newHandlers(t)
	h.fork(t, childPid)
	h.childStop(childPid, unix.SIGUSR1)

	state, _ := h.children.state(childPid)
	assert.Equal(t, ChildAwaitingConfiguration, state)
	assert.Equal(t, []ptracetest.Call{
		{Op: "cont", Pid: childPid, Arg: int(unix.SIGUSR1)},
	}, h.k.CallsTo(childPid))
}

func TestChildSyscallExitRearms(t *testing.T) {
	h := newHandlers(t)
	h.childStop(childPid, unix.SIGSTOP)
	h.arch.entries[childPid] = []int{getuidNo}
	h.k.Calls = nil

	h.children.handle(h.result(childPid, ptracetest.SyscallStop()))
	h.children.handle(h.result(childPid, ptracetest.SyscallStop()))

	assert.Equal(t, []string{"syscall", "syscall"}, h.k.History(childPid))
	_, ok := h.children.state(childPid)
	assert.True(t, ok)
}

func TestChildExecEventKeepsTracing(t *testing.T) {
	h := newHandlers(t)
	h.fork(t, childPid)
	h.childStop(childPid, unix.SIGSTOP)
	h.k.Calls = nil

	h.children.handle(h.result(childPid, ptracetest.EventStop(unix.PTRACE_EVENT_EXEC)))

	state, ok := h.children.state(childPid)
	require.True(t, ok)
	assert.Equal(t, ChildAwaitingSyscallStop, state)
	assert.Equal(t, []ptracetest.Call{
		{Op: "syscall", Pid: childPid},
	}, h.k.Calls)
	assert.Zero(t, h.k.Count("detach", childPid))
}

func TestSyscallEntryLoggedAtTrace(t *testing.T) {
	h := newHandlers(t)
	h.childStop(childPid, unix.SIGSTOP)
	h.arch.entries[childPid] = []int{getuidNo}
	h.hook.Reset()

	h.children.handle(h.result(childPid, ptracetest.SyscallStop()))

	entry := h.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.TraceLevel, entry.Level)
	assert.Equal(t, "syscall entry", entry.Message)
	assert.Equal(t, childPid, entry.Data["pid"])
}

func TestChildExitRemoves(t *testing.T) {
	tests := []struct {
		name   string
		status unix.WaitStatus
	}{
		{"exited", ptracetest.Exited(1)},
		{"killed", ptracetest.Killed(unix.SIGKILL)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlers(t)
			h.childStop(childPid, unix.SIGSTOP)
			h.children.handle(h.result(childPid, tt.status))

			_, ok := h.children.state(childPid)
			assert.False(t, ok)
			assert.Equal(t, 1, h.k.Count("detach", childPid))
		})
	}
}

func TestChildDecodeFailureReleases(t *testing.T) {
	h := newHandlers(t)
	h.childStop(childPid, unix.SIGSTOP)

	// no scripted syscall makes the adapter fail
	h.children.handle(h.result(childPid, ptracetest.SyscallStop()))

	_, ok := h.children.state(childPid)
	assert.False(t, ok)
	assert.Equal(t, 1, h.k.Count("detach", childPid))
}

func TestUnknownStopIsDetached(t *testing.T) {
	h := newHandlers(t)
	h.childStop(otherPid, unix.SIGUSR2)

	_, ok := h.children.state(otherPid)
	assert.False(t, ok)
	assert.Equal(t, []ptracetest.Call{
		{Op: "detach", Pid: otherPid, Arg: int(unix.SIGUSR2)},
	}, h.k.CallsTo(otherPid))
}

func TestSpawnerSigchldReleasesChild(t *testing.T) {
	h := newHandlers(t)
	h.fork(t, childPid)
	h.childStop(childPid, unix.SIGSTOP)
	h.k.Siginfo[spawnerPid] = &ptracer.SigInfo{Signo: unix.SIGCHLD, Pid: childPid}

	require.True(t, h.spawner.handle(h.result(spawnerPid, ptracetest.Stopped(unix.SIGCHLD))))

	_, ok := h.children.state(childPid)
	assert.False(t, ok)
	assert.Equal(t, 1, h.k.Count("detach", childPid))
	calls := h.k.CallsTo(spawnerPid)
	last := calls[len(calls)-1]
	assert.Equal(t, "cont", last.Op)
	assert.Equal(t, int(unix.SIGCHLD), last.Arg)
}

func TestSpawnerSigchldForUnknownPid(t *testing.T) {
	h := newHandlers(t)
	h.fork(t, childPid)
	h.k.Siginfo[spawnerPid] = &ptracer.SigInfo{Signo: unix.SIGCHLD, Pid: 4242}

	require.True(t, h.spawner.handle(h.result(spawnerPid, ptracetest.Stopped(unix.SIGCHLD))))

	_, ok := h.children.state(childPid)
	assert.True(t, ok)
}

func TestSpawnerSignalRedelivery(t *testing.T) {
	tests := []struct {
		name    string
		sig     unix.Signal
		siginfo bool
		want    int
	}{
		{name: "sigwinch", sig: unix.SIGWINCH, want: int(unix.SIGWINCH)},
		{name: "sigterm", sig: unix.SIGTERM, want: int(unix.SIGTERM)},
		{name: "sigtstp delivery", sig: unix.SIGTSTP, siginfo: true, want: int(unix.SIGTSTP)},
		{name: "sigtstp group-stop", sig: unix.SIGTSTP, want: 0},
		{name: "sigstop group-stop", sig: unix.SIGSTOP, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlers(t)
			if tt.siginfo {
				h.k.Siginfo[spawnerPid] = &ptracer.SigInfo{Signo: tt.sig}
			}
			require.True(t, h.spawner.handle(h.result(spawnerPid, ptracetest.Stopped(tt.sig))))

			calls := h.k.CallsTo(spawnerPid)
			last := calls[len(calls)-1]
			assert.Equal(t, "cont", last.Op)
			assert.Equal(t, tt.want, last.Arg)
		})
	}
}

func TestSpawnerAttachStop(t *testing.T) {
	log, _ := test.NewNullLogger()
	k := ptracetest.New()
	var stats Result
	children := newChildRegistry(Config{Ops: k, Log: log, CapsetNo: capsetNo}, &stats)
	h := newSpawnerHandler(ptracer.NewTracee(k, spawnerPid, log), children, log)

	require.True(t, h.handle(ptracer.WaitResult{Pid: spawnerPid, Status: ptracetest.Stopped(unix.SIGSTOP)}))
	assert.False(t, h.attachPending)
	assert.Equal(t, []ptracetest.Call{
		{Op: "setoptions", Pid: spawnerPid, Arg: unix.PTRACE_O_TRACEFORK},
		{Op: "cont", Pid: spawnerPid},
	}, k.Calls)
}

func TestSpawnerForkEventFailure(t *testing.T) {
	h := newHandlers(t)
	delete(h.k.EventMsg, spawnerPid)

	assert.False(t, h.spawner.handle(h.result(spawnerPid, ptracetest.ForkEvent())))
	assert.Equal(t, SpawnerGone, h.spawner.state)
	assert.Equal(t, StatusSpawnerLost, h.spawner.status)
}

func TestSpawnerUnexpectedStatus(t *testing.T) {
	h := newHandlers(t)
	assert.False(t, h.spawner.handle(h.result(spawnerPid, 0xffff)))
	assert.Equal(t, StatusDesync, h.spawner.status)
	assert.Empty(t, h.k.Calls)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "awaiting configuration", ChildAwaitingConfiguration.String())
	assert.Equal(t, "awaiting syscall stop", ChildAwaitingSyscallStop.String())
	assert.Equal(t, "running", SpawnerRunning.String())
	assert.Equal(t, "gone", SpawnerGone.String())
}
