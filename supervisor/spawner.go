package supervisor

import (
	"errors"

	"github.com/sirupsen/logrus"
	unix "golang.org/x/sys/unix"

	"github.com/Luminger/AnJaRoot/ptracer"
)

// SpawnerState tells whether the spawner is still traced.
type SpawnerState int

const (
	SpawnerRunning SpawnerState = iota
	SpawnerGone
)

func (s SpawnerState) String() string {
	if s == SpawnerGone {
		return "gone"
	}
	return "running"
}

type spawnerHandler struct {
	tracee   *ptracer.Tracee
	children *childRegistry
	log      logrus.Ext1FieldLogger

	state SpawnerState
	// status explains why the spawner is gone
	status Status
	err    error
	// attachPending is set until the SIGSTOP caused by PTRACE_ATTACH
	attachPending bool
}

func newSpawnerHandler(t *ptracer.Tracee, children *childRegistry, log logrus.Ext1FieldLogger) *spawnerHandler {
	return &spawnerHandler{
		tracee:        t,
		children:      children,
		log:           log.WithField("role", "spawner"),
		attachPending: true,
	}
}

func (h *spawnerHandler) pid() int { return h.tracee.Pid() }

// handle processes a wait result of the spawner and reports whether tracing
// can go on.
func (h *spawnerHandler) handle(res ptracer.WaitResult) bool {
	log := h.log.WithFields(res.Fields())
	switch {
	case res.Exited():
		log.Warn("spawner exited")
		return h.gone(StatusSpawnerExited, nil)

	case res.Signaled():
		log.Warn("spawner killed")
		return h.gone(StatusSpawnerSignaled, nil)

	case res.IsForkEvent():
		return h.handleFork(log)

	case res.Stopped():
		return h.handleStop(res, log)
	}
	log.Error("unexpected spawner wait status")
	return h.gone(StatusDesync, errors.New("unexpected spawner wait status"))
}

func (h *spawnerHandler) handleFork(log logrus.Ext1FieldLogger) bool {
	pid, err := h.tracee.PendingForkedPid()
	if err != nil {
		log.WithError(err).Error("read forked pid")
		return h.gone(StatusSpawnerLost, err)
	}
	h.children.forked(pid)
	return h.resume(0, log)
}

func (h *spawnerHandler) handleStop(res ptracer.WaitResult, log logrus.Ext1FieldLogger) bool {
	sig := res.StopSignal()
	switch {
	case sig == unix.SIGSTOP && h.attachPending:
		h.attachPending = false
		if err := h.tracee.EnableChildTracing(); err != nil {
			log.WithError(err).Error("enable fork tracing")
			return h.gone(StatusSetupFailed, err)
		}
		log.Info("tracing spawner")
		return h.resume(0, log)

	case sig == unix.SIGTRAP && res.Event() != 0:
		return h.resume(0, log)

	case sig == unix.SIGCHLD:
		if info, err := h.tracee.PendingSignalInfo(); err == nil {
			h.children.reaped(info.Pid)
		} else {
			log.WithError(err).Debug("SIGCHLD without siginfo")
		}
		return h.resume(sig, log)

	case isStopSignal(sig):
		// a group-stop has no siginfo, it must not be re-injected
		if _, err := h.tracee.PendingSignalInfo(); errors.Is(err, unix.EINVAL) {
			log.Debug("spawner group-stop")
			return h.resume(0, log)
		}
	}
	return h.resume(sig, log)
}

func (h *spawnerHandler) resume(sig unix.Signal, log logrus.Ext1FieldLogger) bool {
	if err := h.tracee.Resume(sig); err != nil {
		log.WithError(err).Error("resume spawner")
		return h.gone(StatusSpawnerLost, err)
	}
	return true
}

func (h *spawnerHandler) gone(status Status, err error) bool {
	h.state = SpawnerGone
	h.status = status
	h.err = err
	return false
}

func isStopSignal(sig unix.Signal) bool {
	switch sig {
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		return true
	}
	return false
}
