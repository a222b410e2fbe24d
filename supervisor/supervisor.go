// Package supervisor runs one trace epoch: it attaches the spawner, follows
// every child it forks and raises the permitted capability set of trusted
// children when they call capset.
package supervisor

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	unix "golang.org/x/sys/unix"

	"github.com/Luminger/AnJaRoot/pkg/capset"
	"github.com/Luminger/AnJaRoot/ptracer"
	"github.com/Luminger/AnJaRoot/trust"
)

// Config wires the collaborators of a Supervisor.
type Config struct {
	// Ops issues ptrace requests, ptracer.Kernel{} when nil
	Ops ptracer.Ops
	// Arch decodes syscall stops, ptracer.Native when nil
	Arch ptracer.Arch
	// Oracle decides which uids are elevated
	Oracle trust.Oracle
	// UIDOf resolves the effective uid of a pid, trust.UIDOf when nil
	UIDOf func(pid int) (int, error)
	// Log receives every diagnostic, logrus.StandardLogger() when nil
	Log logrus.Ext1FieldLogger

	// Running is cleared to stop the epoch between two waits
	Running *atomic.Bool
	// SpawnerPid is the process to attach
	SpawnerPid int
	// CapsetNo overrides the capset syscall number of the running
	// architecture
	CapsetNo int
}

// Supervisor owns the spawner and all of its traced children for one epoch.
type Supervisor struct {
	ops        ptracer.Ops
	log        logrus.Ext1FieldLogger
	running    *atomic.Bool
	spawnerPid int

	spawner  *spawnerHandler
	children *childRegistry
	result   Result
}

// New creates a Supervisor. Nothing is attached before Run.
func New(cfg Config) *Supervisor {
	if cfg.Ops == nil {
		cfg.Ops = ptracer.Kernel{}
	}
	if cfg.Arch == nil {
		cfg.Arch = ptracer.Native
	}
	if cfg.UIDOf == nil {
		cfg.UIDOf = trust.UIDOf
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Running == nil {
		cfg.Running = new(atomic.Bool)
		cfg.Running.Store(true)
	}
	s := &Supervisor{
		ops:        cfg.Ops,
		log:        cfg.Log,
		running:    cfg.Running,
		spawnerPid: cfg.SpawnerPid,
	}
	s.result.Spawner = cfg.SpawnerPid
	s.children = newChildRegistry(cfg, &s.result)
	return s
}

// Run traces until the running flag is cleared or the spawner is lost. All
// tracees are detached before it returns.
//
// The epoch runs on a dedicated OS thread that is never unlocked. Tracees
// that were running at shutdown cannot be detached with PTRACE_DETACH, the
// kernel releases them when that thread exits.
func (s *Supervisor) Run() Result {
	done := make(chan Result, 1)
	go func() {
		runtime.LockOSThread()
		done <- s.run()
	}()
	return <-done
}

func (s *Supervisor) run() (result Result) {
	sTime := time.Now()
	defer func() {
		if err := recover(); err != nil {
			s.log.WithField("panic", fmt.Sprint(err)).Error("supervisor panicked")
			s.result.Status = StatusPanic
			s.result.Error = fmt.Sprint(err)
		}
		s.shutdown()
		s.result.RunningTime = time.Since(sTime)
		result = s.result
	}()

	log := s.log.WithField("spawner", s.spawnerPid)
	tracee, err := ptracer.Attach(s.ops, s.spawnerPid, s.log)
	if err != nil {
		log.WithError(err).Error("attach spawner")
		s.result.Status = StatusSetupFailed
		s.result.Error = err.Error()
		return
	}
	s.spawner = newSpawnerHandler(tracee, s.children, s.log)
	if caps, err := capset.Snapshot(s.spawnerPid); err == nil {
		log.WithField("permitted", capset.Describe(caps.Permitted)).Info("attached to spawner")
	} else {
		log.Info("attached to spawner")
	}

	s.result.Status = s.loop()
	if s.spawner.err != nil {
		s.result.Error = s.spawner.err.Error()
	}
	return
}

func (s *Supervisor) loop() Status {
	for s.running.Load() {
		res, err := ptracer.Wait(s.ops)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				s.log.Trace("wait interrupted")
			case errors.Is(err, unix.ECHILD):
				s.log.Debug("no tracees to wait for")
			default:
				s.log.WithError(err).Error("wait failed")
			}
			continue
		}

		if res.Pid == s.spawner.pid() {
			if !s.spawner.handle(res) {
				return s.spawner.status
			}
			continue
		}
		s.children.handle(res)
	}
	return StatusShutdown
}

// shutdown detaches every child and then the spawner.
func (s *Supervisor) shutdown() {
	if n := s.children.len(); n > 0 {
		s.log.WithField("children", n).Info("detaching children")
	}
	s.children.releaseAll()
	if s.spawner != nil {
		s.spawner.tracee.Detach(0)
	}
}
