package supervisor

import (
	"fmt"

	"github.com/sirupsen/logrus"
	unix "golang.org/x/sys/unix"

	"github.com/Luminger/AnJaRoot/pkg/capset"
	"github.com/Luminger/AnJaRoot/pkg/syscalls"
	"github.com/Luminger/AnJaRoot/ptracer"
	"github.com/Luminger/AnJaRoot/trust"
)

// ChildState is the position of a traced child in its lifecycle.
type ChildState int

const (
	// ChildAwaitingConfiguration children were announced by a fork event
	// and have not reported their initial SIGSTOP yet.
	ChildAwaitingConfiguration ChildState = iota
	// ChildAwaitingSyscallStop children are resumed with PTRACE_SYSCALL
	// until they enter capset.
	ChildAwaitingSyscallStop
)

func (s ChildState) String() string {
	switch s {
	case ChildAwaitingConfiguration:
		return "awaiting configuration"
	case ChildAwaitingSyscallStop:
		return "awaiting syscall stop"
	}
	return "unknown"
}

type child struct {
	tracee *ptracer.Tracee
	state  ChildState
}

// childRegistry holds every traced child of the spawner. A pid is present
// from the moment it is first seen until it is detached or has died.
type childRegistry struct {
	ops      ptracer.Ops
	arch     ptracer.Arch
	oracle   trust.Oracle
	uidOf    func(pid int) (int, error)
	log      logrus.Ext1FieldLogger
	capsetNo int

	children map[int]*child
	stats    *Result
}

func (r *childRegistry) state(pid int) (ChildState, bool) {
	c, ok := r.children[pid]
	if !ok {
		return 0, false
	}
	return c.state, true
}

func (r *childRegistry) len() int {
	return len(r.children)
}

func (r *childRegistry) add(pid int) *child {
	c := &child{tracee: ptracer.NewTracee(r.ops, pid, r.log)}
	r.children[pid] = c
	r.stats.Children++
	return c
}

// forked records a child announced by the spawner's fork event.
func (r *childRegistry) forked(pid int) {
	log := r.log.WithField("pid", pid)
	c, ok := r.children[pid]
	if !ok {
		r.add(pid)
		log.Debug("child forked, waiting for its initial stop")
		return
	}
	// the initial SIGSTOP won the race and the child is running already
	log.WithField("state", c.state.String()).Debug("fork event for known child")
}

// reaped drops a child the spawner received SIGCHLD for.
func (r *childRegistry) reaped(pid int) {
	if _, ok := r.children[pid]; !ok {
		return
	}
	r.log.WithField("pid", pid).Debug("child reaped by spawner")
	r.release(pid, 0)
}

// handle processes a wait result of a pid other than the spawner.
func (r *childRegistry) handle(res ptracer.WaitResult) {
	log := r.log.WithFields(res.Fields())
	c, ok := r.children[res.Pid]
	if !ok {
		r.handleUnknown(res, log)
		return
	}

	switch {
	case res.Exited(), res.Signaled():
		log.Debug("child terminated")
		r.release(res.Pid, 0)

	case res.InSyscall():
		r.syscallStop(c, log)

	case res.Stopped():
		sig := res.StopSignal()
		switch {
		case sig == unix.SIGSTOP && c.state == ChildAwaitingConfiguration:
			r.configure(c, log)
		case sig == unix.SIGTRAP && res.Event() != 0:
			r.resume(c, 0, log)
		default:
			r.resume(c, sig, log)
		}

	default:
		log.Error("unexpected child wait status")
		r.release(res.Pid, 0)
	}
}

func (r *childRegistry) handleUnknown(res ptracer.WaitResult, log logrus.Ext1FieldLogger) {
	switch {
	case res.Stopped() && res.StopSignal() == unix.SIGSTOP:
		// initial stop before the spawner's fork event
		c := r.add(res.Pid)
		log.Debug("child stopped before its fork event")
		r.configure(c, log)
	case res.Stopped():
		log.Warn("stop of untracked process, detaching")
		sig := res.StopSignal()
		if res.InSyscall() || res.Event() != 0 {
			sig = 0
		}
		ptracer.NewTracee(r.ops, res.Pid, r.log).Detach(sig)
	default:
		log.Debug("untracked process terminated")
	}
}

// configure marks syscall stops and arms the child. It runs exactly once
// per child, in whichever path first sees it stopped.
func (r *childRegistry) configure(c *child, log logrus.Ext1FieldLogger) {
	if err := c.tracee.EnableSyscallTraceMarking(); err != nil {
		log.WithError(err).Error("configure child")
		r.release(c.tracee.Pid(), 0)
		return
	}
	c.state = ChildAwaitingSyscallStop
	if err := c.tracee.StepToNextSyscallStop(0); err != nil {
		log.WithError(err).Error("arm child")
		r.release(c.tracee.Pid(), 0)
	}
}

// resume continues a child in the mode matching its state.
func (r *childRegistry) resume(c *child, sig unix.Signal, log logrus.Ext1FieldLogger) {
	var err error
	if c.state == ChildAwaitingSyscallStop {
		err = c.tracee.StepToNextSyscallStop(sig)
	} else {
		err = c.tracee.Resume(sig)
	}
	if err != nil {
		log.WithError(err).Warn("resume child")
		r.release(c.tracee.Pid(), 0)
	}
}

func (r *childRegistry) syscallStop(c *child, log logrus.Ext1FieldLogger) {
	pid := c.tracee.Pid()
	if c.state != ChildAwaitingSyscallStop {
		log.Error("syscall stop of unarmed child")
		r.release(pid, 0)
		return
	}
	no, entry, err := r.arch.SyscallNo(c.tracee)
	if err != nil {
		log.WithError(err).Error("decode syscall")
		r.release(pid, 0)
		return
	}
	if !entry || no != r.capsetNo {
		if entry {
			if name, err := syscalls.ToSyscallName(uint(no)); err == nil {
				log = log.WithField("syscall", name)
			}
			log.Trace("syscall entry")
		}
		r.resume(c, 0, log)
		return
	}
	r.elevate(c, log)
	r.release(pid, 0)
}

// elevate patches the capset data of a trusted child. Failures of the
// trust source or the patch leave the child unelevated.
func (r *childRegistry) elevate(c *child, log logrus.Ext1FieldLogger) {
	pid := c.tracee.Pid()
	defer func() {
		if err := recover(); err != nil {
			log.WithField("panic", fmt.Sprint(err)).Error("trust check panicked")
		}
	}()

	uid, err := r.uidOf(pid)
	if err != nil {
		log.WithError(err).Error("resolve child uid")
		return
	}
	log = log.WithField("uid", uid)
	if !r.oracle.IsGranted(uid) {
		r.stats.Denied++
		log.Debug("child is not a target")
		return
	}
	prev, err := r.arch.PatchPermitted(c.tracee)
	if err != nil {
		log.WithError(err).Error("patch capset data")
		return
	}
	r.stats.Elevated++
	log.WithFields(logrus.Fields{
		"effective":   capset.Describe(prev.Effective),
		"permitted":   capset.Describe(prev.Permitted),
		"inheritable": capset.Describe(prev.Inheritable),
	}).Info("child is a target, permitted set raised to full")
}

// release detaches and forgets pid.
func (r *childRegistry) release(pid int, sig unix.Signal) {
	c, ok := r.children[pid]
	if !ok {
		return
	}
	delete(r.children, pid)
	c.tracee.Detach(sig)
}

// releaseAll detaches every child.
func (r *childRegistry) releaseAll() {
	for pid := range r.children {
		r.release(pid, 0)
	}
}

func newChildRegistry(cfg Config, stats *Result) *childRegistry {
	capsetNo := cfg.CapsetNo
	if capsetNo == 0 {
		capsetNo = syscalls.Capset()
	}
	return &childRegistry{
		ops:      cfg.Ops,
		arch:     cfg.Arch,
		oracle:   cfg.Oracle,
		uidOf:    cfg.UIDOf,
		log:      cfg.Log,
		capsetNo: capsetNo,
		children: make(map[int]*child),
		stats:    stats,
	}
}
