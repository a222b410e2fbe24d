// Package ptracetest provides a scripted ptracer.Ops for tests.
package ptracetest

import (
	"fmt"

	"github.com/Luminger/AnJaRoot/ptracer"
	unix "golang.org/x/sys/unix"
)

// Call records one request made against the Kernel.
type Call struct {
	Op   string
	Pid  int
	Arg  int
	Addr uintptr
	Data []byte
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%d, %d)", c.Op, c.Pid, c.Arg)
}

// Event is one scripted wait4 result. A non-nil Err is returned instead of
// a state change. Msg and Info, when set, become the event message and the
// siginfo of Pid once the event is delivered.
type Event struct {
	Pid    int
	Status unix.WaitStatus
	Err    error

	Msg  uint
	Info *ptracer.SigInfo
}

// Kernel replays Events from Wait4 and records every other request. Once
// the script is drained OnDrain runs and Wait4 returns EINTR.
type Kernel struct {
	Events  []Event
	OnDrain func()

	EventMsg map[int]uint
	Siginfo  map[int]*ptracer.SigInfo
	Regs     map[int]unix.PtraceRegs
	// Mem is the flat address space shared by all tracees
	Mem map[uintptr]byte

	// Fail injects an error for a request. Failed requests are still
	// recorded in Calls. It may be nil.
	Fail func(op string, pid int) error

	Calls []Call
}

// New returns an empty Kernel replaying events.
func New(events ...Event) *Kernel {
	return &Kernel{
		Events:   events,
		EventMsg: map[int]uint{},
		Siginfo:  map[int]*ptracer.SigInfo{},
		Regs:     map[int]unix.PtraceRegs{},
		Mem:      map[uintptr]byte{},
	}
}

var _ ptracer.Ops = (*Kernel)(nil)

func (k *Kernel) do(c Call) error {
	k.Calls = append(k.Calls, c)
	if k.Fail != nil {
		return k.Fail(c.Op, c.Pid)
	}
	return nil
}

func (k *Kernel) Attach(pid int) error {
	return k.do(Call{Op: "attach", Pid: pid})
}

func (k *Kernel) Detach(pid int, sig int) error {
	return k.do(Call{Op: "detach", Pid: pid, Arg: sig})
}

func (k *Kernel) Cont(pid int, sig int) error {
	return k.do(Call{Op: "cont", Pid: pid, Arg: sig})
}

func (k *Kernel) Syscall(pid int, sig int) error {
	return k.do(Call{Op: "syscall", Pid: pid, Arg: sig})
}

func (k *Kernel) SetOptions(pid int, options int) error {
	return k.do(Call{Op: "setoptions", Pid: pid, Arg: options})
}

func (k *Kernel) GetEventMsg(pid int) (uint, error) {
	if err := k.do(Call{Op: "geteventmsg", Pid: pid}); err != nil {
		return 0, err
	}
	msg, ok := k.EventMsg[pid]
	if !ok {
		return 0, unix.ESRCH
	}
	return msg, nil
}

func (k *Kernel) GetSiginfo(pid int) (*ptracer.SigInfo, error) {
	if err := k.do(Call{Op: "getsiginfo", Pid: pid}); err != nil {
		return nil, err
	}
	info, ok := k.Siginfo[pid]
	if !ok {
		return nil, unix.EINVAL
	}
	return info, nil
}

func (k *Kernel) GetRegs(pid int, regs *unix.PtraceRegs) error {
	if err := k.do(Call{Op: "getregs", Pid: pid}); err != nil {
		return err
	}
	r, ok := k.Regs[pid]
	if !ok {
		return unix.ESRCH
	}
	*regs = r
	return nil
}

func (k *Kernel) PeekData(pid int, addr uintptr, out []byte) (int, error) {
	if err := k.do(Call{Op: "peekdata", Pid: pid, Addr: addr}); err != nil {
		return 0, err
	}
	for i := range out {
		b, ok := k.Mem[addr+uintptr(i)]
		if !ok {
			return i, unix.EIO
		}
		out[i] = b
	}
	return len(out), nil
}

func (k *Kernel) PokeData(pid int, addr uintptr, data []byte) (int, error) {
	cp := append([]byte(nil), data...)
	if err := k.do(Call{Op: "pokedata", Pid: pid, Addr: addr, Data: cp}); err != nil {
		return 0, err
	}
	for i, b := range data {
		if _, ok := k.Mem[addr+uintptr(i)]; !ok {
			return i, unix.EIO
		}
		k.Mem[addr+uintptr(i)] = b
	}
	return len(data), nil
}

func (k *Kernel) Wait4(status *unix.WaitStatus) (int, error) {
	if len(k.Events) == 0 {
		if k.OnDrain != nil {
			k.OnDrain()
			k.OnDrain = nil
		}
		return -1, unix.EINTR
	}
	ev := k.Events[0]
	k.Events = k.Events[1:]
	if ev.Err != nil {
		return -1, ev.Err
	}
	if ev.Msg != 0 {
		k.EventMsg[ev.Pid] = ev.Msg
	}
	if ev.Info != nil {
		k.Siginfo[ev.Pid] = ev.Info
	}
	*status = ev.Status
	return ev.Pid, nil
}

// Store maps data into Mem at addr.
func (k *Kernel) Store(addr uintptr, data []byte) {
	for i, b := range data {
		k.Mem[addr+uintptr(i)] = b
	}
}

// Load reads n bytes of Mem at addr. Unmapped bytes read as zero.
func (k *Kernel) Load(addr uintptr, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = k.Mem[addr+uintptr(i)]
	}
	return out
}

// CallsTo returns the recorded requests against pid.
func (k *Kernel) CallsTo(pid int) []Call {
	var out []Call
	for _, c := range k.Calls {
		if c.Pid == pid {
			out = append(out, c)
		}
	}
	return out
}

// History returns the names of the requests against pid in order.
func (k *Kernel) History(pid int) []string {
	var out []string
	for _, c := range k.CallsTo(pid) {
		out = append(out, c.Op)
	}
	return out
}

// Count returns how often op was requested for pid.
func (k *Kernel) Count(op string, pid int) int {
	n := 0
	for _, c := range k.CallsTo(pid) {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Status builders for scripted events.

// Exited is the status of a normal exit with code.
func Exited(code int) unix.WaitStatus {
	return unix.WaitStatus(code&0xff) << 8
}

// Killed is the status of a termination by sig.
func Killed(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(sig & 0x7f)
}

// Stopped is the status of a signal-delivery-stop.
func Stopped(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(sig&0xff)<<8 | 0x7f
}

// ForkEvent is the status of a PTRACE_EVENT_FORK stop.
func ForkEvent() unix.WaitStatus {
	return EventStop(unix.PTRACE_EVENT_FORK)
}

// EventStop is the status of a PTRACE_EVENT_* stop.
func EventStop(event int) unix.WaitStatus {
	return unix.WaitStatus(event)<<16 | Stopped(unix.SIGTRAP)
}

// SyscallStop is the status of a syscall stop with PTRACE_O_TRACESYSGOOD.
func SyscallStop() unix.WaitStatus {
	return Stopped(unix.SIGTRAP | 0x80)
}
