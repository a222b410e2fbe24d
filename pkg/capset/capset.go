// Package capset describes the data argument of capset(2) and reads the
// capability sets of live processes.
package capset

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/moby/sys/capability"
)

const (
	// Size is the byte size of the effective, permitted, inheritable triple
	Size = 12

	EffectiveOffset   = 0
	PermittedOffset   = 4
	InheritableOffset = 8

	// FullMask grants every capability of the first 32 bit word
	FullMask uint32 = 0xFFFFFFFF
)

// Triple is one __user_cap_data_struct.
type Triple struct {
	Effective   uint32
	Permitted   uint32
	Inheritable uint32
}

// Decode reads a triple in host byte order.
func Decode(b []byte) (Triple, error) {
	if len(b) < Size {
		return Triple{}, fmt.Errorf("capset data too short: %d bytes", len(b))
	}
	ne := binary.NativeEndian
	return Triple{
		Effective:   ne.Uint32(b[EffectiveOffset:]),
		Permitted:   ne.Uint32(b[PermittedOffset:]),
		Inheritable: ne.Uint32(b[InheritableOffset:]),
	}, nil
}

// Encode returns the triple in host byte order.
func (t Triple) Encode() []byte {
	b := make([]byte, Size)
	ne := binary.NativeEndian
	ne.PutUint32(b[EffectiveOffset:], t.Effective)
	ne.PutUint32(b[PermittedOffset:], t.Permitted)
	ne.PutUint32(b[InheritableOffset:], t.Inheritable)
	return b
}

func (t Triple) String() string {
	return fmt.Sprintf("effective=%#08x permitted=%#08x inheritable=%#08x",
		t.Effective, t.Permitted, t.Inheritable)
}

// Names lists the capabilities set in a 32 bit mask.
func Names(mask uint32) []string {
	var names []string
	for _, c := range capability.ListKnown() {
		if c < 32 && mask&(1<<uint(c)) != 0 {
			names = append(names, c.String())
		}
	}
	return names
}

// Describe renders a mask as a comma separated name list.
func Describe(mask uint32) string {
	switch mask {
	case 0:
		return "none"
	case FullMask:
		return "full"
	}
	return strings.Join(Names(mask), ",")
}

// Snapshot reads the low word of the capability sets of pid.
func Snapshot(pid int) (Triple, error) {
	caps, err := capability.NewPid2(pid)
	if err != nil {
		return Triple{}, err
	}
	if err := caps.Load(); err != nil {
		return Triple{}, err
	}
	var t Triple
	for _, c := range capability.ListKnown() {
		if c >= 32 {
			continue
		}
		bit := uint32(1) << uint(c)
		if caps.Get(capability.EFFECTIVE, c) {
			t.Effective |= bit
		}
		if caps.Get(capability.PERMITTED, c) {
			t.Permitted |= bit
		}
		if caps.Get(capability.INHERITABLE, c) {
			t.Inheritable |= bit
		}
	}
	return t, nil
}
