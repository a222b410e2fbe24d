package ptracer

import (
	"encoding/binary"
	"fmt"

	"github.com/Luminger/AnJaRoot/pkg/capset"
)

// PatchPermittedAt overwrites the permitted field of the capset data triple
// at addr in tracee memory with the full mask. Only the four bytes of the
// permitted field are written. It returns the triple as it was before.
func PatchPermittedAt(t *Tracee, addr uintptr) (capset.Triple, error) {
	if addr == 0 {
		return capset.Triple{}, fmt.Errorf("capset data pointer of %d is NULL", t.pid)
	}
	buf := make([]byte, capset.Size)
	if err := t.ReadMemory(addr, buf); err != nil {
		return capset.Triple{}, err
	}
	prev, err := capset.Decode(buf)
	if err != nil {
		return capset.Triple{}, err
	}
	var word [4]byte
	binary.NativeEndian.PutUint32(word[:], capset.FullMask)
	if err := t.WriteMemory(addr+capset.PermittedOffset, word[:]); err != nil {
		return prev, err
	}
	return prev, nil
}
