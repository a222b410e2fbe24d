package trust

import (
	"os"
	"path/filepath"
	"strconv"

	unix "golang.org/x/sys/unix"
)

// ProcRoot is where UIDOf looks up processes.
const ProcRoot = "/proc"

// UIDOf returns the owner of /proc/<pid>, the effective uid of the process.
func UIDOf(pid int) (int, error) {
	return uidOf(ProcRoot, pid)
}

func uidOf(root string, pid int) (int, error) {
	var st unix.Stat_t
	path := filepath.Join(root, strconv.Itoa(pid))
	if err := unix.Stat(path, &st); err != nil {
		return -1, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return int(st.Uid), nil
}
