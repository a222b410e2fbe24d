// Package unixsocket provides the unix socket helpers of the daemon: peer
// credential lookup of a listening service and the single instance lock.
//
// Addresses starting with '@' name the Linux abstract namespace.
package unixsocket

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	unix "golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Lock when another process holds the name.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Socket wraps a connected unix stream socket.
type Socket struct {
	*net.UnixConn
}

// Dial connects to the stream socket at addr.
func Dial(addr string) (*Socket, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: addr, Net: "unix"})
	if err != nil {
		return nil, err
	}
	return &Socket{UnixConn: conn}, nil
}

// PeerCred returns the credentials the peer had when it called listen or
// connect.
func (s *Socket) PeerCred() (*unix.Ucred, error) {
	sysconn, err := s.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	err = sysconn.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	if credErr != nil {
		return nil, fmt.Errorf("SO_PEERCRED: %w", credErr)
	}
	return cred, nil
}

// PeerPid connects to addr and returns the pid of the process listening on
// it. The connection is closed before returning.
func PeerPid(addr string) (int, error) {
	s, err := Dial(addr)
	if err != nil {
		return -1, fmt.Errorf("PeerPid: %w", err)
	}
	defer s.Close()

	cred, err := s.PeerCred()
	if err != nil {
		return -1, fmt.Errorf("PeerPid: %w", err)
	}
	if cred.Pid <= 0 {
		return -1, fmt.Errorf("PeerPid: %s reported pid %d", addr, cred.Pid)
	}
	return int(cred.Pid), nil
}

// Lock binds the abstract socket name. The kernel releases the name when
// the returned listener is closed or the process dies.
func Lock(name string) (*net.UnixListener, error) {
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: "@" + name, Net: "unix"})
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		return nil, err
	}
	return l, nil
}
