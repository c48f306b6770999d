//go:build unix

package liveness

import (
	"golang.org/x/sys/unix"
)

func probePID(pid int) Result {
	switch err := unix.Kill(pid, 0); err {
	case nil:
		return Alive
	case unix.EPERM:
		// The process exists but belongs to another user.
		return Alive
	case unix.ESRCH:
		return Dead
	default:
		return Unknown
	}
}
