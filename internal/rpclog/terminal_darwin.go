//go:build darwin

package rpclog

import (
	"syscall"
	"unsafe"
)

// isTerminal reports whether fd is a terminal on Darwin, which spells its
// "get terminal attributes" ioctl TIOCGETA where Linux uses TCGETS.
func isTerminal(fd uintptr) bool {
	var termios syscall.Termios
	_, _, err := syscall.Syscall6(
		syscall.SYS_IOCTL,
		fd,
		syscall.TIOCGETA,
		uintptr(unsafe.Pointer(&termios)),
		0, 0, 0,
	)
	return err == 0
}
