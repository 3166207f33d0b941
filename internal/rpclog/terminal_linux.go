//go:build linux

package rpclog

import (
	"syscall"
	"unsafe"
)

// tcgets is Linux's ioctl number for getting terminal attributes.
const tcgets = 0x5401

func isTerminal(fd uintptr) bool {
	var termios syscall.Termios
	_, _, err := syscall.Syscall6(
		syscall.SYS_IOCTL,
		fd,
		tcgets,
		uintptr(unsafe.Pointer(&termios)),
		0, 0, 0,
	)
	return err == 0
}
