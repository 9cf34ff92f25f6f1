// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package usox

import "golang.org/x/sys/unix"

// newWakeFd creates a self-pipe for cross-thread wakeup. Darwin has no
// eventfd; spec.md §4.1 mentions a Mach port as the native alternative,
// but a non-blocking self-pipe gives the same one-pending-wakeup
// semantics with far less platform-specific code, so that's what's used
// here (see DESIGN.md's poll backend notes).
func newWakeFd() (read, write int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// signalWakeFd posts one wakeup byte; safe to call from any goroutine.
// A full pipe buffer means a wakeup is already pending, which is fine.
func signalWakeFd(fd int) error {
	_, err := unix.Write(fd, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// drainWakeFd empties the self-pipe.
func drainWakeFd(fd int) {
	var buf [64]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}
