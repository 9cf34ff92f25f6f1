// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package usox

import "golang.org/x/sys/unix"

// newWakeFd creates an eventfd for cross-thread wakeup (spec.md §5's
// wakeup_loop entry point). The same fd serves as both read and write end.
func newWakeFd() (read, write int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

// signalWakeFd posts one wakeup; safe to call from any goroutine.
func signalWakeFd(fd int) error {
	var one [8]byte
	one[0] = 1
	_, err := unix.Write(fd, one[:])
	if err == unix.EAGAIN {
		// eventfd counter saturated: an unconsumed wakeup is already
		// pending, which is the same signal we'd be sending.
		return nil
	}
	return err
}

// drainWakeFd consumes the pending wakeup count.
func drainWakeFd(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}
