// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package usox

import "golang.org/x/sys/unix"

// acceptConn accepts one connection, non-blocking and close-on-exec in a
// single syscall (accept4), matching spec.md §4.1's note that the child
// fd should inherit non-blocking directly where accept4 is available.
func acceptConn(listenFd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}
