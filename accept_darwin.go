// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package usox

import "golang.org/x/sys/unix"

// acceptConn accepts one connection. Darwin's accept has no non-blocking
// flag, so per spec.md §4.1 the dispatcher sets O_NONBLOCK and O_CLOEXEC
// explicitly after accepting.
func acceptConn(listenFd int) (int, unix.Sockaddr, error) {
	fd, sa, err := unix.Accept(listenFd)
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	unix.CloseOnExec(fd)
	// SO_NOSIGPIPE per spec.md §4.1's macOS accept note.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
	return fd, sa, nil
}
