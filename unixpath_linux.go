// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package usox

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// unixSunPathMax is sizeof(sockaddr_un.sun_path) on Linux.
const unixSunPathMax = 108

// resolveLongUnixPath implements spec.md §4.8's workaround for paths that
// don't fit in sockaddr_un.sun_path: open the parent directory O_PATH, and
// bind against the short "/proc/self/fd/<dirfd>/<basename>" alias instead.
// The returned cleanup closes dirfd; callers must invoke it after bind.
func resolveLongUnixPath(path string) (unix.Sockaddr, func(), error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	dirfd, err := unix.Open(dir, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, nil, err
	}
	alias := fmt.Sprintf("/proc/self/fd/%d/%s", dirfd, base)
	cleanup := func() { _ = unix.Close(dirfd) }
	return &unix.SockaddrUnix{Name: alias}, cleanup, nil
}
