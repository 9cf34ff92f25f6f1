// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package usox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// unixSunPathMax is sizeof(sockaddr_un.sun_path) on Darwin.
const unixSunPathMax = 104

// resolveLongUnixPath has no Darwin equivalent of Linux's /proc/self/fd
// alias trick (no /proc), so an over-length path is simply rejected
// (spec.md §4.8 documents this as Linux-specific).
func resolveLongUnixPath(path string) (unix.Sockaddr, func(), error) {
	return nil, nil, fmt.Errorf("usox: unix socket path %q exceeds sun_path length", path)
}
