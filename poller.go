// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// The poller_*.go platform variants implement the poll multiplexer used by Loop:
// epoll on Linux (poller_linux.go), kqueue on Darwin (poller_darwin.go).
// Both expose the same unexported surface — newBackend, add, modify,
// remove, wait, close — so loop.go never branches on platform.
package usox
