// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package usox

// Darwin has no MSG_NOSIGNAL; SIGPIPE suppression is set per-socket via
// SO_NOSIGPIPE in acceptConn (spec.md §4.1), so it covers accepted sockets
// only: outbound sockets from newNonblockingStreamSocket do not set it.
// Darwin also has no MSG_MORE equivalent, so msgMore has no effect here.
const (
	msgNoSignal = 0
	msgMoreFlag = 0
)
