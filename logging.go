// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger accepted throughout the package: the
// loop, every Context, and every Socket (TLS overlay included) and UDPSocket log through
// one of these. A nil Logger is a fully valid, zero-cost no-op — every
// method on [logiface.Logger] is nil-receiver safe — so a Loop built
// without WithLogger never allocates an event.
//
// Debug carries per-iteration bookkeeping (poll count each loop pass),
// Info carries lifecycle transitions (listen, accept, connect, handshake
// complete), Warning carries recoverable conditions (low-prio demotion,
// a UDP send that would block), and Err carries fatal socket/TLS
// failures observed by Socket.closeInternal.
type Logger = *logiface.Logger[*stumpy.Event]

// NewLogger builds a Logger that writes newline-delimited JSON to w at
// the given level, using stumpy as the event backend. Callers wanting a
// different backend (or field names) should call stumpy.L.New or
// logiface.New directly instead; this exists for the common case.
func NewLogger(w io.Writer, level logiface.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithTimeField("time")),
		stumpy.L.WithWriter(w),
		stumpy.L.WithLevel(level),
	)
}
