// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package usox provides a cross-platform, single-threaded event loop for
// TCP, TLS, UDP and Unix-domain sockets, built around a pluggable poll
// backend (epoll on Linux, kqueue on Darwin).
//
// # Architecture
//
// A [Loop] owns the OS poll handle and a set of [Context] instances; each
// Context carries shared event callbacks plus protocol configuration and
// owns a subgraph of [Socket] values (a listening socket is just a Socket
// whose role is "listening") and [ConnectingSocket] instances.
// [Loop.Run] drives one thread: it waits on the poll backend, classifies
// each ready descriptor by kind, and dispatches to the owning Context's
// callbacks. TLS sockets interpose a handshake/record overlay
// ([TLSContext], attached via [Context.EnableTLS] or [Socket.WrapTLS])
// between the same readiness events and the user's plaintext callbacks.
//
// # Platform support
//
// I/O polling uses platform-native readiness primitives:
//   - Linux: epoll, an eventfd wakeup
//   - Darwin: kqueue, a self-pipe wakeup
//
// The timeout sweep uses no timer descriptor on either platform: its
// deadline is passed as the poll wait timeout.
//
// # Thread safety
//
// The loop is single-threaded cooperative: user callbacks run to
// completion on the loop's goroutine with no preemption inside a dispatch.
// The only safe cross-thread entry points are [Loop.Wakeup], [Loop.Close] and the
// internal DNS-completion handoff used by [ConnectingSocket]. Everything
// else — socket creation, close, shutdown, writes — must happen on the
// loop goroutine (from inside a callback, or before [Loop.Run] starts).
//
// # Usage
//
//	loop, err := usox.NewLoop()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	ctx := loop.NewContext(usox.ContextCallbacks{
//	    OnOpen: func(s *usox.Socket, isClient bool, addr string) {},
//	    OnData: func(s *usox.Socket, data []byte) { s.Write(data, false) },
//	    OnClose: func(s *usox.Socket, code usox.CloseCode, reason error) {},
//	})
//
//	if _, err := ctx.Listen("tcp", "127.0.0.1:0", usox.ListenOptions{}); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := loop.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error types
//
// Failures that a caller needs to distinguish are concrete struct types
// implementing [error], [errors.Unwrap] and [errors.Is]/[errors.As]
// matching ([HandshakeError], [ConnectError], [CreateContextError]).
// Transient syscall conditions (EAGAIN, EINTR, EINPROGRESS) are retried
// internally and never surface as Go errors.
package usox
