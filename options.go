// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import "time"

// --- Loop options ---

type loopOptions struct {
	log           Logger
	sweepInterval time.Duration
}

// LoopOption configures a Loop instance, following the teacher's
// functional-options idiom (an interface wrapping a closure, rather than
// a plain func type, so options can carry validation state if needed).
type LoopOption interface{ applyLoop(*loopOptions) error }

type loopOptionFunc func(*loopOptions) error

func (f loopOptionFunc) applyLoop(o *loopOptions) error { return f(o) }

// WithLogger attaches a structured logger to the loop and everything
// created from it (contexts, sockets). A nil Logger is equivalent to
// omitting the option (logging is disabled).
func WithLogger(l Logger) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.log = l
		return nil
	})
}

// WithSweepInterval overrides the default 4s timeout-wheel sweep period
// (spec.md §4.4). Intended for tests; production code should use the
// default.
func WithSweepInterval(d time.Duration) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.sweepInterval = d
		return nil
	})
}

func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		sweepInterval: sweepInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Listen options ---

// ListenFlag is a bitmask, matching the on-the-wire encoding in spec.md §6.
type ListenFlag uint32

const (
	ListenExclusivePort ListenFlag = 1 << iota
	ListenAllowHalfOpen
	ListenReusePort
	ListenIPv6Only
	ListenReuseAddr
	ListenDisallowReusePortFailure
)

// ListenOptions configures Context.Listen.
type ListenOptions struct {
	Flags ListenFlag
	// SocketExtSize is copied from the listen socket onto every Socket it
	// accepts, mirroring ListenSocket.socket_ext_size in spec.md's data
	// model; nothing reads it and no extra per-socket storage is reserved.
	// Per-socket state goes in UserData or a map keyed by *Socket.
	SocketExtSize int
}

func (o ListenOptions) has(f ListenFlag) bool { return o.Flags&f != 0 }

// --- Context options ---

// ContextCallbacks holds the per-context event handlers (spec.md §3's
// Context function pointers).
type ContextCallbacks struct {
	OnOpen               func(s *Socket, isClient bool, addr string)
	OnData               func(s *Socket, data []byte)
	OnWritable           func(s *Socket)
	OnClose              func(s *Socket, code CloseCode, reason error)
	OnEnd                func(s *Socket)
	OnTimeout            func(s *Socket)
	OnLongTimeout        func(s *Socket)
	OnConnectError       func(cs *ConnectingSocket, err error)
	OnSocketConnectError func(s *Socket, err error)
	// OnHandshake fires once per TLS socket, success reporting whether the
	// handshake completed and verifyErr the result of peer certificate
	// verification, if any (spec.md §4.5).
	OnHandshake func(s *Socket, success bool, verifyErr error)
	// IsLowPrio is consulted per spec.md §4.3's low-priority demotion rule;
	// nil means "never low priority".
	IsLowPrio func(s *Socket) bool
}

// CloseCode mirrors spec.md §6.
type CloseCode int

const (
	CloseClean CloseCode = iota
	CloseReset
)
