// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

// PollKind classifies what a Poll represents to the dispatch loop.
type PollKind uint8

const (
	KindSocket PollKind = iota
	KindSocketShutDown
	KindSemiSocket
	KindCallback
	KindUDP
)

func (k PollKind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindSocketShutDown:
		return "socket-shutdown"
	case KindSemiSocket:
		return "semi-socket"
	case KindCallback:
		return "callback"
	case KindUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// pollType packs a PollKind (3 bits) with "subscribed for writable" (bit 3)
// and "subscribed for readable" (bit 4), per the on-the-wire encoding in
// spec.md §6. Keeping it as a single byte mirrors the C source's bitfield
// and lets subscribeReadable/subscribeWritable skip the backend call with
// a cheap comparison when nothing changed.
type pollType uint8

const (
	pollBitWritable = 1 << 3
	pollBitReadable = 1 << 4
	pollKindMask    = 0x7
)

func makePollType(kind PollKind, readable, writable bool) pollType {
	pt := pollType(kind) & pollKindMask
	if readable {
		pt |= pollBitReadable
	}
	if writable {
		pt |= pollBitWritable
	}
	return pt
}

func (pt pollType) kind() PollKind   { return PollKind(pt & pollKindMask) }
func (pt pollType) readable() bool   { return pt&pollBitReadable != 0 }
func (pt pollType) writable() bool   { return pt&pollBitWritable != 0 }
func (pt pollType) withKind(k PollKind) pollType {
	return (pt &^ pollKindMask) | (pollType(k) & pollKindMask)
}

// poll is the base embedded in every poll-registered object (Socket,
// UDPSocket and the loop's wakeupPoll). It tracks the fd and the
// currently-subscribed event set so that a subscription change can no-op
// when nothing moved.
type poll struct {
	fd              int
	pt              pollType
	fallthroughPoll bool // does not count toward Loop.numPolls
}

// pollOwner is implemented by every type registered with the poll backend
// (Socket, UDPSocket, and the loop's internal wakeup poll). The backend
// looks up the owner by fd on every ready event and never touches OS
// handles directly — kind-specific dispatch lives in loop.go.
type pollOwner interface {
	pollBase() *poll
}

// readyEvent is one dispatch-ready entry produced by a backend.wait call.
type readyEvent struct {
	owner    pollOwner
	readable bool
	writable bool
	errorFlag bool
	eof      bool
}
