// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"net"

	"golang.org/x/sys/unix"
)

type socketRole uint8

const (
	roleNormal socketRole = iota
	roleListening
	roleConnecting
)

// timeoutDisarmed is the sentinel "no timeout scheduled" value for
// Socket.timeout/longTimeout (spec.md §3).
const timeoutDisarmed uint8 = 255

// Socket is a single connected, listening, or in-flight-connecting
// file descriptor registered with the loop's poll backend (spec.md §3).
// A Socket is only ever safe to touch from the loop goroutine: from
// inside a callback, or before Loop.Run starts.
type Socket struct {
	poll
	loop *Loop
	ctx  *Context

	prev, next  *Socket // intrusive list within ctx.sockets/ctx.listenSockets
	lowPrioNext *Socket // intrusive singly-linked list within loop.lowPrioHead

	timeout      uint8
	longTimeout  uint8
	lowPrioState uint8 // 0 normal, 1 in low-prio queue, 2 was delayed this iteration

	role          socketRole
	allowHalfOpen bool
	isPaused      bool
	closed        bool
	shutdownWrite bool // SHUT_WR issued (half-open)
	lastWriteFail bool

	extSize int // listen: copied onto accepted sockets; not otherwise read

	connectState *ConnectingSocket // non-nil when role == roleConnecting

	tls *tlsSocketState // non-nil once wrapped with TLS

	remoteAddr net.Addr
	localAddr  net.Addr

	userData any
}

func (s *Socket) pollBase() *poll { return &s.poll }

// UserData returns the arbitrary value last set by SetUserData. Go
// callers generally prefer a map keyed by *Socket, but this mirrors
// ListenSocket.socket_ext_size's role of carrying per-socket state.
func (s *Socket) UserData() any          { return s.userData }
func (s *Socket) SetUserData(v any)      { s.userData = v }
func (s *Socket) Context() *Context      { return s.ctx }
func (s *Socket) IsClosed() bool         { return s.closed }
func (s *Socket) IsShutdownWrite() bool  { return s.shutdownWrite }

// IsEstablished reports whether the socket has completed connection
// setup (is neither a listen socket nor a still-connecting candidate).
// Supplements spec.md's data model per SPEC_FULL.md §12.
func (s *Socket) IsEstablished() bool {
	return !s.closed && s.role == roleNormal && s.pt.kind() != KindSemiSocket
}

// LocalAddr and RemoteAddr supplement the core per SPEC_FULL.md §12.
// LocalAddr is set for listen sockets only and is nil for accepted and
// connected sockets; RemoteAddr is set for accepted and connected sockets.
func (s *Socket) LocalAddr() net.Addr  { return s.localAddr }
func (s *Socket) RemoteAddr() net.Addr { return s.remoteAddr }

// SetTimeout arms the short timeout: the sweep fires OnTimeout on the
// ceil(seconds/4)-th sweep after the call, which with the default 4s
// sweep interval is more than (ceil(seconds/4)-1)*4 and at most about
// ceil(seconds/4)*4 seconds later. Zero disarms it.
func (s *Socket) SetTimeout(seconds int) {
	if seconds <= 0 {
		s.timeout = timeoutDisarmed
		return
	}
	ticks := uint8((seconds + 3) / 4)
	s.timeout = (s.ctx.timestamp + ticks) % 240
}

// SetLongTimeout arms the long (minute-granularity) timeout.
func (s *Socket) SetLongTimeout(minutes int) {
	if minutes <= 0 {
		s.longTimeout = timeoutDisarmed
		return
	}
	s.longTimeout = (s.ctx.longTimestamp + uint8(minutes)) % 240
}

// Write sends data. For plain sockets msgMore adds MSG_MORE to the send()
// flags (a TCP_CORK-style batching hint); the TLS overlay ignores it.
// Returns the number of bytes actually written; a partial write leaves the
// socket subscribed for writable so ContextCallbacks.OnWritable can resume
// it.
func (s *Socket) Write(data []byte, msgMore bool) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if s.shutdownWrite {
		return 0, ErrShutdownWrite
	}
	if s.tls != nil {
		return s.tls.write(data, msgMore)
	}
	return s.rawWrite(data, msgMore)
}

func (s *Socket) rawWrite(data []byte, msgMore bool) (int, error) {
	flags := unix.MSG_DONTWAIT | msgNoSignal
	if msgMore {
		flags |= msgMoreFlag
	}
	n, err := unix.Send(s.fd, data, flags)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			s.lastWriteFail = true
			s.subscribeWritable(true)
			return 0, nil
		}
		return 0, err
	}
	if n < len(data) {
		s.lastWriteFail = true
		s.subscribeWritable(true)
	}
	return n, nil
}

// Flush is a no-op for plain sockets (writes are not buffered beyond the
// kernel socket buffer). For TLS sockets it pushes any ciphertext the
// overlay has already produced onto the fd; plaintext the writer goroutine
// has not yet encrypted is not forced out. Supplements spec.md per
// SPEC_FULL.md §12.
func (s *Socket) Flush() {
	if s.tls != nil {
		s.tls.flush()
	}
}

func (s *Socket) subscribeWritable(want bool) {
	if s.pt.writable() == want {
		return
	}
	s.pt = makePollType(s.pt.kind(), s.pt.readable(), want)
	_ = s.loop.be.modify(s)
}

func (s *Socket) subscribeReadable(want bool) {
	if s.pt.readable() == want {
		return
	}
	s.pt = makePollType(s.pt.kind(), want, s.pt.writable())
	_ = s.loop.be.modify(s)
}

// Shutdown issues a half-open write-shutdown (spec.md §4.3): the
// subscription for writable is cleared, SHUT_WR is sent, and further
// Write calls return ErrShutdownWrite. A subsequent zero-length read is
// treated as a clean close rather than a reset.
func (s *Socket) Shutdown() {
	if s.closed || s.shutdownWrite {
		return
	}
	s.shutdownWrite = true
	s.pt = s.pt.withKind(KindSocketShutDown)
	s.subscribeWritable(false)
	_ = unix.Shutdown(s.fd, unix.SHUT_WR)
}

// Close closes the socket (spec.md §4.3's close protocol). Idempotent:
// closing an already-closed socket is a no-op.
func (s *Socket) Close(code CloseCode) {
	s.closeInternal(code, nil)
}

// closeInternal performs the full close protocol. reason is non-nil for
// abortive closes discovered during dispatch (spec.md §7) and is only
// meaningful if the socket had already reached on_open. Sockets that
// never got there (listen sockets and connect candidates) never receive
// OnClose; a failed outbound connect is reported through OnConnectError.
func (s *Socket) closeInternal(code CloseCode, reason error) {
	if s.closed {
		return
	}
	ctx := s.ctx
	ctx.ref()

	if s.lowPrioState == 1 {
		s.loop.removeLowPrio(s)
		ctx.unref()
	} else {
		ctx.unlinkFromList(s)
	}

	_ = s.loop.be.remove(s)
	s.loop.decPolls(&s.poll)

	if s.tls != nil {
		s.tls.close()
	}

	if code == CloseReset {
		_ = unix.SetsockoptLinger(s.fd, unix.SOL_SOCKET, &unix.Linger{Onoff: 1, Linger: 0})
	}
	_ = unix.Close(s.fd)

	reachedOpen := s.role != roleConnecting && s.pt.kind() != KindSemiSocket
	s.closed = true

	if reason != nil {
		ctx.log.Err().Err(reason).Str("component", "socket").Log("socket closed with error")
	}

	if reachedOpen && ctx.cb.OnClose != nil {
		ctx.cb.OnClose(s, code, reason)
	}

	s.loop.closedSockets = append(s.loop.closedSockets, s)
	ctx.unref()
}

// dispatchWritable implements spec.md §4.2's writable fan-out for a
// normal (established) socket.
func (s *Socket) dispatchWritable() {
	s.lastWriteFail = false

	if s.tls != nil && !s.tls.handshakeComplete {
		s.tls.updateHandshake()
		return
	}
	if s.ctx.cb.OnWritable != nil {
		s.ctx.cb.OnWritable(s)
	}
	if s.closed || s.shutdownWrite {
		return
	}
	if !s.lastWriteFail {
		s.subscribeWritable(false)
	}
}

// dispatchReadable implements spec.md §4.2's readable fan-out: low-prio
// demotion check, then recv-into-shared-buffer with the documented
// in-iteration re-read behavior.
func (s *Socket) dispatchReadable(numReady int) {
	if s.lowPrioState == 2 {
		// already paid its low-prio dues this iteration (drainLowPrio
		// promoted it); service normally, then reset to 0 for next time.
		s.lowPrioState = 0
	} else if s.lowPrioState == 0 && s.ctx.cb.IsLowPrio != nil && s.ctx.cb.IsLowPrio(s) {
		if s.loop.lowPrioBudget <= 0 {
			s.loop.demoteLowPrio(s)
			return
		}
		s.loop.lowPrioBudget--
	}

	buf := s.loop.recvBuf[recvBufPad : recvBufPad+recvBufSize]
	reads := 0
	for {
		n, err := unix.Read(s.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			s.closeInternal(CloseClean, err)
			return
		}
		if n == 0 {
			if s.shutdownWrite {
				s.closeInternal(CloseClean, nil)
			} else {
				s.subscribeReadable(false)
				if s.ctx.cb.OnEnd != nil {
					s.ctx.cb.OnEnd(s)
				}
			}
			return
		}

		if s.tls != nil {
			s.tls.handleData(buf[:n])
		} else if s.ctx.cb.OnData != nil {
			s.ctx.cb.OnData(s, buf[:n])
		}
		if s.closed {
			return
		}

		full := n >= recvBufSize-24*1024
		if !full {
			return
		}
		reads++
		maxReads := 10
		if numReady < 25 {
			maxReads = 1 << 30
		}
		if reads >= maxReads {
			return
		}
	}
}
