// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"context"
	"net"

	"golang.org/x/sys/unix"
)

// ConnectingSocket is a logical outbound connection attempt that may own
// zero or more concrete candidate Sockets (role==roleConnecting), exactly
// one of which graduates to a real Socket on success (spec.md §3/§4.6).
type ConnectingSocket struct {
	loop *Loop
	ctx  *Context

	prev, next *ConnectingSocket

	host string
	port int
	ssl  bool

	addrs      []net.IP
	resolveErr error
	cancel     context.CancelFunc

	candidates []*Socket
	err        error

	timeout, longTimeout uint8
	closed               bool

	dnsReadyNext *ConnectingSocket
}

// Connect issues an async DNS resolve for host, then fans out to every
// resolved address once the loop's pre-hook drains the result (spec.md
// §4.6). Cancel the returned handle with ConnectingSocket.Close.
func (c *Context) Connect(host string, port int) (*ConnectingSocket, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &ConnectingSocket{
		loop:        c.loop,
		ctx:         c,
		host:        host,
		port:        port,
		timeout:     timeoutDisarmed,
		longTimeout: timeoutDisarmed,
		cancel:      cancel,
	}
	c.linkConnecting(cs)
	c.ref()
	// The pending resolve counts as a poll so Run keeps waiting for it;
	// onResolved gives the count back.
	c.loop.numPolls++

	go func() {
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		cs.resolveErr = err
		cs.addrs = ips
		cs.loop.dnsReady.push(cs)
		_ = cs.loop.Wakeup()
	}()

	return cs, nil
}

func (c *Context) linkConnecting(cs *ConnectingSocket) {
	cs.prev = nil
	cs.next = c.connecting
	if c.connecting != nil {
		c.connecting.prev = cs
	}
	c.connecting = cs
}

func (cs *ConnectingSocket) unlinkSelf() {
	if cs.prev != nil {
		cs.prev.next = cs.next
	} else {
		cs.ctx.connecting = cs.next
	}
	if cs.next != nil {
		cs.next.prev = cs.prev
	}
	cs.prev, cs.next = nil, nil
}

// onResolved runs on the loop goroutine once DNS completes (or the
// ConnectingSocket was cancelled in the meantime): it walks the
// addrinfo-equivalent list and attempts a non-blocking connect to each
// address, fanning out Happy-Eyeballs-style per spec.md §4.6 step 2.
func (cs *ConnectingSocket) onResolved() {
	cs.loop.numPolls--
	if cs.closed {
		return
	}
	if cs.resolveErr != nil || len(cs.addrs) == 0 {
		cs.fail(cs.resolveErr)
		return
	}

	for _, ip := range cs.addrs {
		sa, domain := sockaddrFromIP(ip, cs.port)
		fd, err := newNonblockingStreamSocket(domain)
		if err != nil {
			cs.err = err
			continue
		}
		err = unix.Connect(fd, sa)
		if err != nil && err != unix.EINPROGRESS && err != unix.EAGAIN {
			_ = unix.Close(fd)
			cs.err = err
			continue
		}

		cand := &Socket{loop: cs.loop, ctx: cs.ctx, role: roleConnecting, connectState: cs}
		cand.fd = fd
		cand.pt = makePollType(KindSemiSocket, false, true)
		cand.remoteAddr = &net.TCPAddr{IP: ip, Port: cs.port}
		if err := cs.loop.register(cand); err != nil {
			_ = unix.Close(fd)
			cs.err = err
			continue
		}
		cs.candidates = append(cs.candidates, cand)
	}

	if len(cs.candidates) == 0 {
		cs.fail(cs.err)
	}
}

func sockaddrFromIP(ip net.IP, port int) (unix.Sockaddr, int) {
	if ip4 := ip.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET
	}
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], ip.To16())
	return &sa, unix.AF_INET6
}

// dispatchConnectWritable handles a candidate's SemiSocket-writable
// event: TCP handshake completed (successfully or not). The winner is
// whichever candidate reports SO_ERROR==0 first; every sibling is closed
// silently (spec.md §4.6 step 3).
func (l *Loop) dispatchConnectWritable(s *Socket) {
	cs := s.connectState
	errno, soErr := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if soErr != nil || errno != 0 {
		if soErr == nil {
			cs.err = unix.Errno(errno)
		} else {
			cs.err = soErr
		}
		cs.dropCandidate(s)
		if len(cs.candidates) == 0 && !cs.closed {
			cs.fail(cs.err)
		}
		return
	}
	cs.succeed(s)
}

func (cs *ConnectingSocket) dropCandidate(s *Socket) {
	for i, c := range cs.candidates {
		if c == s {
			cs.candidates = append(cs.candidates[:i], cs.candidates[i+1:]...)
			break
		}
	}
	s.closeInternal(CloseClean, nil)
}

// succeed promotes the winning candidate into a regular Socket on the
// context's list and fires OnOpen exactly once (spec.md §4.6 step 3 /
// §8 scenario 6).
func (cs *ConnectingSocket) succeed(winner *Socket) {
	for _, c := range cs.candidates {
		if c != winner {
			c.closeInternal(CloseClean, nil)
		}
	}
	cs.candidates = nil

	winner.role = roleNormal
	winner.connectState = nil
	winner.pt = makePollType(KindSocket, true, false)
	_ = winner.loop.be.modify(winner)
	winner.timeout = timeoutDisarmed
	winner.longTimeout = timeoutDisarmed
	_ = setTCPNoDelay(winner.fd)

	cs.unlinkSelf()
	cs.ctx.linkSocket(winner)

	if cs.ctx.tls != nil {
		wrapSocketTLS(winner, true)
	}

	addr := ""
	if winner.remoteAddr != nil {
		addr = winner.remoteAddr.String()
	}
	cs.ctx.log.Info().Str("component", "connect").Str("remote", addr).Log("connected")

	if cs.ctx.cb.OnOpen != nil {
		cs.ctx.cb.OnOpen(winner, true, addr)
	}
	cs.ctx.unref()
	cs.loop.closedConnecting = append(cs.loop.closedConnecting, cs)
}

// fail fires OnConnectError with the last errno observed across every
// candidate (spec.md §4.6 step 4; §9 flags "last vs first interesting
// error" as an open question this implementation resolves by keeping
// the last observed error).
func (cs *ConnectingSocket) fail(err error) {
	for _, c := range cs.candidates {
		c.closeInternal(CloseClean, nil)
	}
	cs.candidates = nil
	cs.unlinkSelf()
	cs.ctx.log.Err().Err(err).Str("component", "connect").Str("host", cs.host).Log("connect failed")
	if cs.ctx.cb.OnConnectError != nil {
		cs.ctx.cb.OnConnectError(cs, &ConnectError{Cause: err})
	}
	cs.ctx.unref()
	cs.loop.closedConnecting = append(cs.loop.closedConnecting, cs)
}

// Close cancels an in-flight connect (spec.md §4.6's cancellation
// semantics): every candidate is closed without firing OnClose (they
// never reached OnOpen), the DNS lookup is cancelled, and
// OnConnectError(ECONNABORTED) fires unless an error was already sticky.
func (cs *ConnectingSocket) Close() {
	if cs.closed {
		return
	}
	cs.closed = true
	for _, c := range cs.candidates {
		c.closeInternal(CloseClean, nil)
	}
	cs.candidates = nil
	if cs.cancel != nil {
		cs.cancel()
	}
	cs.unlinkSelf()
	if cs.err == nil && cs.ctx.cb.OnConnectError != nil {
		cs.ctx.cb.OnConnectError(cs, &ConnectError{Cause: unix.ECONNABORTED, Aborted: true})
	}
	cs.ctx.unref()
}

// SetTimeout/SetLongTimeout record deadlines on the ConnectingSocket
// itself rather than on any candidate, using the same tick arithmetic as
// Socket's (spec.md §4.6). Context.sweep walks only the context's
// established sockets, so these deadlines never fire a callback.
func (cs *ConnectingSocket) SetTimeout(seconds int) {
	if seconds <= 0 {
		cs.timeout = timeoutDisarmed
		return
	}
	ticks := uint8((seconds + 3) / 4)
	cs.timeout = (cs.ctx.timestamp + ticks) % 240
}

func (cs *ConnectingSocket) SetLongTimeout(minutes int) {
	if minutes <= 0 {
		cs.longTimeout = timeoutDisarmed
		return
	}
	cs.longTimeout = (cs.ctx.longTimestamp + uint8(minutes)) % 240
}
