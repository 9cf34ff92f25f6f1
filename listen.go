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

// listenBacklog is the backlog argument passed to listen(2).
const listenBacklog = 1024

// Listen creates a listening Socket bound to address (spec.md §3/§6). The
// returned Socket has role==roleListening; Close tears it down along with
// every pending accept.
func (c *Context) Listen(network, address string, opts ListenOptions) (*Socket, error) {
	addr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, err
	}

	sa, domain := sockaddrFromTCPAddr(addr)
	fd, err := newNonblockingStreamSocket(domain)
	if err != nil {
		return nil, err
	}
	if err := applyListenSockopts(fd, domain, addr.Port, opts); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	local := addr
	if lsa, err := unix.Getsockname(fd); err == nil {
		if a := tcpAddrFromSockaddr(lsa); a != nil {
			local = a
		}
	}

	s := &Socket{
		loop:    c.loop,
		role:    roleListening,
		extSize: opts.SocketExtSize,
	}
	s.fd = fd
	s.pt = makePollType(KindSemiSocket, true, false)
	s.timeout = timeoutDisarmed
	s.longTimeout = timeoutDisarmed
	s.localAddr = local

	c.linkListenSocket(s)
	if err := c.loop.register(s); err != nil {
		c.unlinkFromList(s)
		_ = unix.Close(fd)
		return nil, err
	}

	c.log.Info().Str("component", "listen").Str("addr", local.String()).Log("listening")
	return s, nil
}

// dispatchAccept drains the accept queue of a listening Socket (spec.md
// §4.2's SemiSocket readable fan-out). Every accepted connection is linked
// onto the listen socket's own Context and immediately fires OnOpen; the
// loop stops the moment the listen socket itself is closed from within
// that callback (spec.md §8's boundary behavior).
func (s *Socket) dispatchAccept(numReady int) {
	for {
		fd, sa, err := acceptConn(s.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			return
		}

		_ = setTCPNoDelay(fd)

		child := &Socket{
			loop:    s.loop,
			role:    roleNormal,
			extSize: s.extSize,
		}
		child.fd = fd
		child.pt = makePollType(KindSocket, true, false)
		child.timeout = timeoutDisarmed
		child.longTimeout = timeoutDisarmed
		if a := tcpAddrFromSockaddr(sa); a != nil {
			child.remoteAddr = a
		}

		s.ctx.linkSocket(child)
		if err := s.loop.register(child); err != nil {
			s.ctx.unlinkFromList(child)
			_ = unix.Close(fd)
			continue
		}

		if s.ctx.tls != nil {
			wrapSocketTLS(child, false)
		}

		addr := ""
		if child.remoteAddr != nil {
			addr = child.remoteAddr.String()
		}
		s.ctx.log.Info().Str("component", "listen").Str("remote", addr).Log("accepted connection")

		if s.ctx.cb.OnOpen != nil {
			s.ctx.cb.OnOpen(child, false, addr)
		}

		if s.closed {
			return
		}
	}
}
