// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// resolveUnixSockaddr builds the bind/connect address for path, handling
// abstract sockets (leading NUL, spec.md §4.8) and over-length paths via
// the platform's long-path workaround. The returned cleanup (possibly
// nil) must run after bind/connect regardless of outcome.
func resolveUnixSockaddr(path string) (unix.Sockaddr, func(), error) {
	if len(path) > 0 && path[0] == 0 {
		return &unix.SockaddrUnix{Name: path}, nil, nil
	}
	if len(path) < unixSunPathMax {
		return &unix.SockaddrUnix{Name: path}, nil, nil
	}
	return resolveLongUnixPath(path)
}

// ListenUnix binds a streaming Unix domain listen socket at path (spec.md
// §4.8): any stale file is unlinked first (ENOENT ignored), and the new
// socket's mode is set to 0700 once bound.
func (c *Context) ListenUnix(path string, opts ListenOptions) (*Socket, error) {
	if len(path) > 0 && path[0] != 0 {
		if err := unix.Unlink(path); err != nil && err != unix.ENOENT {
			return nil, err
		}
	}

	sa, cleanup, err := resolveUnixSockaddr(path)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if len(path) > 0 && path[0] != 0 {
		if err := os.Chmod(path, 0700); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	s := &Socket{loop: c.loop, role: roleListening, extSize: opts.SocketExtSize}
	s.fd = fd
	s.pt = makePollType(KindSemiSocket, true, false)
	s.timeout = timeoutDisarmed
	s.longTimeout = timeoutDisarmed
	s.localAddr = &net.UnixAddr{Name: path, Net: "unix"}

	c.linkListenSocket(s)
	if err := c.loop.register(s); err != nil {
		c.unlinkFromList(s)
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// ConnectUnix connects to a Unix domain listen socket at path. Unlike
// Connect there is no DNS resolution step: a single candidate is created
// and registered immediately, still going through the normal
// SemiSocket-writable winner path in dispatchConnectWritable so the
// success/failure plumbing (OnOpen/OnConnectError) is identical to TCP.
func (c *Context) ConnectUnix(path string) (*ConnectingSocket, error) {
	sa, cleanup, err := resolveUnixSockaddr(path)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	cs := &ConnectingSocket{
		loop:        c.loop,
		ctx:         c,
		timeout:     timeoutDisarmed,
		longTimeout: timeoutDisarmed,
	}
	c.linkConnecting(cs)
	c.ref()

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS && err != unix.EAGAIN {
		_ = unix.Close(fd)
		cs.fail(err)
		return cs, nil
	}

	cand := &Socket{loop: c.loop, ctx: c, role: roleConnecting, connectState: cs}
	cand.fd = fd
	cand.pt = makePollType(KindSemiSocket, false, true)
	cand.remoteAddr = &net.UnixAddr{Name: path, Net: "unix"}
	if err := c.loop.register(cand); err != nil {
		_ = unix.Close(fd)
		cs.fail(err)
		return cs, nil
	}
	cs.candidates = append(cs.candidates, cand)
	return cs, nil
}
