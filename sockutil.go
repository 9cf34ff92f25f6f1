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

func sockaddrFromTCPAddr(a *net.TCPAddr) (unix.Sockaddr, int) {
	if ip4 := a.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = a.Port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET
	}
	ip6 := a.IP.To16()
	if ip6 == nil {
		ip6 = net.IPv6zero
	}
	var sa unix.SockaddrInet6
	sa.Port = a.Port
	copy(sa.Addr[:], ip6)
	return &sa, unix.AF_INET6
}

func tcpAddrFromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	default:
		return nil
	}
}

func newNonblockingStreamSocket(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func setTCPNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// applyListenSockopts sets the socket options spec.md §6 requires of a
// listening socket before bind: SO_REUSEADDR (and SO_REUSEPORT when
// requested) unless the fixed port was claimed exclusively, and
// IPV6_V6ONLY=0 unless the caller asked for IPv6-only.
func applyListenSockopts(fd, domain int, port int, opts ListenOptions) error {
	if port != 0 && !opts.has(ListenExclusivePort) {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return err
		}
		if opts.has(ListenReusePort) {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil &&
				opts.has(ListenDisallowReusePortFailure) {
				return err
			}
		}
	}
	if domain == unix.AF_INET6 {
		v6only := 0
		if opts.has(ListenIPv6Only) {
			v6only = 1
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only)
	}
	return nil
}
