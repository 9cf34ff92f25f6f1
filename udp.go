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

// udpMaxPacket is the largest datagram this package will deliver to
// OnData; anything larger is dropped rather than risking an oversized
// allocation (spec.md §4.7).
const udpMaxPacket = 64 * 1024

// udpReadsPerIteration bounds how many packets a single readable event
// drains before yielding back to the loop, mirroring the re-read cap
// applied to stream sockets in dispatchReadable.
const udpReadsPerIteration = 32

// UDPCallbacks holds the per-socket event handlers for a UDPSocket
// (spec.md §3).
type UDPCallbacks struct {
	OnData  func(u *UDPSocket, data []byte, from net.Addr)
	OnDrain func(u *UDPSocket)
	OnClose func(u *UDPSocket)
}

// UDPSocket is a bound, connectionless datagram socket registered with
// the loop (spec.md §3/§4.7). Unlike Socket it is not owned by a
// Context: its callbacks are set directly at creation time.
type UDPSocket struct {
	poll
	loop *Loop
	cb   UDPCallbacks
	log  Logger

	localAddr     *net.UDPAddr
	connectedAddr *net.UDPAddr
	closed        bool

	userData any
}

func (u *UDPSocket) pollBase() *poll { return &u.poll }

func (u *UDPSocket) UserData() any     { return u.userData }
func (u *UDPSocket) SetUserData(v any) { u.userData = v }
func (u *UDPSocket) LocalAddr() net.Addr { return u.localAddr }
func (u *UDPSocket) IsClosed() bool    { return u.closed }

// ListenUDP binds a UDP socket to address and registers it with the
// loop. SO_REUSEADDR is applied whenever a fixed port is requested, so
// that rebinding after a crash doesn't require waiting out TIME_WAIT
// (spec.md §4.7).
func (l *Loop) ListenUDP(network, address string, cb UDPCallbacks) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, err
	}
	sa, domain := sockaddrFromUDPAddr(addr)

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if addr.Port != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}
	if domain == unix.AF_INET6 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	local := addr
	if lsa, err := unix.Getsockname(fd); err == nil {
		if a := udpAddrFromSockaddr(lsa); a != nil {
			local = a
		}
	}

	u := &UDPSocket{loop: l, cb: cb, log: l.log, localAddr: local}
	u.fd = fd
	u.pt = makePollType(KindUDP, true, false)

	if err := l.register(u); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return u, nil
}

// ConnectUDP creates a UDP socket and connects it to address at the OS
// level (connect(2) on a SOCK_DGRAM fd), fixing its peer so that SendTo
// can omit a destination on every call and the kernel filters out
// datagrams from any other source (spec.md §4.7 supplement).
func (l *Loop) ConnectUDP(network, address string, cb UDPCallbacks) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, err
	}
	sa, domain := sockaddrFromUDPAddr(addr)

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if domain == unix.AF_INET6 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	var local *net.UDPAddr
	if lsa, err := unix.Getsockname(fd); err == nil {
		local = udpAddrFromSockaddr(lsa)
	}

	u := &UDPSocket{loop: l, cb: cb, log: l.log, localAddr: local, connectedAddr: addr}
	u.fd = fd
	u.pt = makePollType(KindUDP, true, false)

	if err := l.register(u); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return u, nil
}

// RemoteAddr returns the peer a ConnectUDP socket is bound to, or nil
// for a socket created by ListenUDP.
func (u *UDPSocket) RemoteAddr() net.Addr {
	if u.connectedAddr == nil {
		return nil
	}
	return u.connectedAddr
}

// SendTo writes data to the socket's connected peer without specifying a
// destination (bind once, then target one peer). It returns
// [ErrUDPNotConnected] for a socket created by ListenUDP. A short/EAGAIN
// write subscribes for writable so OnDrain fires once the socket buffer
// has room again.
func (u *UDPSocket) SendTo(data []byte) (int, error) {
	if u.closed {
		return 0, ErrClosed
	}
	if u.connectedAddr == nil {
		return 0, ErrUDPNotConnected
	}
	n, err := unix.Write(u.fd, data)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			u.log.Warning().Str("component", "udp").Log("send would block, subscribing for writable")
			u.subscribeWritable(true)
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Send transmits one datagram to addr. A short/EAGAIN write subscribes
// for writable so OnDrain fires once the socket buffer has room again.
func (u *UDPSocket) Send(data []byte, addr net.Addr) (int, error) {
	if u.closed {
		return 0, ErrClosed
	}
	ua, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, net.InvalidAddrError("usox: destination is not a *net.UDPAddr")
	}
	sa, _ := sockaddrFromUDPAddr(ua)
	err := unix.Sendto(u.fd, data, unix.MSG_DONTWAIT, sa)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			u.log.Warning().Str("component", "udp").Log("send would block, subscribing for writable")
			u.subscribeWritable(true)
			return 0, nil
		}
		return 0, err
	}
	return len(data), nil
}

func (u *UDPSocket) subscribeWritable(want bool) {
	if u.pt.writable() == want {
		return
	}
	u.pt = makePollType(u.pt.kind(), u.pt.readable(), want)
	_ = u.loop.be.modify(u)
}

// Close tears down the socket and fires OnClose exactly once.
func (u *UDPSocket) Close() {
	if u.closed {
		return
	}
	_ = u.loop.be.remove(u)
	u.loop.decPolls(&u.poll)
	_ = unix.Close(u.fd)
	u.closed = true
	if u.cb.OnClose != nil {
		u.cb.OnClose(u)
	}
	u.loop.closedUDP = append(u.loop.closedUDP, u)
}

func (l *Loop) dispatchUDP(u *UDPSocket, ev readyEvent) {
	if u.closed {
		return
	}
	if ev.writable {
		u.subscribeWritable(false)
		if u.cb.OnDrain != nil {
			u.cb.OnDrain(u)
		}
		if u.closed {
			return
		}
	}
	if !ev.readable {
		return
	}

	buf := l.udpRecvBuf

	for i := 0; i < udpReadsPerIteration; i++ {
		n, from, err := unix.Recvfrom(u.fd, buf, unix.MSG_DONTWAIT)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n > udpMaxPacket {
			// oversized datagram, dropped per spec.md §4.7
			continue
		}
		if u.cb.OnData != nil {
			var addr net.Addr
			if a := udpAddrFromSockaddr(from); a != nil {
				addr = a
			}
			u.cb.OnData(u, buf[:n], addr)
		}
		if u.closed {
			return
		}
	}
}

func sockaddrFromUDPAddr(a *net.UDPAddr) (unix.Sockaddr, int) {
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

func udpAddrFromSockaddr(sa unix.Sockaddr) *net.UDPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	default:
		return nil
	}
}
