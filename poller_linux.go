// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package usox

import (
	"golang.org/x/sys/unix"
)

// backend is the epoll-based poll backend. Registration always happens on
// the loop goroutine (sockets are only ever created/closed from a
// callback or before Run), so unlike a general-purpose poller this needs
// no locking around the owners map — the only cross-thread entry point
// into the loop is the wakeup fd itself, which the backend treats like
// any other registered fd.
type backend struct {
	epfd    int
	owners  map[int]pollOwner
	events  [256]unix.EpollEvent
}

func newBackend() (*backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &backend{epfd: epfd, owners: make(map[int]pollOwner, 64)}, nil
}

func (b *backend) close() error {
	return unix.Close(b.epfd)
}

// epollEvents computes the epoll event mask for pt. Per spec, when neither
// readable nor writable is requested the backend still arms
// EPOLLRDHUP|EPOLLHUP|EPOLLERR so a peer close is detected even while idle.
func epollEvents(pt pollType) uint32 {
	var ev uint32 = unix.EPOLLRDHUP
	if pt.readable() {
		ev |= unix.EPOLLIN
	}
	if pt.writable() {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (b *backend) add(owner pollOwner) error {
	p := owner.pollBase()
	b.owners[p.fd] = owner
	ev := &unix.EpollEvent{Events: epollEvents(p.pt), Fd: int32(p.fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, p.fd, ev); err != nil {
		delete(b.owners, p.fd)
		return err
	}
	return nil
}

func (b *backend) modify(owner pollOwner) error {
	p := owner.pollBase()
	ev := &unix.EpollEvent{Events: epollEvents(p.pt), Fd: int32(p.fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, p.fd, ev)
}

func (b *backend) remove(owner pollOwner) error {
	p := owner.pollBase()
	delete(b.owners, p.fd)
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, p.fd, nil)
	if err == unix.ENOENT {
		// kernel may have already dropped the fd (e.g. it was closed).
		return nil
	}
	return err
}

// poll_resize (spec.md §4.1): the Poll struct moved in memory. Since Go's
// GC never relocates live heap objects, there is nothing to re-ADD here;
// the owners map already holds the (stable) pointer value. This method
// exists to document the deviation rather than to do real work.
func (b *backend) relocate(oldFd int, owner pollOwner) {
	b.owners[oldFd] = owner
}

func (b *backend) wait(timeoutMs int, out []readyEvent) ([]readyEvent, error) {
	n, err := unix.EpollWait(b.epfd, b.events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return out[:0], nil
		}
		return out[:0], err
	}
	out = out[:0]
	for i := 0; i < n; i++ {
		ev := &b.events[i]
		owner, ok := b.owners[int(ev.Fd)]
		if !ok {
			continue
		}
		re := readyEvent{owner: owner}
		re.readable = ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0
		re.writable = ev.Events&unix.EPOLLOUT != 0
		re.errorFlag = ev.Events&unix.EPOLLERR != 0
		re.eof = ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0
		out = append(out, re)
	}
	return out, nil
}
