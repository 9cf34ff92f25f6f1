// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package usox

import (
	"golang.org/x/sys/unix"
)

// backend is the kqueue-based poll backend. kqueue filters (EVFILT_READ,
// EVFILT_WRITE) are independent registrations rather than a bitmask, so
// modify() re-issues EV_ADD for both filters on every call, each with
// EV_ENABLE or EV_DISABLE according to the new subscription. Owners are
// keyed by fd, same as the epoll backend, since the owners map makes a
// real udata pointer unnecessary.
type backend struct {
	kq      int
	owners  map[int]pollOwner
	events  [256]unix.Kevent_t
	changes []unix.Kevent_t
}

func newBackend() (*backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &backend{kq: kq, owners: make(map[int]pollOwner, 64)}, nil
}

func (b *backend) close() error {
	return unix.Close(b.kq)
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
}

func (b *backend) add(owner pollOwner) error {
	p := owner.pollBase()
	var changes []unix.Kevent_t
	changes = append(changes, kevent(p.fd, unix.EVFILT_READ, unix.EV_ADD|flagOrDisable(p.pt.readable())))
	changes = append(changes, kevent(p.fd, unix.EVFILT_WRITE, unix.EV_ADD|flagOrDisable(p.pt.writable())))
	if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil {
		return err
	}
	b.owners[p.fd] = owner
	return nil
}

func flagOrDisable(enabled bool) uint16 {
	if enabled {
		return unix.EV_ENABLE
	}
	return unix.EV_DISABLE
}

func (b *backend) modify(owner pollOwner) error {
	p := owner.pollBase()
	changes := []unix.Kevent_t{
		kevent(p.fd, unix.EVFILT_READ, unix.EV_ADD|flagOrDisable(p.pt.readable())),
		kevent(p.fd, unix.EVFILT_WRITE, unix.EV_ADD|flagOrDisable(p.pt.writable())),
	}
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	return err
}

func (b *backend) remove(owner pollOwner) error {
	p := owner.pollBase()
	delete(b.owners, p.fd)
	// The kernel auto-removes kqueue registrations when the fd is closed
	// (spec.md §4.3), so a failing EV_DELETE here (ENOENT) is expected and
	// not an error worth propagating.
	changes := []unix.Kevent_t{
		kevent(p.fd, unix.EVFILT_READ, unix.EV_DELETE),
		kevent(p.fd, unix.EVFILT_WRITE, unix.EV_DELETE),
	}
	_, _ = unix.Kevent(b.kq, changes, nil, nil)
	return nil
}

func (b *backend) relocate(oldFd int, owner pollOwner) {
	b.owners[oldFd] = owner
}

func (b *backend) wait(timeoutMs int, out []readyEvent) ([]readyEvent, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(b.kq, nil, b.events[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return out[:0], nil
		}
		return out[:0], err
	}
	out = out[:0]
	// kqueue reports read/write readiness as separate events for the same
	// fd; fold them into one logical readyEvent per owner per wait call
	// since the dispatcher (loop.go) expects a single entry per fd.
	index := make(map[int]int, n)
	for i := 0; i < n; i++ {
		ev := &b.events[i]
		fd := int(ev.Ident)
		owner, ok := b.owners[fd]
		if !ok {
			continue
		}
		idx, seen := index[fd]
		if !seen {
			idx = len(out)
			out = append(out, readyEvent{owner: owner})
			index[fd] = idx
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			out[idx].readable = true
			if ev.Flags&unix.EV_EOF != 0 {
				out[idx].eof = true
			}
		case unix.EVFILT_WRITE:
			out[idx].writable = true
			if ev.Flags&unix.EV_EOF != 0 {
				out[idx].eof = true
			}
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			out[idx].errorFlag = true
		}
	}
	return out, nil
}
