// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

// Context is a set of shared event callbacks plus protocol configuration,
// owning a subgraph of Sockets, ListenSockets (role==roleListening
// Sockets) and ConnectingSockets on one Loop (spec.md §3).
type Context struct {
	loop *Loop
	cb   ContextCallbacks
	log  Logger

	sockets       *Socket // head of the normal-role sockets list
	listenSockets *Socket // head of the roleListening sockets list
	connecting    *ConnectingSocket

	// iterator is the sweep-in-progress cursor (spec.md §4.3): any unlink
	// of the iterator's current target must advance it first.
	iterator *Socket

	timestamp     uint8 // short-timeout tick counter, mod 240
	longTimestamp uint8 // long-timeout tick counter, mod 240

	refCount int32
	closed   bool

	tls *TLSContext // non-nil for a TLS-enabled context
}

// NewContext creates a Context bound to the loop with the given callback
// set. The Context must only be used from the loop goroutine.
func (l *Loop) NewContext(cb ContextCallbacks) *Context {
	ctx := &Context{loop: l, cb: cb, log: l.log, refCount: 1}
	l.contexts = append(l.contexts, ctx)
	return ctx
}

func (c *Context) ref()   { c.refCount++ }
func (c *Context) unref() {
	c.refCount--
	if c.refCount == 0 && c.closed {
		c.free()
	}
}

func (c *Context) free() {
	for i, ctx := range c.loop.contexts {
		if ctx == c {
			c.loop.contexts = append(c.loop.contexts[:i], c.loop.contexts[i+1:]...)
			break
		}
	}
}

// Close closes every listen socket before every regular socket (spec.md
// §8's testable property), then drops the context's own creation
// reference; the Context struct itself is freed once refCount reaches
// zero (every in-flight close callback also holds a ref).
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	for s := c.listenSockets; s != nil; {
		next := s.next
		s.Close(CloseClean)
		s = next
	}
	for s := c.sockets; s != nil; {
		next := s.next
		s.Close(CloseClean)
		s = next
	}
	c.unref()
}

func (c *Context) linkSocket(s *Socket) {
	s.ctx = c
	s.prev = nil
	s.next = c.sockets
	if c.sockets != nil {
		c.sockets.prev = s
	}
	c.sockets = s
}

func (c *Context) linkListenSocket(s *Socket) {
	s.ctx = c
	s.prev = nil
	s.next = c.listenSockets
	if c.listenSockets != nil {
		c.listenSockets.prev = s
	}
	c.listenSockets = s
}

// unlinkFromList removes s from whichever of {sockets, listenSockets} it
// currently belongs to, advancing the sweep iterator first if needed.
func (c *Context) unlinkFromList(s *Socket) {
	if c.iterator == s {
		c.iterator = s.next
	}
	head := &c.sockets
	if s.role == roleListening {
		head = &c.listenSockets
	}
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		*head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.prev, s.next = nil, nil
}

// sweep advances both tick counters and fires on_timeout/on_long_timeout
// for every socket whose matching field reached the current tick
// (spec.md §4.4). It tolerates handlers that link/unlink arbitrary
// sockets, including the one currently being visited, via c.iterator.
func (c *Context) sweep() {
	c.timestamp = (c.timestamp + 1) % 240
	c.longTimestamp = (c.longTimestamp + 1) % 240

	c.iterator = c.sockets
	for c.iterator != nil {
		s := c.iterator
		c.iterator = s.next

		shortHit := s.timeout != timeoutDisarmed && s.timeout == c.timestamp
		longHit := s.longTimeout != timeoutDisarmed && s.longTimeout == c.longTimestamp

		if shortHit {
			s.timeout = timeoutDisarmed
			if c.cb.OnTimeout != nil {
				c.cb.OnTimeout(s)
			}
		}
		if longHit && !s.closed {
			s.longTimeout = timeoutDisarmed
			if c.cb.OnLongTimeout != nil {
				c.cb.OnLongTimeout(s)
			}
		}
	}
	c.iterator = nil
}

// EnableTLS attaches a TLSContext so every Socket subsequently accepted,
// connected, or explicitly wrapped on this Context gets a TLS overlay
// (spec.md §4.5).
func (c *Context) EnableTLS(tc *TLSContext) *Context {
	c.tls = tc
	return c
}

// SetLowPrio installs the per-socket low-priority predicate (spec.md
// §4.3); nil means "never low priority".
func (c *Context) SetLowPrio(f func(s *Socket) bool) { c.cb.IsLowPrio = f }
