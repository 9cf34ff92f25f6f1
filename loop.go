// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"sync/atomic"
	"time"
)

// Buffer sizing per spec.md §3/§6: a 512 KiB shared receive buffer with
// 32 bytes of padding on each side (so consumers can prepend/append
// framing headers without copying), and a 16 KiB shared send-side
// scratch buffer (Loop.sendBuf), which is allocated but not read by any
// send path.
const (
	recvBufPad  = 32
	recvBufSize = 512 * 1024
	sendBufSize = 16 * 1024

	// maxLowPrioSocketsPerIteration bounds how many sockets re-enter
	// service from the low-priority queue each loop iteration.
	maxLowPrioSocketsPerIteration = 5
)

// sweepInterval is the default timeout-wheel sweep period (spec.md §4.4).
const sweepInterval = 4 * time.Second

// wakeupPoll is the loop's cross-thread entry point, masquerading as a
// Callback-kind Poll per spec.md §4.1 so it flows through the same
// dispatch path as every other ready event.
type wakeupPoll struct {
	poll
	loop *Loop
}

func (w *wakeupPoll) pollBase() *poll { return &w.poll }

// Loop owns the poll backend, a set of Contexts, the shared scratch
// buffers, the timeout-wheel sweep, the cross-thread wakeup, and the
// deferred-free lists that make closing sockets safe during iteration
// (spec.md §3).
type Loop struct {
	log   Logger
	be    *backend
	wake  *wakeupPoll
	wakeR int
	wakeW int

	contexts []*Context

	dnsReady dnsReadyQueue
	tlsReady tlsReadyQueue

	closedSockets    []*Socket
	closedConnecting []*ConnectingSocket
	closedUDP        []*UDPSocket

	lowPrioHead   *Socket
	lowPrioBudget int

	iteration uint64
	numPolls  int

	lastSweep     time.Time
	sweepInterval time.Duration

	recvBuf    []byte
	sendBuf    []byte
	udpRecvBuf []byte

	running       bool
	closeRequested atomic.Bool

	// postIterationHook, when set, runs at the end of every iteration;
	// used by tests to observe loop state deterministically.
	postIterationHook func(*Loop)
}

// NewLoop constructs a Loop and its poll backend. The returned Loop must
// be driven by calling Run from the goroutine that will own it.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	be, err := newBackend()
	if err != nil {
		return nil, err
	}

	r, w, err := newWakeFd()
	if err != nil {
		_ = be.close()
		return nil, err
	}

	l := &Loop{
		log:           cfg.log,
		be:            be,
		wakeR:         r,
		wakeW:         w,
		sweepInterval: cfg.sweepInterval,
		lastSweep:     time.Now(),
		recvBuf:       make([]byte, recvBufPad+recvBufSize+recvBufPad),
		sendBuf:       make([]byte, sendBufSize),
		udpRecvBuf:    make([]byte, udpMaxPacket),
	}

	l.wake = &wakeupPoll{loop: l}
	l.wake.fd = r
	l.wake.pt = makePollType(KindCallback, true, false)
	l.wake.fallthroughPoll = true
	if err := be.add(l.wake); err != nil {
		_ = be.close()
		_ = signalWakeFd(w) // best-effort; errors ignored on this path
		return nil, err
	}

	l.log.Info().Str("component", "loop").Log("loop created")
	return l, nil
}

func (l *Loop) incPolls(p *poll) {
	if !p.fallthroughPoll {
		l.numPolls++
	}
}

func (l *Loop) decPolls(p *poll) {
	if !p.fallthroughPoll {
		l.numPolls--
	}
}

// register adds owner's poll to the backend and counts it toward
// numPolls unless it's a fallthrough poll (the wakeup).
func (l *Loop) register(owner pollOwner) error {
	if err := l.be.add(owner); err != nil {
		return err
	}
	l.incPolls(owner.pollBase())
	return nil
}

// Wakeup is the loop's one safe cross-thread entry point (spec.md §5):
// it posts an async wakeup drained in the next iteration's pre-hook.
func (l *Loop) Wakeup() error {
	return signalWakeFd(l.wakeW)
}

// Run drives the loop until every registered poll is gone (or Close is
// called); a Connect whose DNS resolution is still pending counts as one. It must be called from the goroutine that will own the loop;
// every Socket/Context/ConnectingSocket/UDPSocket created on this Loop
// must only be touched from that same goroutine thereafter.
func (l *Loop) Run() error {
	if l.running {
		return ErrLoopRunning
	}
	l.running = true
	defer func() { l.running = false }()

	events := make([]readyEvent, 0, 256)

	for l.numPolls > 0 && !l.closeRequested.Load() {
		l.iteration++
		l.log.Debug().Uint64("iteration", l.iteration).Int("polls", l.numPolls).Log("loop iteration")
		l.drainDNSReady()
		l.drainTLSReady()

		l.drainLowPrio()

		timeoutMs := l.computeTimeoutMs()
		var err error
		events, err = l.be.wait(timeoutMs, events)
		if err != nil {
			return err
		}

		numReady := len(events)
		for _, ev := range events {
			l.dispatch(ev, numReady)
		}

		if time.Since(l.lastSweep) >= l.sweepInterval {
			for _, ctx := range l.contexts {
				ctx.sweep()
			}
			l.lastSweep = time.Now()
		}

		l.drainDNSReady()
		l.drainTLSReady()
		l.freeClosed()

		if l.postIterationHook != nil {
			l.postIterationHook(l)
		}
	}

	return nil
}

// Close requests loop termination; safe to call from the loop goroutine
// (from a callback) or from any other goroutine.
func (l *Loop) Close() error {
	l.closeRequested.Store(true)
	return l.Wakeup()
}

func (l *Loop) computeTimeoutMs() int {
	remaining := l.sweepInterval - time.Since(l.lastSweep)
	if remaining <= 0 {
		return 0
	}
	ms := remaining.Milliseconds()
	if ms <= 0 {
		return 1
	}
	return int(ms)
}

func (l *Loop) dispatch(ev readyEvent, numReady int) {
	switch owner := ev.owner.(type) {
	case *wakeupPoll:
		drainWakeFd(owner.poll.fd)
	case *Socket:
		l.dispatchSocket(owner, ev, numReady)
	case *UDPSocket:
		l.dispatchUDP(owner, ev)
	}
}

func (l *Loop) dispatchSocket(s *Socket, ev readyEvent, numReady int) {
	if s.closed {
		return
	}
	switch s.pt.kind() {
	case KindSemiSocket:
		switch s.role {
		case roleListening:
			if ev.readable {
				s.dispatchAccept(numReady)
			}
		case roleConnecting:
			if ev.writable {
				l.dispatchConnectWritable(s)
			}
		}
		return
	}

	if ev.errorFlag || (ev.eof && !ev.readable) {
		s.closeInternal(CloseReset, ErrClosed)
		return
	}

	if ev.writable {
		s.dispatchWritable()
		if s.closed {
			return
		}
	}
	if ev.readable {
		s.dispatchReadable(numReady)
	}
}

// drainDNSReady runs the post-resolve path for every ConnectingSocket the
// background resolver finished since the last drain (spec.md §4.2 step 1
// and step 5).
func (l *Loop) drainDNSReady() {
	for cs := l.dnsReady.drain(); cs != nil; {
		next := cs.dnsReadyNext
		cs.dnsReadyNext = nil
		cs.onResolved()
		cs = next
	}
}

// drainTLSReady re-pumps every TLS overlay whose reader or writer
// goroutine produced work since the last drain — decrypted plaintext
// to deliver, ciphertext to push onto the real fd, or a handshake
// result to report. Without this, those goroutines' own loop.Wakeup()
// call only unparks be.wait; nothing would otherwise walk back to the
// specific socket that needs pump() called on it.
func (l *Loop) drainTLSReady() {
	for t := l.tlsReady.drain(); t != nil; {
		next := t.tlsReadyNext
		t.tlsReadyNext = nil
		t.queued.Store(false)
		if !t.sock.closed {
			t.pump()
		}
		t = next
	}
}

// drainLowPrio moves up to maxLowPrioSocketsPerIteration sockets back
// from the low-priority queue to their context's list, re-enabling
// readable polling (spec.md §4.2 step 2). The queue is LIFO (spec.md
// §9: "prefer fresher clients under load").
func (l *Loop) drainLowPrio() {
	l.lowPrioBudget = maxLowPrioSocketsPerIteration
	for i := 0; i < maxLowPrioSocketsPerIteration && l.lowPrioHead != nil; i++ {
		s := l.lowPrioHead
		l.lowPrioHead = s.lowPrioNext
		s.lowPrioNext = nil
		s.lowPrioState = 2
		s.ctx.linkSocket(s)
		s.subscribeReadable(true)
		s.ctx.unref()
	}
}

// demoteLowPrio implements spec.md §4.3's low-priority demotion: remove
// from the context list, stop polling readable, LIFO-push onto the
// loop's low-prio head.
func (l *Loop) demoteLowPrio(s *Socket) {
	s.ctx.unlinkFromList(s)
	s.subscribeReadable(false)
	s.ctx.ref()
	s.lowPrioNext = l.lowPrioHead
	l.lowPrioHead = s
	s.lowPrioState = 1
	l.log.Warning().Str("component", "loop").Log("socket demoted to low priority")
}

func (l *Loop) removeLowPrio(s *Socket) {
	if l.lowPrioHead == s {
		l.lowPrioHead = s.lowPrioNext
		s.lowPrioNext = nil
		return
	}
	for cur := l.lowPrioHead; cur != nil; cur = cur.lowPrioNext {
		if cur.lowPrioNext == s {
			cur.lowPrioNext = s.lowPrioNext
			s.lowPrioNext = nil
			return
		}
	}
}

// freeClosed runs at the end of every iteration, strictly after all user
// callbacks for this iteration have completed (spec.md §5).
func (l *Loop) freeClosed() {
	l.closedSockets = l.closedSockets[:0]
	l.closedConnecting = l.closedConnecting[:0]
	l.closedUDP = l.closedUDP[:0]
}
