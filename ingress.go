// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import "sync/atomic"

// dnsReadyQueue is the cross-thread handoff spec.md §9 describes: a
// spinlock-protected singly-linked list, pushed to by DNS resolution
// goroutines and drained exclusively by the loop goroutine in its
// pre/post hooks. This is deliberately not a general MPSC queue (no
// chunking, no pooling) — there is exactly one consumer and resolutions
// are rare relative to I/O dispatch, so the lock-per-push cost the
// teacher's ChunkedIngress was built to amortize doesn't apply here.
type dnsReadyQueue struct {
	lock atomic.Bool
	head *ConnectingSocket
}

// push adds cs to the queue and is safe to call from any goroutine.
func (q *dnsReadyQueue) push(cs *ConnectingSocket) {
	for !q.lock.CompareAndSwap(false, true) {
		// brief spin; contention is rare (single consumer, low volume)
	}
	cs.dnsReadyNext = q.head
	q.head = cs
	q.lock.Store(false)
}

// drain atomically detaches the whole list and returns its head; the
// loop goroutine walks dnsReadyNext itself, in whatever order the
// producers happened to push.
func (q *dnsReadyQueue) drain() *ConnectingSocket {
	for !q.lock.CompareAndSwap(false, true) {
	}
	head := q.head
	q.head = nil
	q.lock.Store(false)
	return head
}

// tlsReadyQueue mirrors dnsReadyQueue for the TLS overlay's reader/writer
// goroutines: whenever one of them produces something the loop goroutine
// needs to act on (decrypted plaintext, buffered ciphertext, a completed
// handshake, a fatal error), it pushes its tlsSocketState here instead of
// relying on the wakeup fd alone to get the work noticed.
type tlsReadyQueue struct {
	lock atomic.Bool
	head *tlsSocketState
}

// push adds t to the queue and is safe to call from any goroutine. A
// tlsSocketState already queued is not re-linked, so one push per state
// is enough regardless of how many events coalesce before the loop
// goroutine drains it.
func (q *tlsReadyQueue) push(t *tlsSocketState) {
	if !t.queued.CompareAndSwap(false, true) {
		return
	}
	for !q.lock.CompareAndSwap(false, true) {
	}
	t.tlsReadyNext = q.head
	q.head = t
	q.lock.Store(false)
}

// drain atomically detaches the whole list and returns its head.
func (q *tlsReadyQueue) drain() *tlsSocketState {
	for !q.lock.CompareAndSwap(false, true) {
	}
	head := q.head
	q.head = nil
	q.lock.Store(false)
	return head
}
