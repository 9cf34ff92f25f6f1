// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSocket_WriteAfterCloseReturnsErrClosed(t *testing.T) {
	s := &Socket{closed: true}
	n, err := s.Write([]byte("x"), false)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSocket_WriteAfterShutdownReturnsErrShutdownWrite(t *testing.T) {
	s := &Socket{shutdownWrite: true}
	n, err := s.Write([]byte("x"), false)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrShutdownWrite)
}

func TestSocket_SetTimeoutDisarmsOnNonPositive(t *testing.T) {
	ctx := &Context{}
	s := &Socket{ctx: ctx}
	s.SetTimeout(4)
	assert.NotEqual(t, timeoutDisarmed, s.timeout)
	s.SetTimeout(0)
	assert.Equal(t, timeoutDisarmed, s.timeout)
}

func TestSocket_IsEstablished(t *testing.T) {
	s := &Socket{role: roleNormal, pt: makePollType(KindSocket, true, false)}
	assert.True(t, s.IsEstablished())

	s.closed = true
	assert.False(t, s.IsEstablished())

	s.closed = false
	s.role = roleListening
	assert.False(t, s.IsEstablished())

	s.role = roleConnecting
	assert.False(t, s.IsEstablished())
}
