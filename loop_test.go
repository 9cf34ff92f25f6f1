// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoop_EchoRoundTrip exercises the basic end-to-end scenario from
// spec.md §8: a listen socket accepts a real TCP connection, echoes data
// back, and the client observes it.
func TestLoop_EchoRoundTrip(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)

	var mu sync.Mutex
	var serverGotData []byte

	ctx := l.NewContext(ContextCallbacks{
		OnData: func(s *Socket, data []byte) {
			mu.Lock()
			serverGotData = append(serverGotData, data...)
			mu.Unlock()
			_, _ = s.Write(data, false)
		},
	})

	listener, err := ctx.Listen("tcp", "127.0.0.1:0", ListenOptions{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	conn, err := net.DialTimeout("tcp", listener.LocalAddr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	mu.Lock()
	assert.Equal(t, "hello", string(serverGotData))
	mu.Unlock()

	require.NoError(t, l.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after Close")
	}
}

// TestLoop_HalfOpenShutdown exercises spec.md §8's half-open scenario: a
// socket that Shutdown()s still delivers a final zero-length read as a
// clean close, not a reset.
func TestLoop_HalfOpenShutdown(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)

	closeCodes := make(chan CloseCode, 1)
	ctx := l.NewContext(ContextCallbacks{
		OnOpen: func(s *Socket, _ bool, _ string) {
			s.Shutdown()
		},
		OnClose: func(_ *Socket, code CloseCode, _ error) {
			closeCodes <- code
		},
	})

	listener, err := ctx.Listen("tcp", "127.0.0.1:0", ListenOptions{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	conn, err := net.DialTimeout("tcp", listener.LocalAddr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err) // EOF: peer shut down its write side

	_ = conn.Close()

	select {
	case code := <-closeCodes:
		assert.Equal(t, CloseClean, code)
	case <-time.After(2 * time.Second):
		t.Fatal("on_close never fired")
	}

	require.NoError(t, l.Close())
	<-done
}

// TestLoop_SharedRecvBufferReusedAcrossSockets verifies the documented
// shared-buffer policy (spec.md §5): two sockets whose reads both go
// through loop.recvBuf each see their own data intact, because OnData is
// invoked and returns before the next read reuses the same backing array.
func TestLoop_SharedRecvBufferReusedAcrossSockets(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)

	var mu sync.Mutex
	got := map[string]string{}

	ctx := l.NewContext(ContextCallbacks{
		OnData: func(s *Socket, data []byte) {
			mu.Lock()
			got[s.RemoteAddr().String()] += string(data)
			mu.Unlock()
		},
	})

	listener, err := ctx.Listen("tcp", "127.0.0.1:0", ListenOptions{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	c1, err := net.DialTimeout("tcp", listener.LocalAddr().String(), 2*time.Second)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := net.DialTimeout("tcp", listener.LocalAddr().String(), 2*time.Second)
	require.NoError(t, err)
	defer c2.Close()

	_, err = c1.Write([]byte("alpha"))
	require.NoError(t, err)
	_, err = c2.Write([]byte("bravo"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, v := range got {
			if v == "" {
				return false
			}
		}
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	values := map[string]bool{}
	for _, v := range got {
		values[v] = true
	}
	mu.Unlock()
	assert.True(t, values["alpha"])
	assert.True(t, values["bravo"])

	require.NoError(t, l.Close())
	<-done
}
