// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnect_SucceedsAgainstLoopbackListener exercises Context.Connect
// end to end: DNS resolution (for a literal IP, resolved instantly),
// candidate fan-out, and the SemiSocket-writable winner path.
func TestConnect_SucceedsAgainstLoopbackListener(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)

	serverCtx := l.NewContext(ContextCallbacks{
		OnData: func(s *Socket, data []byte) { _, _ = s.Write(data, false) },
	})
	listener, err := serverCtx.Listen("tcp", "127.0.0.1:0", ListenOptions{})
	require.NoError(t, err)

	opened := make(chan *Socket, 1)
	clientCtx := l.NewContext(ContextCallbacks{
		OnOpen: func(s *Socket, isClient bool, _ string) {
			assert.True(t, isClient)
			opened <- s
		},
	})

	host, portStr, err := net.SplitHostPort(listener.LocalAddr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	_, err = clientCtx.Connect(host, port)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case s := <-opened:
		assert.NotNil(t, s)
	case <-time.After(2 * time.Second):
		t.Fatal("connect never completed")
	}

	require.NoError(t, l.Close())
	<-done
}

// TestConnect_FailsAgainstClosedPort verifies the connect-error path: no
// listener on the chosen port means every candidate fails and
// OnConnectError fires.
func TestConnect_FailsAgainstClosedPort(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)

	// Bind and immediately close to obtain a port nothing is listening on.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	failed := make(chan error, 1)
	clientCtx := l.NewContext(ContextCallbacks{
		OnConnectError: func(_ *ConnectingSocket, err error) { failed <- err },
	})

	_, err = clientCtx.Connect(host, port)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect error never fired")
	}

	require.NoError(t, l.Close())
	<-done
}
