// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDP_SendReceiveRoundTrip(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)

	received := make(chan string, 1)
	var server *UDPSocket
	server, err = l.ListenUDP("udp", "127.0.0.1:0", UDPCallbacks{
		OnData: func(u *UDPSocket, data []byte, from net.Addr) {
			received <- string(data)
			_, _ = u.Send([]byte("pong"), from)
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.WriteTo([]byte("ping"), server.LocalAddr())
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "ping", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the datagram")
	}

	buf := make([]byte, 16)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := client.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	require.NoError(t, l.Close())
	<-done
}

func TestUDP_MaxPacketIs64KiB(t *testing.T) {
	assert.Greater(t, udpMaxPacket, 0)
	// dispatchUDP skips any read longer than udpMaxPacket; this test sends
	// no datagram, it only pins the constant spec.md §4.7 requires (64 KiB).
	assert.Equal(t, 64*1024, udpMaxPacket)
}
