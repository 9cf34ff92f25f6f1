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

func TestPollType_RoundTrip(t *testing.T) {
	for _, kind := range []PollKind{KindSocket, KindSocketShutDown, KindSemiSocket, KindCallback, KindUDP} {
		for _, readable := range []bool{true, false} {
			for _, writable := range []bool{true, false} {
				pt := makePollType(kind, readable, writable)
				assert.Equal(t, kind, pt.kind())
				assert.Equal(t, readable, pt.readable())
				assert.Equal(t, writable, pt.writable())
			}
		}
	}
}

func TestPollType_WithKindPreservesSubscription(t *testing.T) {
	pt := makePollType(KindSocket, true, false)
	pt = pt.withKind(KindSocketShutDown)
	assert.Equal(t, KindSocketShutDown, pt.kind())
	assert.True(t, pt.readable())
	assert.False(t, pt.writable())
}

func TestPollKind_String(t *testing.T) {
	assert.Equal(t, "socket", KindSocket.String())
	assert.Equal(t, "udp", KindUDP.String())
	assert.Equal(t, "unknown", PollKind(99).String())
}
