// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package usox

import "golang.org/x/sys/unix"

const (
	msgNoSignal = unix.MSG_NOSIGNAL
	msgMoreFlag = unix.MSG_MORE
)
