// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSNITree_ExactPreferredOverWildcard(t *testing.T) {
	tree := newSNITree()
	wildcard := &tls.Config{ServerName: "wildcard"}
	exact := &tls.Config{ServerName: "exact"}

	tree.add("*.example.com", wildcard)
	tree.add("api.example.com", exact)

	assert.Same(t, exact, tree.lookup("api.example.com"))
	assert.Same(t, wildcard, tree.lookup("other.example.com"))
	assert.Nil(t, tree.lookup("example.com"))
}

func TestSNITree_CaseInsensitive(t *testing.T) {
	tree := newSNITree()
	cfg := &tls.Config{}
	tree.add("Example.COM", cfg)
	assert.Same(t, cfg, tree.lookup("example.com"))
}

func TestSNITree_Remove(t *testing.T) {
	tree := newSNITree()
	cfg := &tls.Config{}
	tree.add("example.com", cfg)
	require := assert.New(t)
	require.Same(cfg, tree.lookup("example.com"))
	tree.remove("example.com")
	require.Nil(tree.lookup("example.com"))
}
