// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"crypto/tls"
	"strings"
	"sync"
)

// sniTree maps hostname patterns to a dedicated *tls.Config, exact
// matches always preferred over a "*.suffix" wildcard entry (spec.md
// §4.5/§9's glossary entry for SNI tree).
type sniTree struct {
	mu       sync.RWMutex
	exact    map[string]*tls.Config
	wildcard map[string]*tls.Config
	onMiss   func(hostname string) *tls.Config
}

func newSNITree() *sniTree {
	return &sniTree{
		exact:    make(map[string]*tls.Config),
		wildcard: make(map[string]*tls.Config),
	}
}

func (t *sniTree) add(pattern string, cfg *tls.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		t.wildcard[strings.ToLower(suffix)] = cfg
	} else {
		t.exact[strings.ToLower(pattern)] = cfg
	}
}

func (t *sniTree) remove(pattern string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		delete(t.wildcard, strings.ToLower(suffix))
	} else {
		delete(t.exact, strings.ToLower(pattern))
	}
}

func (t *sniTree) lookup(hostname string) *tls.Config {
	hostname = strings.ToLower(hostname)
	t.mu.RLock()
	defer t.mu.RUnlock()

	if cfg, ok := t.exact[hostname]; ok {
		return cfg
	}
	if i := strings.IndexByte(hostname, '.'); i >= 0 {
		if cfg, ok := t.wildcard[hostname[i+1:]]; ok {
			return cfg
		}
	}
	return nil
}
