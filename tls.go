// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"crypto/tls"
	"crypto/x509"
	"os"
)

// TLSOptions mirrors the us_socket_context SSL option set enumerated in
// spec.md §6, mapped onto crypto/tls.Config's equivalents. Options with
// no Go-ecosystem equivalent (dh_params_file_name, ssl_prefer_low_memory
// usage, legacy renegotiation windows) are accepted but documented
// no-ops; see DESIGN.md.
type TLSOptions struct {
	KeyFileName string
	Key         [][]byte
	CertFileName string
	Cert        [][]byte
	CAFileName  string
	CA          [][]byte
	Passphrase  string

	SSLCiphers           []uint16
	RejectUnauthorized   bool
	RequestCert          bool
	ServerName           string

	// PreferLowMemoryUsage, DHParamsFileName, ClientRenegotiationLimit and
	// ClientRenegotiationWindow are accepted for API parity but unused:
	// crypto/tls has no DH-params knob, no memory/speed tradeoff switch,
	// and rejects legacy renegotiation outright (spec.md's "never" policy
	// for servers is simply the Go default).
	PreferLowMemoryUsage      bool
	DHParamsFileName          string
	ClientRenegotiationLimit  int
	ClientRenegotiationWindow int
}

// TLSContext wraps the per-context TLS configuration plus its SNI routing
// tree (spec.md §4.5).
type TLSContext struct {
	base *tls.Config
	sni  *sniTree
}

// NewTLSContext builds a TLSContext from opts, loading its certificate,
// key and trust store. Failures are reported as [CreateContextError]
// (spec.md §7's CREATE_BUN_SOCKET_ERROR_* family).
func NewTLSContext(opts TLSOptions) (*TLSContext, error) {
	cfg, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	tc := &TLSContext{base: cfg, sni: newSNITree()}
	cfg.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		return tc.resolveSNI(hello), nil
	}
	return tc, nil
}

func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	certPEM, keyPEM, haveCert, err := loadCertAndKey(opts)
	if err != nil {
		return nil, err
	}
	if haveCert {
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, &CreateContextError{Kind: InvalidCA, Cause: err, Message: "parse certificate/key"}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	caPEM, haveCA, err := loadCA(opts)
	if err != nil {
		return nil, err
	}
	if haveCA {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, &CreateContextError{Kind: InvalidCA, Message: "no certificates parsed from CA bundle"}
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
	}

	if opts.RequestCert {
		if opts.RejectUnauthorized {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			cfg.ClientAuth = tls.RequestClientCert
		}
	}
	if !opts.RejectUnauthorized {
		cfg.InsecureSkipVerify = true
	}
	if len(opts.SSLCiphers) > 0 {
		cfg.CipherSuites = opts.SSLCiphers
	}
	if opts.ServerName != "" {
		cfg.ServerName = opts.ServerName
	}
	return cfg, nil
}

func loadCertAndKey(opts TLSOptions) (certPEM, keyPEM []byte, have bool, err error) {
	switch {
	case len(opts.Cert) > 0 && len(opts.Key) > 0:
		return joinPEM(opts.Cert), joinPEM(opts.Key), true, nil
	case opts.CertFileName != "" && opts.KeyFileName != "":
		certPEM, err = os.ReadFile(opts.CertFileName)
		if err != nil {
			return nil, nil, false, &CreateContextError{Kind: LoadCAFile, Cause: err, Message: opts.CertFileName}
		}
		keyPEM, err = os.ReadFile(opts.KeyFileName)
		if err != nil {
			return nil, nil, false, &CreateContextError{Kind: LoadCAFile, Cause: err, Message: opts.KeyFileName}
		}
		return certPEM, keyPEM, true, nil
	default:
		return nil, nil, false, nil
	}
}

func loadCA(opts TLSOptions) (caPEM []byte, have bool, err error) {
	switch {
	case len(opts.CA) > 0:
		return joinPEM(opts.CA), true, nil
	case opts.CAFileName != "":
		caPEM, err = os.ReadFile(opts.CAFileName)
		if err != nil {
			return nil, false, &CreateContextError{Kind: LoadCAFile, Cause: err, Message: opts.CAFileName}
		}
		return caPEM, true, nil
	default:
		return nil, false, nil
	}
}

func joinPEM(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
		out = append(out, '\n')
	}
	return out
}

// AddServerName registers a per-hostname TLS config under the SNI tree
// (spec.md §4.5). pattern is either an exact hostname or "*.suffix".
func (tc *TLSContext) AddServerName(pattern string, opts TLSOptions) error {
	cfg, err := buildTLSConfig(opts)
	if err != nil {
		return err
	}
	tc.sni.add(pattern, cfg)
	return nil
}

// RemoveServerName drops a previously registered SNI entry.
func (tc *TLSContext) RemoveServerName(pattern string) { tc.sni.remove(pattern) }

// OnServerName installs the miss handler: when a ClientHello's SNI name
// has no registered entry, f is consulted synchronously and, if it
// returns a non-nil config, the result is cached for future handshakes
// (spec.md §4.5's "on miss... may synchronously add the missing entry").
func (tc *TLSContext) OnServerName(f func(hostname string) *TLSOptions) {
	tc.sni.onMiss = func(hostname string) *tls.Config {
		opts := f(hostname)
		if opts == nil {
			return nil
		}
		cfg, err := buildTLSConfig(*opts)
		if err != nil {
			return nil
		}
		return cfg
	}
}

// configForSocket returns the *tls.Config that should drive t's handshake.
// It always works from a clone so the per-connection VerifyConnection
// closure bound to t doesn't leak onto tc.base or sibling connections
// sharing this context. On the server side, SNI resolution still runs
// per-handshake via GetConfigForClient, but the resolved config is itself
// cloned so every accepted connection gets its own verification closure
// even when several of them resolve to the same SNI entry.
func (tc *TLSContext) configForSocket(t *tlsSocketState, isClient bool) *tls.Config {
	if isClient {
		cfg := tc.base.Clone()
		cfg.VerifyConnection = verifyConnectionFunc(t, cfg, true)
		return cfg
	}
	cfg := tc.base.Clone()
	cfg.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		resolved := tc.resolveSNI(hello).Clone()
		resolved.GetConfigForClient = nil
		resolved.VerifyConnection = verifyConnectionFunc(t, resolved, false)
		return resolved, nil
	}
	return cfg
}

func (tc *TLSContext) resolveSNI(hello *tls.ClientHelloInfo) *tls.Config {
	if hello.ServerName == "" {
		return tc.base
	}
	if cfg := tc.sni.lookup(hello.ServerName); cfg != nil {
		return cfg
	}
	if tc.sni.onMiss != nil {
		if cfg := tc.sni.onMiss(hello.ServerName); cfg != nil {
			tc.sni.add(hello.ServerName, cfg)
			return cfg
		}
	}
	return tc.base
}
