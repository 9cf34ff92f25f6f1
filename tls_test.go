// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package usox

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientTLSHandshake(t *testing.T, raw net.Conn, serverName string) *tls.Conn {
	t.Helper()
	conn := tls.Client(raw, &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true,
	})
	require.NoError(t, conn.Handshake())
	return conn
}

func generateSelfSignedCert(t *testing.T, hosts ...string) (certPEM, keyPEM []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: hosts[0]},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     hosts,
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// TestTLS_HandshakeAndEchoWithSNI exercises spec.md §8 scenario 5: a TLS
// listener with an SNI entry for "alt.test", a client presenting that
// name, handshake completion, and an encrypted echo round trip.
func TestTLS_HandshakeAndEchoWithSNI(t *testing.T) {
	defaultCert, defaultKey := generateSelfSignedCert(t, "default.test")
	altCert, altKey := generateSelfSignedCert(t, "alt.test")

	tc, err := NewTLSContext(TLSOptions{
		Cert: [][]byte{defaultCert},
		Key:  [][]byte{defaultKey},
	})
	require.NoError(t, err)
	require.NoError(t, tc.AddServerName("alt.test", TLSOptions{
		Cert: [][]byte{altCert},
		Key:  [][]byte{altKey},
	}))

	l, err := NewLoop()
	require.NoError(t, err)

	handshakeOK := make(chan bool, 1)
	serverCtx := l.NewContext(ContextCallbacks{
		OnData: func(s *Socket, data []byte) { _, _ = s.Write(data, false) },
		OnHandshake: func(_ *Socket, success bool, _ error) {
			handshakeOK <- success
		},
	})
	serverCtx.EnableTLS(tc)

	listener, err := serverCtx.Listen("tcp", "127.0.0.1:0", ListenOptions{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	rawConn, err := net.DialTimeout("tcp", listener.LocalAddr().String(), 2*time.Second)
	require.NoError(t, err)
	defer rawConn.Close()

	clientConn := clientTLSHandshake(t, rawConn, "alt.test")

	select {
	case ok := <-handshakeOK:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("server handshake callback never fired")
	}

	_, err = clientConn.Write([]byte("secret"))
	require.NoError(t, err)

	buf := make([]byte, 6)
	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n := 0
	for n < len(buf) {
		m, err := clientConn.Read(buf[n:])
		require.NoError(t, err)
		n += m
	}
	assert.True(t, bytes.Equal(buf, []byte("secret")))

	require.NoError(t, l.Close())
	<-done
}
