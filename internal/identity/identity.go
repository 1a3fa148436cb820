// Package identity manages the TLS credentials that authenticate a node.
// A node either loads a certificate/key pair from disk or generates an
// ephemeral self-signed pair at startup.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const certValidity = 365 * 24 * time.Hour

// Credentials holds a node's TLS certificate and private key.
type Credentials struct {
	Certificate tls.Certificate
}

// Generate creates a fresh self-signed Ed25519 certificate. The
// certificate names the loopback addresses so that locally meshed nodes
// verify against it when not running with verification disabled.
func Generate() (*Credentials, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("identity: serial number: %w", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "meshcast"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("identity: create certificate: %w", err)
	}

	return &Credentials{
		Certificate: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  priv,
		},
	}, nil
}

// Load reads a PEM certificate/key pair from disk.
func Load(certFile, keyFile string) (*Credentials, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("identity: load certificate: %w", err)
	}
	return &Credentials{Certificate: cert}, nil
}

// WritePEM writes the certificate and private key as PEM files. The key
// file is created with owner-only permissions.
func (c *Credentials) WritePEM(certFile, keyFile string) error {
	if len(c.Certificate.Certificate) == 0 {
		return fmt.Errorf("identity: no certificate to write")
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(c.Certificate.PrivateKey)
	if err != nil {
		return fmt.Errorf("identity: marshal key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Certificate.Certificate[0]})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	for _, dir := range []string{filepath.Dir(certFile), filepath.Dir(keyFile)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("identity: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		return fmt.Errorf("identity: write %s: %w", certFile, err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		return fmt.Errorf("identity: write %s: %w", keyFile, err)
	}
	return nil
}

// Leaf parses and returns the leaf certificate.
func (c *Credentials) Leaf() (*x509.Certificate, error) {
	if len(c.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("identity: no certificate")
	}
	leaf, err := x509.ParseCertificate(c.Certificate.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("identity: parse certificate: %w", err)
	}
	return leaf, nil
}
