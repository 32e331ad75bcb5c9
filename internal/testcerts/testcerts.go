// Package testcerts generates self-signed TLS certificates for use in
// tests, seeded from a string instead of crypto/rand, so that test fixtures
// can be written to disk without checking in generated key material.
package testcerts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
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

// Pair is a PEM-encoded certificate and private key, suitable for
// tls.X509KeyPair or for writing to a cert directory watched by a
// DirCertSelector.
type Pair struct {
	CertPEM []byte
	KeyPEM  []byte
}

// Generate produces a self-signed certificate/key pair for the given seed
// and set of DNS names / IP addresses, reading its randomness from a reader
// seeded with seed. The certificate bytes are not reproducible across calls:
// ECDSA signing mixes in fresh randomness, so two calls with the same seed
// yield certificates with different signatures.
func Generate(seed string, hosts ...string) (Pair, error) {
	rnd := newDetermRand([]byte(seed))

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rnd)
	if err != nil {
		return Pair{}, fmt.Errorf("testcerts: generate key: %s", err)
	}

	serial, err := rand.Int(rnd, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Pair{}, fmt.Errorf("testcerts: generate serial: %s", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"tunnelhost test fixtures"}},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rnd, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return Pair{}, fmt.Errorf("testcerts: create certificate: %s", err)
	}

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return Pair{}, fmt.Errorf("testcerts: marshal key: %s", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return Pair{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// WriteToDir writes a generated pair into dir as "<name>.crt" and
// "<name>.key", the layout expected by DirCertSelector. Returns the two file
// paths written.
func WriteToDir(dir, name string, pair Pair) (certPath, keyPath string, err error) {
	certPath = filepath.Join(dir, name+".crt")
	keyPath = filepath.Join(dir, name+".key")
	if err = os.WriteFile(certPath, pair.CertPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("testcerts: write cert: %s", err)
	}
	if err = os.WriteFile(keyPath, pair.KeyPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("testcerts: write key: %s", err)
	}
	return certPath, keyPath, nil
}
