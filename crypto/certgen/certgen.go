// Package certgen issues a private CA plus server and client certificates
// for securing the JSON-RPC endpoint with (m)TLS.
package certgen

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

// File names written by GenerateAll.
const (
	CACert     = "ca.crt"
	CAKey      = "ca.key"
	ServerCert = "rpc-server.crt"
	ServerKey  = "rpc-server.key"
	ClientCert = "rpc-client.crt"
	ClientKey  = "rpc-client.key"
)

// Options controls the names and lifetimes of issued certificates.
type Options struct {
	// Hosts become the server certificate's SANs. IP literals go to IP SANs.
	Hosts []string
	// ClientName is the client certificate's CommonName.
	ClientName string
	Validity   time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{
		Hosts:      []string{"localhost", "127.0.0.1", "::1"},
		ClientName: "lotto-cli",
		Validity:   365 * 24 * time.Hour,
	}
	if o == nil {
		return out
	}
	if len(o.Hosts) > 0 {
		out.Hosts = o.Hosts
	}
	if o.ClientName != "" {
		out.ClientName = o.ClientName
	}
	if o.Validity > 0 {
		out.Validity = o.Validity
	}
	return out
}

// GenerateAll creates a CA, a server certificate for the RPC listener and
// a client certificate for the CLI, writing six PEM files into dir. Keys
// are written 0600. Pass nil opts for localhost-only defaults.
func GenerateAll(dir string, opts *Options) error {
	o := opts.withDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	caKey, caCert, err := newCA()
	if err != nil {
		return err
	}
	if err := writePair(dir, CACert, CAKey, caCert.Raw, caKey); err != nil {
		return err
	}

	serverDER, serverKey, err := issue(caCert, caKey, "lottochain-rpc", o.Hosts, x509.ExtKeyUsageServerAuth, o.Validity)
	if err != nil {
		return fmt.Errorf("server cert: %w", err)
	}
	if err := writePair(dir, ServerCert, ServerKey, serverDER, serverKey); err != nil {
		return err
	}

	clientDER, clientKey, err := issue(caCert, caKey, o.ClientName, nil, x509.ExtKeyUsageClientAuth, o.Validity)
	if err != nil {
		return fmt.Errorf("client cert: %w", err)
	}
	return writePair(dir, ClientCert, ClientKey, clientDER, clientKey)
}

func newCA() (*ecdsa.PrivateKey, *x509.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "lottochain RPC CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create CA cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parse CA cert: %w", err)
	}
	return key, cert, nil
}

func issue(ca *x509.Certificate, caKey *ecdsa.PrivateKey, cn string, hosts []string, usage x509.ExtKeyUsage, validity time.Duration) ([]byte, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &key.PublicKey, caKey)
	if err != nil {
		return nil, nil, err
	}
	return der, key, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}

func writePair(dir, certName, keyName string, der []byte, key *ecdsa.PrivateKey) error {
	if err := writePEM(filepath.Join(dir, certName), "CERTIFICATE", der, 0o644); err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, keyName), "EC PRIVATE KEY", keyDER, 0o600)
}

func writePEM(path, typ string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: typ, Bytes: data})
}
