package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig names the PEM files used to serve JSON-RPC over TLS.
// With ClientCA set, clients must present a certificate signed by it.
type TLSConfig struct {
	Cert     string `json:"cert" toml:"cert"`
	Key      string `json:"key" toml:"key"`
	ClientCA string `json:"client_ca,omitempty" toml:"client_ca,omitempty"`
}

// LoadTLSConfig builds the server-side *tls.Config for the RPC listener.
// If cfg is nil or has no certificate it returns (nil, nil), meaning the
// caller should serve plain HTTP.
func LoadTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil || (cfg.Cert == "" && cfg.Key == "") {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("load rpc cert/key: %w", err)
	}
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if cfg.ClientCA != "" {
		pool, err := loadPool(cfg.ClientCA)
		if err != nil {
			return nil, err
		}
		out.ClientCAs = pool
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}

// ClientTLSConfig builds the *tls.Config a CLI uses to reach a TLS RPC
// endpoint. caPath pins the server's CA; certPath/keyPath are optional and
// only needed when the server demands client certificates.
func ClientTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	out := &tls.Config{MinVersion: tls.VersionTLS13}
	if caPath != "" {
		pool, err := loadPool(caPath)
		if err != nil {
			return nil, err
		}
		out.RootCAs = pool
	}
	if certPath != "" || keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}
