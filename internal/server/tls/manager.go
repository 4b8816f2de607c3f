// Package tls terminates HTTPS for the webhook endpoints, either with
// certificate files or with ACME certificates for a single domain.
package tls

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"golang.org/x/crypto/acme/autocert"
)

// Config holds TLS configuration.
type Config struct {
	AutoCert bool
	CertDir  string // autocert cache directory
	Domain   string // the only host autocert will request certificates for
	Email    string // ACME account contact
	CertFile string
	KeyFile  string
}

// Manager holds the server TLS configuration.
type Manager struct {
	config      Config
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config
}

// NewManager creates a manager. With neither AutoCert nor certificate files
// configured, TLS is disabled.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{config: cfg}

	switch {
	case cfg.AutoCert:
		if cfg.Domain == "" {
			return nil, fmt.Errorf("tls.domain is required for autocert")
		}
		if cfg.CertDir == "" {
			return nil, fmt.Errorf("tls.cert_dir is required for autocert")
		}
		m.autocertMgr = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Domain),
			Cache:      autocert.DirCache(cfg.CertDir),
			Email:      cfg.Email,
		}
		m.tlsConfig = m.autocertMgr.TLSConfig()
		m.tlsConfig.MinVersion = tls.VersionTLS12

	case cfg.CertFile != "" || cfg.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificates: %w", err)
		}
		m.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return m, nil
}

// TLSConfig returns the server TLS configuration, nil when disabled.
func (m *Manager) TLSConfig() *tls.Config {
	return m.tlsConfig
}

// IsEnabled returns whether TLS is enabled.
func (m *Manager) IsEnabled() bool {
	return m.tlsConfig != nil
}

// IsAutoCert reports whether certificates come from ACME.
func (m *Manager) IsAutoCert() bool {
	return m.autocertMgr != nil
}

// HTTPHandler returns the handler for the plain HTTP listener. With autocert
// it answers ACME HTTP-01 challenges and passes everything else to fallback.
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.autocertMgr == nil {
		return fallback
	}
	return m.autocertMgr.HTTPHandler(fallback)
}
