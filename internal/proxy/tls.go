// internal/proxy/tls.go
package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/valpere/scraperotor/internal/utils"
)

var tlsLogger = utils.NewComponentLogger("proxy-tls")

// BuildTLSConfig creates a tls.Config for probe connections
func BuildTLSConfig(config *TLSConfig) (*tls.Config, error) {
	if config == nil {
		return GetDefaultTLSConfig(), nil
	}

	tlsConfig := &tls.Config{
		ServerName: config.ServerName,
		MinVersion: tls.VersionTLS12,
	}

	if config.InsecureSkipVerify {
		if !allowInsecureTLS {
			return nil, fmt.Errorf("insecure_skip_verify is not permitted in production builds")
		}
		tlsConfig.InsecureSkipVerify = true
		tlsLogger.Warn("TLS certificate verification is disabled for probes (insecure_skip_verify: true)")
	}

	if len(config.RootCAs) > 0 {
		rootCAs := x509.NewCertPool()
		for _, caFile := range config.RootCAs {
			caCert, err := os.ReadFile(caFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read root CA file %s: %w", caFile, err)
			}
			if !rootCAs.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to parse root CA certificate from %s", caFile)
			}
		}
		tlsConfig.RootCAs = rootCAs
	}

	if config.ClientCert != "" && config.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.ClientCert, config.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// ValidateTLSConfig validates TLS configuration
func ValidateTLSConfig(config *TLSConfig) error {
	if config == nil {
		return nil
	}

	if (config.ClientCert != "") != (config.ClientKey != "") {
		return fmt.Errorf("both client_cert and client_key must be provided for mutual TLS")
	}
	if config.InsecureSkipVerify && !allowInsecureTLS {
		return fmt.Errorf("insecure_skip_verify is not permitted in production builds")
	}

	files := append([]string{}, config.RootCAs...)
	if config.ClientCert != "" {
		files = append(files, config.ClientCert, config.ClientKey)
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			return fmt.Errorf("TLS file does not exist: %s", f)
		}
	}
	return nil
}

// GetDefaultTLSConfig returns a secure default TLS configuration
func GetDefaultTLSConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}
