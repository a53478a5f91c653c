package server

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

const TLSMinVersion = tls.VersionTLS12

// cipherSuites restricts TLS 1.2 to AEAD suites with forward secrecy. TLS 1.3 suites are not
// configurable.
var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   TLSMinVersion,
		CipherSuites: cipherSuites,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// CertExpiryWarning is how long before expiry the certificate check starts warning.
const CertExpiryWarning = 30 * 24 * time.Hour

// CertificateExpiry returns the NotAfter of the leaf certificate in certFile.
func CertificateExpiry(certFile string) (time.Time, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, fmt.Errorf("no certificate PEM block in %s", certFile)
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return leaf.NotAfter, nil
}

// CheckCertificate logs a warning when certFile expires within the warning window and an error
// once it has expired. It returns the time left.
func CheckCertificate(certFile string, now time.Time, logger *zap.Logger) (time.Duration, error) {
	expiry, err := CertificateExpiry(certFile)
	if err != nil {
		logger.Error("Certificate check failed", zap.String("file", certFile), zap.Error(err))
		return 0, err
	}
	left := expiry.Sub(now)
	switch {
	case left <= 0:
		logger.Error("TLS certificate has expired", zap.String("file", certFile), zap.Time("expired_at", expiry))
	case left < CertExpiryWarning:
		logger.Warn("TLS certificate expires soon",
			zap.String("file", certFile),
			zap.Time("expires_at", expiry),
			zap.Duration("remaining", left))
	}
	return left, nil
}
