// Package tlsload loads the meta-server's TLS identity from operator-
// supplied DER-encoded key and certificate files, replacing the
// self-signed certificate generator used for local development in
// earlier iterations of the server this package is derived from.
package tlsload

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
)

// Load reads a DER-encoded private key and certificate from disk and
// builds a *tls.Config suitable for a QUIC listener, configured with the
// given ALPN protocol list. It logs the certificate's SHA-256 fingerprint
// at info level so operators can confirm they deployed the cert they
// intended to.
func Load(keyPath, certPath string, alpn []string, log *slog.Logger) (*tls.Config, error) {
	if log == nil {
		log = slog.Default()
	}

	keyDER, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("tlsload: read key %q: %w", keyPath, err)
	}
	certDER, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("tlsload: read cert %q: %w", certPath, err)
	}

	key, err := parsePrivateKeyDER(keyDER)
	if err != nil {
		return nil, fmt.Errorf("tlsload: parse key %q: %w", keyPath, err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("tlsload: parse cert %q: %w", certPath, err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}

	fingerprint := sha256.Sum256(certDER)
	log.Info("loaded tls identity", "cert", certPath, "fingerprint", fmt.Sprintf("%x", fingerprint))

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   alpn,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// parsePrivateKeyDER tries each DER private-key encoding the standard
// library understands, since the input may be PKCS#1, EC, or PKCS#8.
func parsePrivateKeyDER(der []byte) (any, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unrecognized private key DER encoding")
}
