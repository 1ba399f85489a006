package rpc

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GetCertFingerprint returns the hex sha256 of a DER-encoded x509 certificate.
func GetCertFingerprint(cert []byte) string {
	certHash := sha256.Sum256(cert)
	return hex.EncodeToString(certHash[:])
}

// GenCertificate loads the certificate kept under dir/tls, generating a new one
// if it or its key is missing or invalid. The fingerprint file is rewritten when missing.
func GenCertificate(dir string) (tls.Certificate, string /* fingerprint */, error) {
	dir = filepath.Join(dir, "tls")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return tls.Certificate{}, "", err
	}

	var (
		certFile        = filepath.Join(dir, "cert.pem")
		keyFile         = filepath.Join(dir, "cert-private-key.pem")
		fingerprintFile = filepath.Join(dir, "cert-fingerprint.txt")
	)

	cert, err := loadKeyPair(certFile, keyFile)
	if err != nil {
		certPem, keyPem, err := genCert()
		if err != nil {
			return tls.Certificate{}, "", fmt.Errorf("generating cert: %w", err)
		}
		if err := os.WriteFile(certFile, certPem, 0644); err != nil {
			return tls.Certificate{}, "", fmt.Errorf("writing cert: %w", err)
		}
		if err := os.WriteFile(keyFile, keyPem, 0600); err != nil {
			return tls.Certificate{}, "", fmt.Errorf("writing key: %w", err)
		}
		os.Remove(fingerprintFile)

		if cert, err = loadKeyPair(certFile, keyFile); err != nil {
			return tls.Certificate{}, "", err
		}
	}

	if buf, err := os.ReadFile(fingerprintFile); err == nil {
		return cert, strings.TrimSpace(string(buf)), nil
	}

	fingerprint := GetCertFingerprint(cert.Leaf.Raw)
	if err := os.WriteFile(fingerprintFile, []byte(fingerprint), 0644); err != nil {
		return cert, "", fmt.Errorf("writing fingerprint: %w", err)
	}
	return cert, fingerprint, nil
}

func loadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return cert, err
	}
	cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0])
	return cert, err
}

func genCert() ([]byte, []byte, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "workspaced"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour * 24 * 3650),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, err
	}

	certPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPem := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPem, keyPem, nil
}
