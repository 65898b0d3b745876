package seal

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// CertificateProvider supplies the sealing key pair. The sealing core
// never branches on deployment environment: production wires a
// FileProvider, development a SelfSignedProvider, and the core treats
// both the same.
type CertificateProvider interface {
	Credentials() (*rsa.PrivateKey, *x509.Certificate, error)
}

// FileProvider loads a PEM key pair from disk.
type FileProvider struct {
	CertPath string
	KeyPath  string
}

func (p *FileProvider) Credentials() (*rsa.PrivateKey, *x509.Certificate, error) {
	certPEM, err := os.ReadFile(p.CertPath)
	if err != nil {
		return nil, nil, &contracts.ProviderError{Provider: "file", Reason: "read certificate", Err: err}
	}
	keyPEM, err := os.ReadFile(p.KeyPath)
	if err != nil {
		return nil, nil, &contracts.ProviderError{Provider: "file", Reason: "read private key", Err: err}
	}

	cert, err := parseCertPEM(certPEM)
	if err != nil {
		return nil, nil, err
	}
	key, err := parseKeyPEM(keyPEM)
	if err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}

// SelfSignedProvider generates an RSA-2048 key pair with a ten-year
// self-signed certificate on first use. Seals made with it carry no
// third-party trust; it exists so development and tests run without
// provisioning.
type SelfSignedProvider struct {
	CommonName   string
	Organization string
	Country      string
	Logger       *slog.Logger

	once sync.Once
	key  *rsa.PrivateKey
	cert *x509.Certificate
	err  error
}

// Credentials generates the key pair on first call. Concurrent first
// seals share one generation; every caller sees the same credentials.
func (p *SelfSignedProvider) Credentials() (*rsa.PrivateKey, *x509.Certificate, error) {
	p.once.Do(func() { p.key, p.cert, p.err = p.generate() })
	return p.key, p.cert, p.err
}

func (p *SelfSignedProvider) generate() (*rsa.PrivateKey, *x509.Certificate, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("no sealing certificate configured, generating a self-signed one",
		"common_name", p.commonName())

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("seal: generate sealing key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("seal: certificate serial: %w", err)
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   p.commonName(),
			Organization: []string{p.organization()},
			Country:      []string{p.country()},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("seal: create self-signed certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("seal: parse generated certificate: %w", err)
	}
	return key, cert, nil
}

func (p *SelfSignedProvider) commonName() string {
	if p.CommonName != "" {
		return p.CommonName
	}
	return "Signet Development Sealing"
}

func (p *SelfSignedProvider) organization() string {
	if p.Organization != "" {
		return p.Organization
	}
	return "Signet Labs"
}

func (p *SelfSignedProvider) country() string {
	if p.Country != "" {
		return p.Country
	}
	return "CH"
}

// NewCertificateProvider picks the file loader when both paths are set,
// the self-signed generator otherwise.
func NewCertificateProvider(certPath, keyPath string, logger *slog.Logger) CertificateProvider {
	if certPath != "" && keyPath != "" {
		return &FileProvider{CertPath: certPath, KeyPath: keyPath}
	}
	return &SelfSignedProvider{Logger: logger}
}

func parseCertPEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, &contracts.ProviderError{Provider: "file", Reason: "certificate is not PEM-encoded"}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &contracts.ProviderError{Provider: "file", Reason: "parse certificate", Err: err}
	}
	return cert, nil
}

func parseKeyPEM(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, &contracts.ProviderError{Provider: "file", Reason: "private key is not PEM-encoded"}
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &contracts.ProviderError{Provider: "file", Reason: "parse private key", Err: err}
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, &contracts.ProviderError{Provider: "file", Reason: "sealing requires an RSA private key"}
	}
	return key, nil
}

// EncodeCertPEM renders a certificate for embedding into artifacts.
func EncodeCertPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
