package server

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"

	"github.com/kokukuma/dc-mediator/pkg/hash"
	"github.com/kokukuma/dc-mediator/pkg/pki"
)

// ErrCertificateNotFound is returned for trust anchor files that do not exist.
var ErrCertificateNotFound = errors.New("certificate not found")

// CertManager manages the trust anchors request objects are verified against.
// Anchors are the .pem files of one directory.
type CertManager struct {
	mu       sync.RWMutex
	pemsDir  string
	certPool *x509.CertPool
}

// CertInfo describes one trust anchor.
type CertInfo struct {
	Filename    string `json:"filename"`
	Subject     string `json:"subject"`
	Issuer      string `json:"issuer"`
	ValidFrom   string `json:"valid_from"`
	ValidTo     string `json:"valid_to"`
	Fingerprint string `json:"fingerprint"`
}

func NewCertManager(pemsDir string) (*CertManager, error) {
	cm := &CertManager{
		pemsDir: pemsDir,
	}

	if err := cm.ReloadCertificates(); err != nil {
		return nil, err
	}

	return cm, nil
}

// CertPool returns the current pool.
func (cm *CertManager) CertPool() *x509.CertPool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.certPool
}

func (cm *CertManager) ReloadCertificates() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	return cm.reloadCertificatesNoLock()
}

func (cm *CertManager) reloadCertificatesNoLock() error {
	files, err := cm.pemFiles()
	if err != nil {
		return err
	}

	certPool := x509.NewCertPool()

	for _, name := range files {
		path := filepath.Join(cm.pemsDir, name)

		cert, err := pki.LoadCertificate(path)
		if err != nil {
			logger.Warn("failed to load trust anchor", zap.String("path", path), log.WithError(err))
			continue
		}

		certPool.AddCert(cert)
	}

	logger.Info("trust anchors loaded", zap.String("dir", cm.pemsDir), zap.Int("files", len(files)))

	cm.certPool = certPool
	return nil
}

func (cm *CertManager) ListCertificates() ([]CertInfo, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	files, err := cm.pemFiles()
	if err != nil {
		return nil, err
	}

	certs := []CertInfo{}

	for _, name := range files {
		cert, err := pki.LoadCertificate(filepath.Join(cm.pemsDir, name))
		if err != nil {
			logger.Warn("skipping unreadable trust anchor", zap.String("filename", name), log.WithError(err))
			continue
		}
		certs = append(certs, certInfo(name, cert))
	}

	return certs, nil
}

// AddCertificate stores a PEM certificate under filename and reloads the pool.
// An empty filename is derived from the certificate fingerprint.
func (cm *CertManager) AddCertificate(filename string, certData []byte) (*CertInfo, error) {
	block, _ := pem.Decode(certData)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("invalid certificate data")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid certificate: %w", err)
	}

	if filename == "" {
		filename = strings.ReplaceAll(hash.Fingerprint(cert.Raw), ":", "")[:16]
	}

	name, err := pemFilename(filename)
	if err != nil {
		return nil, err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.WriteFile(filepath.Join(cm.pemsDir, name), certData, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write certificate file: %w", err)
	}

	if err := cm.reloadCertificatesNoLock(); err != nil {
		return nil, err
	}

	info := certInfo(name, cert)
	return &info, nil
}

func (cm *CertManager) DeleteCertificate(filename string) error {
	name, err := pemFilename(filename)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.Remove(filepath.Join(cm.pemsDir, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrCertificateNotFound
		}
		return fmt.Errorf("failed to delete certificate file: %w", err)
	}

	return cm.reloadCertificatesNoLock()
}

// GetCertificate returns the description and PEM data of one trust anchor.
func (cm *CertManager) GetCertificate(filename string) (*CertInfo, []byte, error) {
	name, err := pemFilename(filename)
	if err != nil {
		return nil, nil, err
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	path := filepath.Join(cm.pemsDir, name)

	pemData, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrCertificateNotFound
		}
		return nil, nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	cert, err := pki.LoadCertificate(path)
	if err != nil {
		return nil, nil, err
	}

	info := certInfo(name, cert)
	return &info, pemData, nil
}

func (cm *CertManager) pemFiles() ([]string, error) {
	entries, err := os.ReadDir(cm.pemsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificates directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

// pemFilename appends the .pem extension and rejects names leaving the directory.
func pemFilename(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid certificate filename %q", filename)
	}
	if !strings.HasSuffix(filename, ".pem") {
		filename += ".pem"
	}
	return filename, nil
}

func certInfo(filename string, cert *x509.Certificate) CertInfo {
	return CertInfo{
		Filename:    filename,
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		ValidFrom:   cert.NotBefore.Format("2006-01-02"),
		ValidTo:     cert.NotAfter.Format("2006-01-02"),
		Fingerprint: hash.Fingerprint(cert.Raw),
	}
}
