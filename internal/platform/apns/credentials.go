package apns

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// Environments accepted in configuration.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

func isDevelopment(env string) bool {
	switch strings.ToLower(env) {
	case EnvDevelopment, "sandbox", "staging":
		return true
	}
	return false
}

// checkReadableFile is the fail-fast check run before any connection is attempted.
func checkReadableFile(providerName, field, path string) error {
	if path == "" {
		return &notification.ConfigurationError{Provider: providerName, Field: field, Err: fmt.Errorf("path is empty")}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &notification.ConfigurationError{Provider: providerName, Field: field, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &notification.ConfigurationError{Provider: providerName, Field: field, Err: fmt.Errorf("%s is not a regular file", path)}
	}
	f, err := os.Open(path)
	if err != nil {
		return &notification.ConfigurationError{Provider: providerName, Field: field, Err: err}
	}
	return f.Close()
}

// loadCertificate reads a client certificate from a PKCS#12 bundle (.p12/.pfx) or a
// PEM file holding both certificate and key.
func loadCertificate(providerName, path, passphrase string) (tls.Certificate, error) {
	if err := checkReadableFile(providerName, "certificate_path", path); err != nil {
		return tls.Certificate{}, err
	}

	var (
		cert tls.Certificate
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		cert, err = certificate.FromP12File(path, passphrase)
	default:
		cert, err = certificate.FromPemFile(path, passphrase)
	}
	if err != nil {
		return tls.Certificate{}, &notification.ConfigurationError{Provider: providerName, Field: "certificate_path", Err: err}
	}
	return cert, nil
}

// loadCAPool builds a root pool from a single PEM bundle, or from every file in a
// directory.
func loadCAPool(path string) (*x509.CertPool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &notification.ConfigurationError{Provider: provider, Field: "ca_path", Err: err}
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, &notification.ConfigurationError{Provider: provider, Field: "ca_path", Err: err}
		}
		files = files[:0]
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	}

	pool := x509.NewCertPool()
	added := 0
	for _, f := range files {
		pem, err := os.ReadFile(f)
		if err != nil {
			return nil, &notification.ConfigurationError{Provider: provider, Field: "ca_path", Err: err}
		}
		if pool.AppendCertsFromPEM(pem) {
			added++
		}
	}
	if added == 0 {
		return nil, &notification.ConfigurationError{Provider: provider, Field: "ca_path", Err: fmt.Errorf("no certificates found in %s", path)}
	}
	return pool, nil
}

// resolveHost picks the endpoint: an explicit override, which must carry a host, or
// Apple's production/development host.
func resolveHost(endpoint, env string) (string, error) {
	if endpoint == "" {
		if isDevelopment(env) {
			return apns2.HostDevelopment, nil
		}
		return apns2.HostProduction, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", &notification.ConfigurationError{Provider: provider, Field: "endpoint", Err: err}
	}
	if u.Host == "" {
		return "", &notification.ConfigurationError{Provider: provider, Field: "endpoint", Err: fmt.Errorf("%q has no host", endpoint)}
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}
