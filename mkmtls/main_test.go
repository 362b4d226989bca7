package mkmtls

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

func TestIssueChainsToCA(t *testing.T) {
	dir := t.TempDir()

	ca, created, err := LoadOrCreateCA(dir)
	require.NoError(t, err)
	assert.True(t, created)

	pair, err := ca.Issue([]string{"api.healthdesk.local", "localhost"})
	require.NoError(t, err)

	block, _ := pem.Decode(pair.CertPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "api.healthdesk.local", cert.Subject.CommonName)

	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM(ca.CertPEM))
	for _, usage := range []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth} {
		_, err = cert.Verify(x509.VerifyOptions{
			DNSName:   "localhost",
			Roots:     roots,
			KeyUsages: []x509.ExtKeyUsage{usage},
		})
		assert.NoError(t, err)
	}

	again, created, err := LoadOrCreateCA(dir)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ca.CertPEM, again.CertPEM)
	assert.Equal(t, ca.Key, again.Key)
}

func TestLoadOrCreateCARejectsHalfCA(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, caCertFile), []byte("x"), 0o644))

	_, _, err := LoadOrCreateCA(dir)
	assert.Error(t, err)
}

func TestWriteAndSecret(t *testing.T) {
	dir := t.TempDir()
	ca, _, err := LoadOrCreateCA(dir)
	require.NoError(t, err)
	pair, err := ca.Issue([]string{"localhost"})
	require.NoError(t, err)

	certFile, keyFile, err := pair.Write(dir, "localhost")
	require.NoError(t, err)
	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	got, err := os.ReadFile(certFile)
	require.NoError(t, err)
	assert.Equal(t, pair.CertPEM, got)

	manifest, err := K8sSecret("localhost-mtls", pair, ca.CertPEM)
	require.NoError(t, err)

	var s k8sSecret
	require.NoError(t, yaml.Unmarshal(manifest, &s))
	assert.Equal(t, "Secret", s.Kind)
	assert.Equal(t, "localhost-mtls", s.Metadata["name"])
	assert.Equal(t, pair.KeyPEM, s.Data["tls.key"])
	assert.Equal(t, ca.CertPEM, s.Data["ca.crt"])
}
