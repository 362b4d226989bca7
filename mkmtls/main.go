// Package mkmtls issues a development CA and certificates for running the
// API with mutual TLS.
package mkmtls

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

const (
	caKeyFile  = "ca.key"
	caCertFile = "ca.crt"
)

var (
	outDir string
	secret bool

	CMD = &cobra.Command{
		Use:   "mkmtls [dns_name...]",
		Short: "Create a development CA and a certificate for the given names",
		Long: `Create a development CA in the output directory, or reuse the one found
there, and issue a certificate valid for the given DNS names and 127.0.0.1.
The certificate works both as server and as client certificate.`,
		Args: cobra.MinimumNArgs(1),
		RunE: run,
	}
)

func init() {
	CMD.Flags().StringVarP(&outDir, "output", "o", ".", "directory for the CA and certificate files")
	CMD.Flags().BoolVar(&secret, "k8s-secret", false, "also write a Kubernetes TLS secret manifest")
}

type CA struct {
	Key     ed25519.PrivateKey
	Cert    *x509.Certificate
	CertPEM []byte
}

// Pair is an issued certificate and its key, PEM encoded.
type Pair struct {
	CertPEM []byte
	KeyPEM  []byte
}

func run(cmd *cobra.Command, args []string) error {
	ca, created, err := LoadOrCreateCA(outDir)
	if err != nil {
		return fmt.Errorf("CA: %w", err)
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Created CA in %s\n", outDir)
	}

	pair, err := ca.Issue(args)
	if err != nil {
		return err
	}

	name := args[0]
	certFile, keyFile, err := pair.Write(outDir, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created certificate: %s and key: %s\n", certFile, keyFile)

	if secret {
		manifest, err := K8sSecret(strings.ReplaceAll(name, ".", "-")+"-mtls", pair, ca.CertPEM)
		if err != nil {
			return err
		}
		secretFile := filepath.Join(outDir, name+"-tls-secret.yaml")
		if err := os.WriteFile(secretFile, manifest, 0o644); err != nil {
			return fmt.Errorf("failed to save Kubernetes secret YAML: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created Kubernetes TLS secret YAML: %s\n", secretFile)
	}
	return nil
}

// LoadOrCreateCA reads ca.key and ca.crt from dir, creating both when
// neither exists.
func LoadOrCreateCA(dir string) (ca *CA, created bool, err error) {
	_, keyErr := os.Stat(filepath.Join(dir, caKeyFile))
	_, certErr := os.Stat(filepath.Join(dir, caCertFile))

	switch {
	case keyErr == nil && certErr == nil:
		ca, err = loadCA(dir)
		return ca, false, err
	case errors.Is(keyErr, fs.ErrNotExist) && errors.Is(certErr, fs.ErrNotExist):
		ca, err = createCA(dir)
		return ca, true, err
	case keyErr != nil && !errors.Is(keyErr, fs.ErrNotExist):
		return nil, false, keyErr
	case certErr != nil && !errors.Is(certErr, fs.ErrNotExist):
		return nil, false, certErr
	}
	return nil, false, fmt.Errorf("only one of %s and %s exists in %s", caKeyFile, caCertFile, dir)
}

func loadCA(dir string) (*CA, error) {
	keyPEM, err := os.ReadFile(filepath.Join(dir, caKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to parse CA key PEM")
	}

	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA key: %w", err)
	}

	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an Ed25519 key")
	}

	certPEM, err := os.ReadFile(filepath.Join(dir, caCertFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("failed to parse CA cert PEM")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA cert: %w", err)
	}

	return &CA{Key: edKey, Cert: cert, CertPEM: certPEM}, nil
}

func serialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return n, nil
}

func encodeKey(key ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func createCA(dir string) (*CA, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA private key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"healthdesk development"},
			CommonName:   "healthdesk development CA",
		},
		NotBefore:             now,
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created CA certificate: %w", err)
	}

	keyPEM, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, caKeyFile), keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("failed to save CA private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, caCertFile), certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save CA certificate: %w", err)
	}

	return &CA{Key: key, Cert: cert, CertPEM: certPEM}, nil
}

// Issue signs a certificate for dnsNames and 127.0.0.1, usable for server
// and client authentication. The first name is the common name.
func (ca *CA) Issue(dnsNames []string) (*Pair, error) {
	if len(dnsNames) == 0 {
		return nil, fmt.Errorf("at least one DNS name is required")
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"healthdesk development"},
			CommonName:   dnsNames[0],
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, key.Public(), ca.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyPEM, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	return &Pair{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  keyPEM,
	}, nil
}

// Write stores the pair as <name>.crt and <name>.key in dir.
func (p *Pair) Write(dir, name string) (certFile, keyFile string, err error) {
	certFile = filepath.Join(dir, name+".crt")
	keyFile = filepath.Join(dir, name+".key")

	if err := os.WriteFile(keyFile, p.KeyPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("failed to save certificate key: %w", err)
	}
	if err := os.WriteFile(certFile, p.CertPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to save certificate: %w", err)
	}
	return certFile, keyFile, nil
}

type k8sSecret struct {
	APIVersion string            `json:"apiVersion"`
	Kind       string            `json:"kind"`
	Metadata   map[string]string `json:"metadata"`
	Type       string            `json:"type"`
	Data       map[string][]byte `json:"data"`
}

// K8sSecret renders a kubernetes.io/tls Secret holding the pair and the CA.
func K8sSecret(name string, p *Pair, caPEM []byte) ([]byte, error) {
	return yaml.Marshal(k8sSecret{
		APIVersion: "v1",
		Kind:       "Secret",
		Metadata:   map[string]string{"name": name},
		Type:       "kubernetes.io/tls",
		Data: map[string][]byte{
			"tls.crt": p.CertPEM,
			"tls.key": p.KeyPEM,
			"ca.crt":  caPEM,
		},
	})
}
