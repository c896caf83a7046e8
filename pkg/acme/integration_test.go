//go:build integration
// +build integration

package acme

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run")
	}
}

// startStepCA runs a step-ca container and returns its URL plus root CA.
func startStepCA(ctx context.Context, t *testing.T) (testcontainers.Container, string, []byte, error) {
	req := testcontainers.ContainerRequest{
		Image:        "smallstep/step-ca:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"DOCKER_STEPCA_INIT_NAME":             "SPIIR Test CA",
			"DOCKER_STEPCA_INIT_DNS_NAMES":        "localhost,step-ca,spiir.example.org",
			"DOCKER_STEPCA_INIT_PROVISIONER_NAME": "acme",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("Serving HTTPS"),
			wait.ForListeningPort("9000/tcp"),
		).WithDeadline(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to start step-ca container: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, "9000")
	if err != nil {
		container.Terminate(ctx)
		return nil, "", nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	stepCAURL := fmt.Sprintf("https://localhost:%s", mappedPort.Port())

	// step-ca writes its root at /home/step/certs/root_ca.crt shortly
	// after startup.
	time.Sleep(5 * time.Second)

	reader, err := container.CopyFileFromContainer(ctx, "/home/step/certs/root_ca.crt")
	if err != nil {
		container.Terminate(ctx)
		return nil, "", nil, fmt.Errorf("failed to copy root CA from container: %w", err)
	}
	defer reader.Close()

	rootCA, err := io.ReadAll(reader)
	if err != nil {
		container.Terminate(ctx)
		return nil, "", nil, fmt.Errorf("failed to read root CA: %w", err)
	}

	t.Logf("step-ca started at %s", stepCAURL)
	return container, stepCAURL, rootCA, nil
}

func TestACMEFullLifecycle(t *testing.T) {
	skipUnlessIntegration(t)

	ctx := context.Background()

	stepCAContainer, stepCAURL, rootCA, err := startStepCA(ctx, t)
	require.NoError(t, err)
	defer func() {
		if err := stepCAContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate step-ca container: %v", err)
		}
	}()

	tempDir := t.TempDir()
	storagePath := filepath.Join(tempDir, "acme-storage")
	caBundle := filepath.Join(tempDir, "ca.crt")
	require.NoError(t, os.WriteFile(caBundle, rootCA, 0644))

	config := Config{
		DirectoryURL:  fmt.Sprintf("%s/acme/acme/directory", stepCAURL),
		Email:         "alerts@spiir.example.org",
		Domains:       []string{"spiir.example.org"},
		ChallengeType: "http-01",
		RenewBefore:   5 * time.Second, // forces the renewal path below
		StoragePath:   storagePath,
		CABundle:      caBundle,
	}

	client, err := NewClient(config)
	require.NoError(t, err)

	t.Run("obtain_certificate", func(t *testing.T) {
		cert, err := client.ObtainCertificate(ctx)
		require.NoError(t, err)
		require.NotNil(t, cert)

		x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
		require.NoError(t, err)

		assert.Contains(t, x509Cert.DNSNames, "spiir.example.org")
		assert.True(t, x509Cert.NotAfter.After(time.Now()))
		assert.True(t, x509Cert.NotBefore.Before(time.Now()))

		assert.FileExists(t, filepath.Join(storagePath, "certificate.pem"))
		assert.FileExists(t, filepath.Join(storagePath, "certificate.key"))
	})

	t.Run("no_renewal_needed", func(t *testing.T) {
		cert, renewed, err := client.RenewCertificateIfNeeded(ctx)
		require.NoError(t, err)
		require.NotNil(t, cert)
		assert.False(t, renewed, "fresh certificate must not be renewed")
	})

	t.Run("renewal_needed", func(t *testing.T) {
		// Run past the 5s renewal window configured above.
		time.Sleep(6 * time.Second)

		cert, renewed, err := client.RenewCertificateIfNeeded(ctx)
		require.NoError(t, err)
		require.NotNil(t, cert)
		assert.True(t, renewed)

		x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
		require.NoError(t, err)
		assert.True(t, x509Cert.NotAfter.After(time.Now()))
	})

	t.Run("account_persistence", func(t *testing.T) {
		assert.FileExists(t, filepath.Join(storagePath, "account.json"))
		assert.FileExists(t, filepath.Join(storagePath, "account.key"))

		// A second client over the same storage reuses the account.
		client2, err := NewClient(config)
		require.NoError(t, err)
		assert.Equal(t, client.account.Email, client2.account.Email)
	})
}

func TestACMEClientInitFailure(t *testing.T) {
	skipUnlessIntegration(t)

	config := Config{
		DirectoryURL:  "https://invalid-step-ca:9000/acme/acme/directory",
		Email:         "alerts@spiir.example.org",
		Domains:       []string{"spiir.example.org"},
		ChallengeType: "http-01",
		RenewBefore:   8 * time.Hour,
		StoragePath:   filepath.Join(t.TempDir(), "acme-storage"),
	}

	_, err := NewClient(config)
	require.Error(t, err, "an unreachable directory must fail client construction")
	assert.Contains(t, err.Error(), "acme.Client.initializeLegoClient")
}

func TestACMECertificateServesTLS(t *testing.T) {
	skipUnlessIntegration(t)

	ctx := context.Background()

	stepCAContainer, stepCAURL, rootCA, err := startStepCA(ctx, t)
	require.NoError(t, err)
	defer stepCAContainer.Terminate(ctx)

	tempDir := t.TempDir()
	storagePath := filepath.Join(tempDir, "acme-storage")
	caBundle := filepath.Join(tempDir, "ca.crt")
	require.NoError(t, os.WriteFile(caBundle, rootCA, 0644))

	config := Config{
		DirectoryURL:  fmt.Sprintf("%s/acme/acme/directory", stepCAURL),
		Email:         "alerts@spiir.example.org",
		Domains:       []string{"localhost"},
		ChallengeType: "http-01",
		RenewBefore:   8 * time.Hour,
		StoragePath:   storagePath,
		CABundle:      caBundle,
	}

	client, err := NewClient(config)
	require.NoError(t, err)

	cert, err := client.ObtainCertificate(ctx)
	require.NoError(t, err)
	require.NotNil(t, cert)

	// The obtained certificate must drop straight into the websocket
	// feed's TLS listener config.
	serverConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}
	require.Len(t, serverConfig.Certificates, 1)

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, x509Cert.DNSNames, "localhost")
}
