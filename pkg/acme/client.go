// Package acme automates certificate obtainment and renewal for the public
// endpoints of a search deployment, the websocket event feed and the metrics
// server. tlsutil wires it in when a server is configured with mode "acme".
package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/challenge/tlsalpn01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/tanghyd/spiir-search/errors"
)

// Client drives the ACME flow against a directory: account registration,
// certificate issuance and renewal, all persisted under StoragePath so a
// restarted feed reuses its account and certificate.
type Client struct {
	config     Config
	legoClient *lego.Client
	account    *Account
}

// Config holds ACME client configuration.
type Config struct {
	DirectoryURL  string
	Email         string
	Domains       []string
	ChallengeType string
	RenewBefore   time.Duration
	StoragePath   string
	CABundle      string // private CA roots, for internal ACME servers
}

// Account is the persisted ACME account registration.
type Account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

// GetEmail returns the account email address.
func (a *Account) GetEmail() string {
	return a.Email
}

// GetRegistration returns the ACME registration resource.
func (a *Account) GetRegistration() *registration.Resource {
	return a.Registration
}

// GetPrivateKey returns the account private key.
func (a *Account) GetPrivateKey() crypto.PrivateKey {
	return a.key
}

// Validate checks the configuration and fills the RenewBefore default.
func (c *Config) Validate() error {
	if c.DirectoryURL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("directory_url is required"),
			"acme.Config", "Validate", "check directory URL")
	}
	if c.Email == "" {
		return errors.WrapInvalid(
			fmt.Errorf("email is required"),
			"acme.Config", "Validate", "check email")
	}
	if len(c.Domains) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("at least one domain is required"),
			"acme.Config", "Validate", "check domains")
	}
	if c.ChallengeType != "http-01" && c.ChallengeType != "tls-alpn-01" && c.ChallengeType != "" {
		return errors.WrapInvalid(
			fmt.Errorf("challenge_type must be 'http-01' or 'tls-alpn-01'"),
			"acme.Config", "Validate", "check challenge type")
	}
	if c.StoragePath == "" {
		return errors.WrapInvalid(
			fmt.Errorf("storage_path is required"),
			"acme.Config", "Validate", "check storage path")
	}
	if c.RenewBefore <= 0 {
		c.RenewBefore = 8 * time.Hour
	}
	return nil
}

// NewClient validates the config, loads or creates the account under
// StoragePath and registers with the directory. Construction fails when
// the directory is unreachable.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.StoragePath, 0700); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "NewClient", "create storage directory")
	}

	client := &Client{
		config: cfg,
	}

	if err := client.loadOrCreateAccount(); err != nil {
		return nil, err
	}

	if err := client.initializeLegoClient(); err != nil {
		return nil, err
	}

	return client, nil
}

// accountPaths returns where the account registration and its private
// key live under StoragePath.
func (c *Client) accountPaths() (accountPath, keyPath string) {
	return filepath.Join(c.config.StoragePath, "account.json"),
		filepath.Join(c.config.StoragePath, "account.key")
}

// certPaths returns where the issued certificate and its private key
// live under StoragePath.
func (c *Client) certPaths() (certPath, keyPath string) {
	return filepath.Join(c.config.StoragePath, "certificate.pem"),
		filepath.Join(c.config.StoragePath, "certificate.key")
}

// loadOrCreateAccount restores a persisted account or generates a fresh
// P-256 key for a new one.
func (c *Client) loadOrCreateAccount() error {
	accountPath, keyPath := c.accountPaths()

	if _, err := os.Stat(accountPath); err == nil {
		accountData, err := os.ReadFile(accountPath)
		if err != nil {
			return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "read account file")
		}

		var account Account
		if err := json.Unmarshal(accountData, &account); err != nil {
			return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "unmarshal account")
		}

		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "read key file")
		}

		privateKey, err := certcrypto.ParsePEMPrivateKey(keyData)
		if err != nil {
			return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "parse private key")
		}

		account.key = privateKey
		c.account = &account

		return nil
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "generate private key")
	}

	c.account = &Account{
		Email: c.config.Email,
		key:   privateKey,
	}

	// Registration is filled in once the directory accepts the account.
	return c.saveAccount()
}

func (c *Client) saveAccount() error {
	accountPath, keyPath := c.accountPaths()

	accountData, err := json.MarshalIndent(c.account, "", "  ")
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "saveAccount", "marshal account")
	}

	if err := os.WriteFile(accountPath, accountData, 0600); err != nil {
		return errors.WrapFatal(err, "acme.Client", "saveAccount", "write account file")
	}

	keyData := certcrypto.PEMEncode(c.account.key)

	if err := os.WriteFile(keyPath, keyData, 0600); err != nil {
		return errors.WrapFatal(err, "acme.Client", "saveAccount", "write key file")
	}

	return nil
}

// initializeLegoClient builds the lego client, installs the challenge
// provider and registers the account if it has no registration yet.
func (c *Client) initializeLegoClient() error {
	config := lego.NewConfig(c.account)
	config.CADirURL = c.config.DirectoryURL
	config.Certificate.KeyType = certcrypto.EC256

	// A CA bundle points at a private directory (step-ca in testing);
	// trust its roots instead of the system pool.
	if c.config.CABundle != "" {
		caCert, err := os.ReadFile(c.config.CABundle)
		if err != nil {
			return errors.WrapFatal(err, "acme.Client", "initializeLegoClient", "read CA bundle")
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return errors.WrapFatal(
				fmt.Errorf("failed to parse CA certificate"),
				"acme.Client", "initializeLegoClient", "parse CA bundle")
		}

		config.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs: caCertPool,
				},
			},
		}
	}

	client, err := lego.NewClient(config)
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "initializeLegoClient", "create lego client")
	}

	challengeType := c.config.ChallengeType
	if challengeType == "" {
		challengeType = "http-01"
	}

	switch challengeType {
	case "http-01":
		if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", "80")); err != nil {
			return errors.WrapFatal(err, "acme.Client", "initializeLegoClient", "setup HTTP-01 challenge")
		}
	case "tls-alpn-01":
		if err := client.Challenge.SetTLSALPN01Provider(tlsalpn01.NewProviderServer("", "443")); err != nil {
			return errors.WrapFatal(err, "acme.Client", "initializeLegoClient", "setup TLS-ALPN-01 challenge")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unsupported challenge type: %s", challengeType),
			"acme.Client", "initializeLegoClient", "setup challenge provider")
	}

	if c.account.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return errors.WrapTransient(err, "acme.Client", "initializeLegoClient", "register account")
		}
		c.account.Registration = reg

		if err := c.saveAccount(); err != nil {
			return err
		}
	}

	c.legoClient = client
	return nil
}

// ObtainCertificate requests a certificate for the configured domains
// and persists it under StoragePath alongside its key.
func (c *Client) ObtainCertificate(_ context.Context) (*tls.Certificate, error) {
	request := certificate.ObtainRequest{
		Domains: c.config.Domains,
		Bundle:  true,
	}

	certificates, err := c.legoClient.Certificate.Obtain(request)
	if err != nil {
		return nil, errors.WrapTransient(err, "acme.Client", "ObtainCertificate", "obtain certificate")
	}

	return c.storeCertificate("ObtainCertificate", "", certificates.Certificate, certificates.PrivateKey)
}

// storeCertificate persists a certificate and key pair and loads them
// back as a tls.Certificate. The qualifier distinguishes renewal error
// text from first issuance.
func (c *Client) storeCertificate(method, qualifier string, certPEM, keyPEM []byte) (*tls.Certificate, error) {
	certPath, keyPath := c.certPaths()

	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", method, "write "+qualifier+"certificate")
	}

	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", method, "write "+qualifier+"private key")
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", method, "load "+qualifier+"certificate")
	}

	return &tlsCert, nil
}

// RenewCertificateIfNeeded loads the stored certificate and renews it
// once it is within RenewBefore of expiry. The bool reports whether a
// renewal happened; with no stored certificate it returns (nil, false,
// nil) and the caller obtains one.
func (c *Client) RenewCertificateIfNeeded(_ context.Context) (*tls.Certificate, bool, error) {
	certPath, keyPath := c.certPaths()

	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		return nil, false, nil
	}

	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"load existing certificate")
	}

	cert, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"parse certificate")
	}

	renewalTime := cert.NotAfter.Add(-c.config.RenewBefore)
	if time.Now().Before(renewalTime) {
		return &tlsCert, false, nil
	}

	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"read certificate for renewal")
	}

	certResource := certificate.Resource{
		Domain:      c.config.Domains[0],
		Certificate: certData,
	}

	renewed, err := c.legoClient.Certificate.Renew(certResource, true, false, "")
	if err != nil {
		return nil, false, errors.WrapTransient(err, "acme.Client", "RenewCertificateIfNeeded",
			"renew certificate")
	}

	renewedTLS, err := c.storeCertificate("RenewCertificateIfNeeded", "renewed ",
		renewed.Certificate, renewed.PrivateKey)
	if err != nil {
		return nil, false, err
	}

	return renewedTLS, true, nil
}

// StartRenewalLoop checks for renewal every checkInterval until the
// context ends, invoking onRenewal with each fresh certificate.
func (c *Client) StartRenewalLoop(ctx context.Context, checkInterval time.Duration,
	onRenewal func(*tls.Certificate)) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cert, renewed, err := c.RenewCertificateIfNeeded(ctx)
			if err != nil {
				// A failed check retries on the next tick; the current
				// certificate stays in service meanwhile.
				continue
			}

			if renewed && onRenewal != nil {
				onRenewal(cert)
			}
		}
	}
}
