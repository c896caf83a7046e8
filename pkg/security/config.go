// Package security declares the TLS configuration types shared by the
// websocket event feed, the metrics server and the event database
// submitter. tlsutil turns these into tls.Config values.
package security

// Config is the security block of the platform configuration.
type Config struct {
	TLS TLSConfig `json:"tls,omitempty"`
}

// TLSConfig splits TLS settings by role: Server covers the endpoints a
// search node exposes, Client covers the connections it originates.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty"`
}

// ACMEConfig configures automated certificate management against an
// ACME directory, typically an internal step-ca.
type ACMEConfig struct {
	Enabled       bool     `json:"enabled"`
	DirectoryURL  string   `json:"directory_url,omitempty"`
	Email         string   `json:"email,omitempty"`
	Domains       []string `json:"domains,omitempty"`
	ChallengeType string   `json:"challenge_type,omitempty"` // "http-01" or "tls-alpn-01"
	RenewBefore   string   `json:"renew_before,omitempty"`   // duration string, e.g. "8h"
	StoragePath   string   `json:"storage_path,omitempty"`
	CABundle      string   `json:"ca_bundle,omitempty"` // roots for a private directory
}

// ServerMTLSConfig governs client certificate validation on served
// endpoints. With RequireClientCert false a certificate is verified
// when presented but a bare TLS client is still admitted.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"` // narrows trust past the CA
}

// ServerTLSConfig configures TLS for served endpoints. Mode "manual"
// (the default) uses CertFile and KeyFile; mode "acme" delegates
// issuance and renewal to the ACME block.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	Mode       string `json:"mode,omitempty"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" or "1.3"

	ACME ACMEConfig `json:"acme,omitempty"`

	MTLS ServerMTLSConfig `json:"mtls,omitempty"`
}

// ClientMTLSConfig supplies the certificate a client presents when the
// far end demands mTLS.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// ClientTLSConfig configures TLS for originated connections. The system
// CA pool is always trusted; CAFiles add extra roots on top.
type ClientTLSConfig struct {
	Mode               string   `json:"mode,omitempty"` // "manual" (default) or "acme"
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // lab endpoints only
	MinVersion         string   `json:"min_version,omitempty"`

	ACME ACMEConfig `json:"acme,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty"`
}
