// Package hsm implements the mTLS-authenticated signer client used by
// the stablecoin/MPC provider adapter (C6) to request a signature over a
// payment dispatch digest without the core process ever holding a
// signing key in process memory, per spec §1's in-process-signing
// non-goal. Adapted from the teacher's services/otc-gateway/hsm.Client,
// retargeted from mint-voucher digests to payment dispatch digests.
package hsm

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"time"
)

// Signer abstracts the capability to sign a payment dispatch digest
// using an org's configured signing key.
type Signer interface {
	Sign(ctx context.Context, digest []byte) (signature []byte, signerDN string, err error)
}

// Config captures the parameters required to establish an mTLS session
// with the signing proxy.
type Config struct {
	BaseURL    string
	KeyLabel   string
	CACertPath string
	ClientCert string
	ClientKey  string
	Timeout    time.Duration
	SignPath   string
	OverrideDN string
}

// Client implements Signer over mTLS HTTP.
type Client struct {
	keyLabel   string
	httpClient *http.Client
	baseURL    string
	signPath   string
	overrideDN string
}

// NewClient builds a signing client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("hsm: base url required")
	}
	if strings.TrimSpace(cfg.KeyLabel) == "" {
		return nil, fmt.Errorf("hsm: key label required")
	}
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	signPath := strings.TrimSpace(cfg.SignPath)
	if signPath == "" {
		signPath = "/sign"
	}
	return &Client{
		keyLabel:   strings.TrimSpace(cfg.KeyLabel),
		httpClient: &http.Client{Timeout: timeout, Transport: &http.Transport{TLSClientConfig: tlsConfig}},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signPath:   signPath,
		overrideDN: strings.TrimSpace(cfg.OverrideDN),
	}, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("hsm: load client certificate: %w", err)
	}
	rootPool, err := loadCACert(cfg.CACertPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}, RootCAs: rootPool}, nil
}

func loadCACert(p string) (*x509.CertPool, error) {
	if strings.TrimSpace(p) == "" {
		return nil, fmt.Errorf("hsm: ca certificate required")
	}
	pemBytes, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("hsm: read ca certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("hsm: failed to append ca certificate %s", p)
	}
	return pool, nil
}

type signRequest struct {
	KeyLabel string `json:"key"`
	Digest   string `json:"digest"`
}

type signResponse struct {
	Signature string `json:"signature"`
	SignerDN  string `json:"signerDn"`
}

// Sign requests the signing proxy to sign digest and returns the raw
// signature bytes and the signer's distinguished name when available.
func (c *Client) Sign(ctx context.Context, digest []byte) ([]byte, string, error) {
	if c == nil || c.httpClient == nil {
		return nil, "", fmt.Errorf("hsm: client not configured")
	}
	trimmed := strings.TrimSpace(hex.EncodeToString(digest))
	if trimmed == "" {
		return nil, "", fmt.Errorf("hsm: digest required")
	}
	payload := signRequest{KeyLabel: c.keyLabel, Digest: trimmed}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	url := c.baseURL + path.Clean("/"+c.signPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("hsm: sign failed: status=%d", resp.StatusCode)
	}
	var decoded signResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, "", fmt.Errorf("hsm: decode response: %w", err)
	}
	sigHex := strings.TrimPrefix(strings.TrimSpace(decoded.Signature), "0x")
	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, "", fmt.Errorf("hsm: invalid signature encoding: %w", err)
	}
	if len(signature) == 0 {
		return nil, "", fmt.Errorf("hsm: empty signature")
	}
	signerDN := strings.TrimSpace(decoded.SignerDN)
	if signerDN == "" {
		signerDN = c.overrideDN
	}
	return signature, signerDN, nil
}

var _ Signer = (*Client)(nil)
