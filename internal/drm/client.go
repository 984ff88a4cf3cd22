package drm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dhruva-antino/live-drm/internal/platform/logger"
	"github.com/dhruva-antino/live-drm/internal/platform/metrics"
)

const maxResponseBytes = 1 << 20

// Config holds the key-server endpoint and signing inputs.
type Config struct {
	URL              string
	SigningKeyHex    string
	SigningIVHex     string
	Signer           string
	Scheme           string
	ProtectionScheme string
	DRMTypes         []string
	Tracks           []string
	Timeout          time.Duration
}

// Validate reports missing or malformed signing configuration. It never
// performs I/O and is called before any key request.
func (c Config) Validate() error {
	var missing []string
	if c.URL == "" {
		missing = append(missing, "key server url")
	}
	if c.SigningKeyHex == "" {
		missing = append(missing, "signing key")
	}
	if c.SigningIVHex == "" {
		missing = append(missing, "signing iv")
	}
	if c.Signer == "" {
		missing = append(missing, "signer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	if k, err := hex.DecodeString(c.SigningKeyHex); err != nil || len(k) != 32 {
		return fmt.Errorf("%w: signing key must be 64 hex characters", ErrConfiguration)
	}
	if iv, err := hex.DecodeString(c.SigningIVHex); err != nil || len(iv) != 16 {
		return fmt.Errorf("%w: signing iv must be 32 hex characters", ErrConfiguration)
	}
	if _, err := ParseScheme(c.scheme()); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func (c Config) scheme() string {
	if c.Scheme == "" {
		return string(Widevine)
	}
	return c.Scheme
}

// KeyMaterial is the per-session encryption material. All fields are hex;
// PSSH is the complete box in uppercase hex.
type KeyMaterial struct {
	KeyID      string
	ContentKey string
	IV         string
	PSSH       string
}

// Track names one track type in a key request.
type Track struct {
	Type string `json:"type"`
}

// KeyRequest is the signed inner request. Field order is part of the
// signature input.
type KeyRequest struct {
	ContentID        string   `json:"content_id"`
	Tracks           []Track  `json:"tracks"`
	DRMTypes         []string `json:"drm_types"`
	ProtectionScheme string   `json:"protection_scheme"`
}

// Envelope is the body POSTed to the key server.
type Envelope struct {
	Request   string `json:"request"`
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
}

// Client performs key exchanges. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewClient returns a Client. httpClient may be nil, in which case one with
// cfg.Timeout is created.
func NewClient(cfg Config, httpClient *http.Client, log *slog.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{cfg: cfg, http: httpClient, log: log.With("component", "drm"), metrics: m}
}

// Config returns the client's configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Validate checks the signing configuration without any I/O.
func (c *Client) Validate() error {
	return c.cfg.Validate()
}

// BuildEnvelope marshals and signs the key request for contentID.
func (c *Client) BuildEnvelope(contentID string) (Envelope, []byte, error) {
	tracks := make([]Track, 0, len(c.cfg.Tracks))
	for _, t := range c.cfg.Tracks {
		tracks = append(tracks, Track{Type: t})
	}
	if len(tracks) == 0 {
		tracks = []Track{{Type: "HD"}}
	}
	drmTypes := c.cfg.DRMTypes
	if len(drmTypes) == 0 {
		drmTypes = []string{c.cfg.scheme()}
	}
	protection := c.cfg.ProtectionScheme
	if protection == "" {
		protection = "CBCS"
	}

	req, err := json.Marshal(KeyRequest{
		ContentID:        base64.StdEncoding.EncodeToString([]byte(contentID)),
		Tracks:           tracks,
		DRMTypes:         drmTypes,
		ProtectionScheme: protection,
	})
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: marshal request: %v", ErrSigning, err)
	}
	sig, err := CreateSignature(req, c.cfg.SigningKeyHex, c.cfg.SigningIVHex)
	if err != nil {
		return Envelope{}, nil, err
	}
	return Envelope{
		Request:   base64.StdEncoding.EncodeToString(req),
		Signature: sig,
		Signer:    c.cfg.Signer,
	}, req, nil
}

// RequestKeys exchanges a signed request for contentID against the key
// server and returns normalised key material with a built PSSH box.
func (c *Client) RequestKeys(ctx context.Context, contentID string) (KeyMaterial, error) {
	if err := c.cfg.Validate(); err != nil {
		return KeyMaterial{}, err
	}
	km, err := c.requestKeys(ctx, contentID)
	c.metrics.ObserveKeyExchange(err)
	if err != nil {
		c.log.Error("key exchange failed", "content_id", contentID, "error", err)
		return KeyMaterial{}, err
	}
	c.log.Info("key exchange complete", "content_id", contentID, "key_id", km.KeyID)
	return km, nil
}

func (c *Client) requestKeys(ctx context.Context, contentID string) (KeyMaterial, error) {
	env, _, err := c.BuildEnvelope(contentID)
	if err != nil {
		return KeyMaterial{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: marshal envelope: %v", ErrKeyExchange, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: read response: %v", ErrKeyExchange, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return KeyMaterial{}, fmt.Errorf("%w: key server returned %d: %s", ErrKeyExchange, resp.StatusCode, truncate(raw, 200))
	}

	scheme, _ := ParseScheme(c.cfg.scheme())
	return ParseKeyResponse(raw, scheme)
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
