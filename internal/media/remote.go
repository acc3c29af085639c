package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"media-gallery/internal/database"
	"media-gallery/internal/filesystem"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	// maxUploadBytes caps the file size sent to a model service.
	maxUploadBytes = 64 << 20
)

// RemoteConfig points an oracle at an HTTP model service.
type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Option customizes a remote oracle.
type Option func(*remoteClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *remoteClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type remoteClient struct {
	endpoint   string
	httpClient *http.Client
	resolve    Resolver
	retry      filesystem.RetryConfig
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("oracle request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func newRemoteClient(cfg RemoteConfig, path string, resolve Resolver, opts []Option) (*remoteClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("oracle base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid oracle url %q: %w", base, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c := &remoteClient{
		endpoint:   base + path,
		httpClient: &http.Client{Timeout: timeout},
		resolve:    resolve,
		retry:      filesystem.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// post uploads the item's file and decodes the JSON response into out.
func (c *remoteClient) post(ctx context.Context, item database.MediaItem, out any) error {
	if item.Size > maxUploadBytes {
		return fmt.Errorf("file too large for oracle: %d bytes", item.Size)
	}

	file, err := filesystem.OpenWithRetry(c.resolve(item.Path), c.retry)
	if err != nil {
		return err
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return fmt.Errorf("read media file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", item.MimeType)
	req.Header.Set("Accept", "application/json")
	q := req.URL.Query()
	q.Set("name", item.Name)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &httpStatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("oracle response: %w", err)
	}
	return nil
}

// RemoteClassifier asks a model service for an image label.
type RemoteClassifier struct {
	client *remoteClient
}

// NewRemoteClassifier creates a classifier posting to {BaseURL}/classify.
func NewRemoteClassifier(cfg RemoteConfig, resolve Resolver, opts ...Option) (*RemoteClassifier, error) {
	c, err := newRemoteClient(cfg, "/classify", resolve, opts)
	if err != nil {
		return nil, err
	}
	return &RemoteClassifier{client: c}, nil
}

// Extract classifies item.
func (r *RemoteClassifier) Extract(ctx context.Context, item database.MediaItem) (database.ClassificationPayload, error) {
	var p database.ClassificationPayload
	if err := r.client.post(ctx, item, &p); err != nil {
		return database.ClassificationPayload{}, err
	}
	p.Label = strings.ToLower(strings.TrimSpace(p.Label))
	if p.Label == "" {
		return database.ClassificationPayload{}, errors.New("oracle returned an empty label")
	}
	return p, nil
}

// RemoteEmbedder asks a model service for a feature vector.
type RemoteEmbedder struct {
	client *remoteClient
}

// NewRemoteEmbedder creates an embedder posting to {BaseURL}/embed.
func NewRemoteEmbedder(cfg RemoteConfig, resolve Resolver, opts ...Option) (*RemoteEmbedder, error) {
	c, err := newRemoteClient(cfg, "/embed", resolve, opts)
	if err != nil {
		return nil, err
	}
	return &RemoteEmbedder{client: c}, nil
}

// Extract embeds item.
func (r *RemoteEmbedder) Extract(ctx context.Context, item database.MediaItem) (database.EmbeddingPayload, error) {
	var p database.EmbeddingPayload
	if err := r.client.post(ctx, item, &p); err != nil {
		return database.EmbeddingPayload{}, err
	}
	if len(p.Vector) == 0 {
		return database.EmbeddingPayload{}, errors.New("oracle returned an empty vector")
	}
	return p, nil
}
