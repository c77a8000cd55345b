package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultMaxDocumentBytes int64 = 1 << 20
	defaultFetchTimeout           = 30 * time.Second
)

// FetchResult contains a fetched document body and its cache validators.
type FetchResult struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// HTTPFetcher retrieves a facility document over HTTP.
type HTTPFetcher struct {
	url      string
	client   *retryablehttp.Client
	maxBytes int64
}

// NewHTTPFetcher constructs an HTTPFetcher for url.
func NewHTTPFetcher(url string, timeout time.Duration, maxBytes int64) (*HTTPFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("document url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxDocumentBytes
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timeout}

	return &HTTPFetcher{url: url, client: client, maxBytes: maxBytes}, nil
}

// Fetch downloads the document. A non-empty previousETag is sent as
// If-None-Match and a 304 answer yields NotModified.
func (f *HTTPFetcher) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	if previousETag != "" {
		req.Header.Set("If-None-Match", previousETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch config document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			NotModified:  true,
		}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("fetch config document: unexpected status %s", resp.Status)
	}

	body, err := readWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	if len(body) == 0 {
		return FetchResult{}, errors.New("config document is empty")
	}
	return FetchResult{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config document: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("config document exceeds %d bytes", maxBytes)
	}
	return body, nil
}

// Fingerprint computes a SHA-256 hash of a document body.
func Fingerprint(body []byte) (string, error) {
	if len(body) == 0 {
		return "", errors.New("config document is empty")
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// IsRemote reports whether location is an http(s) URL.
func IsRemote(location string) bool {
	lower := strings.ToLower(strings.TrimSpace(location))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// DocumentSource loads the facility document from a file or an http(s) URL
// and reparses it only when its contents change between cycles.
type DocumentSource struct {
	location string
	fetcher  *HTTPFetcher

	mu          sync.Mutex
	etag        string
	fingerprint string
	doc         Document
	loaded      bool
}

// NewDocumentSource constructs a DocumentSource for location.
func NewDocumentSource(location string) (*DocumentSource, error) {
	if strings.TrimSpace(location) == "" {
		return nil, errors.New("config document path is required")
	}
	s := &DocumentSource{location: location}
	if IsRemote(location) {
		fetcher, err := NewHTTPFetcher(location, defaultFetchTimeout, defaultMaxDocumentBytes)
		if err != nil {
			return nil, err
		}
		s.fetcher = fetcher
	}
	return s, nil
}

// Load returns the current document and whether it differs from the one
// returned by the previous successful Load. When reading or validating fails
// the last good document is returned alongside the error.
func (s *DocumentSource) Load(ctx context.Context) (Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, etag, err := s.read(ctx)
	if err != nil {
		return s.doc, false, err
	}
	if body == nil {
		return s.doc, false, nil
	}

	fingerprint, err := Fingerprint(body)
	if err != nil {
		return s.doc, false, err
	}
	if s.loaded && fingerprint == s.fingerprint {
		s.etag = etag
		return s.doc, false, nil
	}

	doc, err := ParseDocument(body)
	if err != nil {
		return s.doc, false, err
	}
	s.doc = doc
	s.fingerprint = fingerprint
	s.etag = etag
	s.loaded = true
	return doc, true, nil
}

// Fingerprint returns the hash of the last accepted document.
func (s *DocumentSource) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

// read returns a nil body when the remote document is unchanged.
func (s *DocumentSource) read(ctx context.Context) ([]byte, string, error) {
	if s.fetcher == nil {
		data, err := os.ReadFile(s.location)
		if err != nil {
			return nil, "", fmt.Errorf("read config document: %w", err)
		}
		return data, "", nil
	}

	previous := ""
	if s.loaded {
		previous = s.etag
	}
	result, err := s.fetcher.Fetch(ctx, previous)
	if err != nil {
		return nil, "", err
	}
	if result.NotModified {
		if !s.loaded {
			return nil, "", errors.New("fetch config document: not modified before first load")
		}
		return nil, s.etag, nil
	}
	return result.Body, result.ETag, nil
}
