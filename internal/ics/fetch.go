package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "calagent/internal/log"
)

// Subscription is one read-only ICS URL, such as a shared busy calendar.
type Subscription struct {
	Name string
	URL  string
}

// cacheMeta holds the validators of the last 200 response for one URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads subscriptions with conditional requests. The last good
// body is kept on disk and served when the remote is down or unchanged.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	maxBytes int64
}

const defaultMaxBytes = 10 << 20

// NewFetcher returns a Fetcher caching under cacheDir. An empty cacheDir
// disables the disk cache. Bodies over maxBytes are rejected; maxBytes <= 0
// means 10 MiB.
func NewFetcher(client *http.Client, cacheDir string, maxBytes int64) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Fetcher{client: client, cacheDir: cacheDir, maxBytes: maxBytes}
}

// Fetch returns the body of sub and whether it came from the disk cache.
func (f *Fetcher) Fetch(ctx context.Context, sub Subscription) ([]byte, bool, error) {
	if sub.URL == "" {
		return nil, false, errors.New("subscription URL is empty")
	}

	dir := f.cacheDirFor(sub.URL)
	meta, cached := f.loadCache(dir)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.URL, nil)
	if err != nil {
		return nil, false, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("subscription fetch failed; serving cached copy", err, "name", sub.Name, "url", redactURL(sub.URL))
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err == nil && int64(len(body)) > f.maxBytes {
			err = fmt.Errorf("subscription %s: body exceeds %d bytes", sub.Name, f.maxBytes)
		}
		if err != nil {
			if len(cached) > 0 {
				appLog.Error("subscription read failed; serving cached copy", err, "name", sub.Name, "url", redactURL(sub.URL))
				return cached, true, nil
			}
			return nil, false, err
		}
		meta := cacheMeta{
			URL:          sub.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(dir, meta, body); err != nil {
			appLog.Error("subscription cache save failed", err, "name", sub.Name)
		}
		appLog.Debug("subscription fetched", "name", sub.Name, "bytes", len(body))
		return body, false, nil

	case resp.StatusCode == http.StatusNotModified && len(cached) > 0:
		appLog.Debug("subscription not modified", "name", sub.Name)
		return cached, true, nil

	case len(cached) > 0:
		appLog.Error("subscription fetch non-OK; serving cached copy", errors.New(resp.Status), "name", sub.Name, "url", redactURL(sub.URL))
		return cached, true, nil

	default:
		return nil, false, fmt.Errorf("subscription %s: %s", sub.Name, resp.Status)
	}
}

func (f *Fetcher) cacheDirFor(rawURL string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCache(dir string) (cacheMeta, []byte) {
	var meta cacheMeta
	if dir == "" {
		return meta, nil
	}
	body, err := os.ReadFile(filepath.Join(dir, "body.ics"))
	if err != nil {
		return meta, nil
	}
	if data, err := os.ReadFile(filepath.Join(dir, "meta.json")); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta, body
}

func (f *Fetcher) saveCache(dir string, meta cacheMeta, body []byte) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; private feed URLs carry tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
