// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package fetch retrieves Agent Card documents from remote URLs: the
// by-URL half of the ingestion pipeline, and the peer-sync client used by
// federation. It is deliberately stateless — no caching, no retries beyond
// what net/http does on its own — so every call has predictable latency
// and size bounds.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/a2aregistry/registry/internal/tlsutil"
	"github.com/a2aregistry/registry/types"
)

const (
	defaultConnectTimeout = 3 * time.Second
	defaultTotalTimeout   = 10 * time.Second
	defaultMaxBodyBytes   = 256 * 1024
	defaultMaxRedirects   = 3
)

// Config controls the fetcher's limits. Zero values fall back to the
// contract's defaults via DefaultConfig.
type Config struct {
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	MaxBodyBytes   int64
	MaxRedirects   int

	// RateLimit caps outbound requests per second, shared across every
	// call through a single Fetcher instance. Zero disables throttling.
	RateLimit rate.Limit
	Burst     int
}

// DefaultConfig returns the contract's stated limits: 3s connect, 10s
// total, 256KiB response body, up to 3 redirects.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: defaultConnectTimeout,
		TotalTimeout:   defaultTotalTimeout,
		MaxBodyBytes:   defaultMaxBodyBytes,
		MaxRedirects:   defaultMaxRedirects,
		RateLimit:      50,
		Burst:          10,
	}
}

// Result is a successfully fetched document.
type Result struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// RedirectPolicy decides whether a fetcher may follow a redirect to host.
// Peer-sync fetches are pinned to the peer's own host; user-supplied
// by-URL fetches from a verified publisher may cross hosts.
type RedirectPolicy func(originalHost, redirectHost string) bool

// SameHostOnly rejects any redirect that leaves the original host —
// the policy used for peer synchronization.
func SameHostOnly(originalHost, redirectHost string) bool {
	return originalHost == redirectHost
}

// AnyHost allows redirects to any host — the policy used for a verified
// publisher's own by-URL submissions.
func AnyHost(string, string) bool {
	return true
}

// Fetcher retrieves a single document over HTTP(S) within the contract's
// limits. One Fetcher is safe for concurrent use by multiple goroutines;
// its rate limit is shared across all of them.
type Fetcher struct {
	cfg     *Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Fetcher. A nil config falls back to DefaultConfig; a nil
// logger falls back to zap.NewNop.
func New(cfg *Config, logger *zap.Logger) *Fetcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(cfg.RateLimit, cfg.Burst)
	}
	return &Fetcher{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "card_fetcher")),
	}
}

// Fetch retrieves rawURL, optionally presenting bearerToken as an
// Authorization header (used for peer-registry pulls), following at most
// MaxRedirects redirects permitted by policy.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, bearerToken string, policy RedirectPolicy) (*Result, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrDeadlineExceeded, "rate limiter wait canceled").WithCause(err)
		}
	}

	originalURL, err := url.Parse(rawURL)
	if err != nil || !originalURL.IsAbs() {
		return nil, types.NewError(types.ErrValidation, "fetch url must be absolute").WithDetail(rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.TotalTimeout)
	defer cancel()

	client := &http.Client{
		Timeout: f.cfg.TotalTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > f.cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", f.cfg.MaxRedirects)
			}
			if policy != nil && !policy(originalURL.Host, req.URL.Host) {
				return fmt.Errorf("redirect to host %q not permitted by policy", req.URL.Host)
			}
			return nil
		},
		Transport: &http.Transport{
			DialContext:     (&net.Dialer{Timeout: f.cfg.ConnectTimeout}).DialContext,
			TLSClientConfig: tlsutil.DefaultTLSConfig(),
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "could not build request").WithCause(err)
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		f.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewError(types.ErrUpstream, "fetch returned non-2xx status").
			WithDetail(fmt.Sprintf("status=%d url=%s", resp.StatusCode, rawURL))
	}

	limited := io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, types.NewError(types.ErrUpstream, "failed reading response body").WithCause(err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, types.NewError(types.ErrValidation, "response exceeds maximum allowed size").
			WithDetail(fmt.Sprintf("limit=%d", f.cfg.MaxBodyBytes))
	}

	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

func classifyTransportError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "tls") || strings.Contains(msg, "x509") || strings.Contains(msg, "certificate") {
		return types.NewError(types.ErrUpstream, "TLS error contacting remote agent").WithCause(err)
	}
	return types.NewError(types.ErrUpstream, "failed to reach remote agent").WithCause(err)
}
