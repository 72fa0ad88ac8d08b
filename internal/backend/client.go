// Package backend calls scraper backends using a gocolly collector.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// ErrEmptyResponse signals a 2xx response without a body.
var ErrEmptyResponse = errors.New("backend returned an empty body")

// StatusError reports a non-2xx backend response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s responded %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Config controls collector behavior.
type Config struct {
	// BaseURL is the site the backend is asked to scrape.
	BaseURL string
	// ConnectTimeout bounds TCP connect and TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the whole exchange; scraping is slow, so this is hours-scale.
	ReadTimeout time.Duration
	UserAgent   string
}

const (
	defaultConnectTimeout = 30 * time.Second
	defaultReadTimeout    = 4 * time.Hour
)

// Client posts {"baseUrl": ...} to a backend and returns the raw body.
type Client struct {
	cfg           Config
	payload       []byte
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type scrapeRequest struct {
	BaseURL string `json:"baseUrl"`
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	payload, err := json.Marshal(scrapeRequest{BaseURL: cfg.BaseURL})
	if err != nil {
		return nil, fmt.Errorf("marshal scrape request: %w", err)
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = 0
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport(cfg.ConnectTimeout))
	c.SetRequestTimeout(cfg.ReadTimeout)

	return &Client{
		cfg:           cfg,
		payload:       payload,
		baseCollector: c,
		logger:        logger,
	}, nil
}

// Fetch performs one scrape call against url. Network failures, timeouts and
// non-2xx responses are returned as errors; the caller treats them as "no data".
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	var res exchange
	start := time.Now()
	collector := c.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})

	if err := c.runCollector(ctx, collector, url, &res); err != nil {
		// The collector goroutine may still own res after cancellation.
		c.logger.Warn("backend call abandoned",
			zap.String("url", url),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	err := res.err
	switch {
	case err != nil:
	case res.status < http.StatusOK || res.status >= http.StatusMultipleChoices:
		err = &StatusError{URL: url, StatusCode: res.status}
	case len(res.body) == 0:
		err = ErrEmptyResponse
	}
	if err != nil {
		c.logger.Warn("backend call failed",
			zap.String("url", url),
			zap.Int("status", res.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	c.logger.Info("backend call completed",
		zap.String("url", url),
		zap.Int("status", res.status),
		zap.Int("bytes", len(res.body)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res.body, nil
}

type exchange struct {
	status int
	body   []byte
	err    error
}

// runCollector returns an error only when ctx ends first; transport and
// response failures land in res once the collector returns.
func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, url string, res *exchange) error {
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Accept", "application/json")

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(http.MethodPost, url, bytes.NewReader(c.payload), nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backend call canceled: %w", ctx.Err())
	case err := <-done:
		if res.err == nil && err != nil {
			res.err = fmt.Errorf("backend request failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
