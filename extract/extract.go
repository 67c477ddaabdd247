// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package extract downloads documents and turns them into plain text.
//
// PDFs are read page by page with each page prefixed by a "=== page N ==="
// marker, HTML pages are reduced to their main article text, and anything
// else is treated as plain text. Output is whitespace-normalized.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
)

const (
	// DefaultMaxPages bounds PDF extraction when the caller passes no limit.
	DefaultMaxPages = 20

	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 5
	defaultMaxBytes   = 64 << 20
	userAgent         = "needmatch/1.0 (+document analysis)"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// HTTP 429 responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// Extractor fetches documents over HTTP and extracts their text.
type Extractor struct {
	client     *http.Client
	maxRetries int
	maxBytes   int64
	logger     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Extractor) {
		e.client = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		e.client.Timeout = d
	}
}

// WithMaxRetries sets how many times a 429 response is retried.
func WithMaxRetries(n int) Option {
	return func(e *Extractor) {
		e.maxRetries = n
	}
}

// WithMaxBytes caps the response size read from the server.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) {
		e.maxBytes = n
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		maxBytes:   defaultMaxBytes,
		logger:     slog.Default().With("component", "extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract downloads rawURL and returns its normalized text. id is used for
// logging only. maxPages limits PDF extraction; zero or less means DefaultMaxPages.
func (e *Extractor) Extract(ctx context.Context, rawURL, id string, maxPages int) (string, error) {
	if rawURL == "" {
		return "", ErrURLRequired
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid url %q", rawURL)
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	start := time.Now()
	body, contentType, err := e.download(ctx, rawURL)
	if err != nil {
		return "", err
	}

	var text string
	switch detect(contentType, body) {
	case "pdf":
		text, err = PDFText(body, maxPages)
	case "html":
		text, err = htmlText(body, parsedURL)
	default:
		text = string(body)
	}
	if err != nil {
		return "", err
	}

	text = Normalize(text)
	if text == "" {
		return "", ErrEmptyDocument
	}

	e.logger.Info("document extracted",
		"id", id,
		"bytes", len(body),
		"chars", len(text),
		"elapsed", time.Since(start))
	return text, nil
}

func (e *Extractor) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.doWithRetry(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// doWithRetry retries HTTP 429 responses with exponential backoff starting at
// RetryBaseDelay. After exhausting retries the last 429 response is returned.
func (e *Extractor) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := e.client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= e.maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		e.logger.Warn("rate limited, backing off", "url", req.URL.String(), "backoff", backoff, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func detect(contentType string, body []byte) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/pdf" || bytes.HasPrefix(body, []byte("%PDF")):
		return "pdf"
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return "html"
	case mediaType == "" || mediaType == "application/octet-stream":
		head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
		if bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")) {
			return "html"
		}
	}
	return "text"
}

func htmlText(body []byte, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	if strings.TrimSpace(article.TextContent) == "" {
		return "", nil
	}
	if article.Title != "" {
		return article.Title + "\n" + article.TextContent, nil
	}
	return article.TextContent, nil
}

// PDFText extracts the text of the first maxPages pages of a PDF.
// Each non-empty page is preceded by a "=== page N ===" line.
func PDFText(data []byte, maxPages int) (text string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrMalformedPDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedPDF, err)
	}

	var sb strings.Builder
	total := min(reader.NumPage(), maxPages)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %w", ErrMalformedPDF, i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		fmt.Fprintf(&sb, "=== page %d ===\n%s\n", i, pageText)
	}
	return sb.String(), nil
}

// Normalize collapses runs of blanks inside lines and drops empty lines.
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
