package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vivadeck/vivadeck/internal/resilience"
	"github.com/vivadeck/vivadeck/pkg/provider/fault"
)

const (
	// defaultMaxFetchBytes bounds how much artifact text a single fetch
	// will read. Extracted presentation text is small; anything larger is
	// almost certainly a binary upload that skipped extraction.
	defaultMaxFetchBytes = 10 << 20 // 10 MiB

	fetchProvider = "upload-store"
	fetchOp       = "artifact.fetch"
)

// ErrBinaryArtifact is returned when the fetched body is a ZIP archive
// (which includes .pptx containers). The upload service extracts text
// before notifying the session; raw binary here means that step was skipped.
var ErrBinaryArtifact = errors.New("artifact is a binary archive, expected extracted text")

// FetcherOption is a functional option for configuring a [Fetcher].
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithMaxBytes caps the response body size. Default: 10 MiB.
func WithMaxBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		f.maxBytes = n
	}
}

// WithRetry replaces the retry policy applied around each fetch.
func WithRetry(cfg resilience.RetryConfig) FetcherOption {
	return func(f *Fetcher) {
		f.retry = cfg
	}
}

// Fetcher downloads artifact text from the upload-store URL carried in a
// ppt_uploaded data-channel message. Transient failures (network errors,
// 429/5xx) are retried; a 404 or a binary body is surfaced immediately.
//
// Fetcher is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	retry    resilience.RetryConfig
}

// NewFetcher constructs a [Fetcher] with the supplied options.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: defaultMaxFetchBytes,
		retry:    resilience.RetryConfig{Name: fetchOp},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch downloads the artifact at url and returns its text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	return resilience.RetryWithResult(ctx, f.retry, func(ctx context.Context) (string, error) {
		return f.fetchOnce(ctx, url)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("artifact fetch: build request: %w", err)
	}
	req.Header.Set("Accept", "text/plain, application/json, text/markdown")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fault.Transient(fetchProvider, fetchOp, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fault.FromStatus(fetchProvider, fetchOp, resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	// Read one byte past the cap so oversized bodies are detectable.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fault.Transient(fetchProvider, fetchOp, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > f.maxBytes {
		return "", fmt.Errorf("artifact fetch: body exceeds %d byte limit", f.maxBytes)
	}
	if isZipArchive(data) {
		return "", ErrBinaryArtifact
	}
	return string(data), nil
}

// isZipArchive reports whether data starts with a ZIP local-file, empty, or
// spanned-archive signature. The third byte disambiguates text that merely
// begins with the letters "PK".
func isZipArchive(data []byte) bool {
	if len(data) < 4 || data[0] != 'P' || data[1] != 'K' {
		return false
	}
	switch data[2] {
	case 0x03, 0x05, 0x07:
		return true
	default:
		return false
	}
}
