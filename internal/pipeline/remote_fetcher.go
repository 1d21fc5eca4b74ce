package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelmix/internal/domain"
)

const (
	SourceTypeRemoteURL = domain.SourceTypeRemoteURL

	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"
	defaultFetchMaxBytes = 128 << 20
)

var ErrFetchTooLarge = errors.New("remote image exceeds fetch limit")

// HTTPFetcher downloads remote_url sources. Some image hosts refuse
// requests without a browser User-Agent or a matching Referer.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

func NewHTTPFetcher(timeout time.Duration) HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: DefaultUserAgent,
		MaxBytes:  defaultFetchMaxBytes,
	}
}

func NewRemoteProcessor(fetcher HTTPFetcher, store ObjectStore, outputPrefix string, transformer Transformer) *Processor {
	return NewProcessor(fetcher, transformer, ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix})
}

func (f HTTPFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeRemoteURL) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	userAgent := f.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if referer := strings.TrimSpace(req.Referer); referer != "" {
		httpReq.Header.Set("Referer", referer)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.SourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status=%d", req.SourceURL, resp.StatusCode)
	}

	maxBytes := f.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultFetchMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.SourceURL, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: limit=%d", ErrFetchTooLarge, maxBytes)
	}
	return data, nil
}
