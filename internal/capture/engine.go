// Package capture produces the archive artifact for a ticket: a gzip
// WARC container holding the primary response and its sub-resources.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrCapture wraps web capture failures.
var ErrCapture = errors.New("web capture failure")

// Bodies larger than this are truncated rather than ballooning the spool.
const maxBodySize = 64 << 20

// Engine captures a URL into an archive artifact at the destination path.
type Engine interface {
	Capture(ctx context.Context, rawURL, dest string) error
}

// WARCEngine captures with plain HTTP GETs and writes gzip WARC output.
type WARCEngine struct {
	client    *http.Client
	userAgent string
	logger    *log.Logger
	now       func() time.Time
}

// NewWARCEngine creates a capture engine. The timeout bounds every
// individual fetch, including sub-resources.
func NewWARCEngine(timeout time.Duration, userAgent string, logger *log.Logger) *WARCEngine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &WARCEngine{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
		now:       time.Now,
	}
}

// Capture fetches the URL and its sub-resources into a WARC file at dest.
// Failure of the primary fetch fails the capture and removes any partial
// output; individual sub-resource failures are logged and skipped.
func (e *WARCEngine) Capture(ctx context.Context, rawURL, dest string) (err error) {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrCapture, dest, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrCapture, dest, closeErr)
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	ww := newWARCWriter(f, e.now)
	if err := ww.writeInfo(); err != nil {
		return fmt.Errorf("%w: %v", ErrCapture, err)
	}

	resp, body, err := e.fetch(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCapture, rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: HTTP status %d", ErrCapture, rawURL, resp.StatusCode)
	}
	if err := ww.writeResponse(rawURL, resp, body); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCapture, rawURL, err)
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		return nil
	}
	for _, sub := range subresourceURLs(body, rawURL) {
		subResp, subBody, err := e.fetch(ctx, sub)
		if err != nil || subResp.StatusCode != http.StatusOK {
			e.logger.Printf("skipping sub-resource %s: %v", sub, fetchProblem(subResp, err))
			continue
		}
		if err := ww.writeResponse(sub, subResp, subBody); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCapture, sub, err)
		}
	}
	return nil
}

func (e *WARCEngine) fetch(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func fetchProblem(resp *http.Response, err error) any {
	if err != nil {
		return err
	}
	return fmt.Sprintf("HTTP status %d", resp.StatusCode)
}
