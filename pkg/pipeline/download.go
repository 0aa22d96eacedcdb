package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantpulse/symsync/pkg/models"
	"github.com/quantpulse/symsync/pkg/observability"
)

var (
	// ErrDownload wraps network and HTTP failures for one source
	ErrDownload = errors.New("source download failed")
	// ErrDownloadTooLarge is returned when a source exceeds the size cap
	ErrDownloadTooLarge = errors.New("source exceeds download size cap")
)

// download fetches one source to a scratch file and returns its path, the
// derived file name and the response content type. The caller removes the
// scratch file unconditionally.
func (s *service) download(ctx context.Context, src *models.Source) (scratchPath, fileName, contentType string, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	parsed, err := url.Parse(src.URL)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: bad url %q: %v", ErrDownload, src.URL, err)
	}

	if err := s.limiter(parsed.Host).Wait(ctx); err != nil {
		return "", "", "", fmt.Errorf("%w: rate limit wait: %v", ErrDownload, err)
	}

	req, err := http.NewRequestWithContext(ctx, src.HTTPMethod(), src.URL, nil)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	for name, value := range src.Headers {
		req.Header.Set(name, value)
	}
	src.ApplyAuth(req)

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		observability.DownloadDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return "", "", "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		observability.DownloadDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return "", "", "", fmt.Errorf("%w: %s returned %d", ErrDownload, src.URL, resp.StatusCode)
	}

	scratch, err := os.CreateTemp(s.cfg.ScratchDir, "symsync-dl-*")
	if err != nil {
		return "", "", "", fmt.Errorf("%w: scratch file: %v", ErrDownload, err)
	}

	written, err := io.Copy(scratch, io.LimitReader(resp.Body, s.cfg.MaxDownloadBytes+1))
	closeErr := scratch.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(scratch.Name())
		observability.DownloadDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return "", "", "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if written > s.cfg.MaxDownloadBytes {
		_ = os.Remove(scratch.Name())
		return "", "", "", fmt.Errorf("%w: %s", ErrDownloadTooLarge, src.URL)
	}

	observability.DownloadDuration.WithLabelValues("success").Observe(time.Since(started).Seconds())

	fileName = path.Base(parsed.Path)
	if fileName == "." || fileName == "/" || fileName == "" {
		fileName = "download"
	}

	return scratch.Name(), fileName, resp.Header.Get("Content-Type"), nil
}

// limiter returns the per-host rate limiter, creating it lazily
func (s *service) limiter(host string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.RequestBurst)
		s.limiters[host] = lim
	}

	return lim
}
