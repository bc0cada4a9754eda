// Package linkprobe checks that a submitted video link answers before a job
// is created for it. Only a definitive "gone" answer rejects the link.
package linkprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sooksun/teachermon-sub002/internal/cache"
)

// Sentinel errors for probe outcomes.
var (
	ErrGone        = errors.New("link does not exist")
	ErrUnreachable = errors.New("link unreachable")
	ErrTimeout     = errors.New("link probe timeout")
)

const (
	defaultUserAgent  = "teachermon-linkprobe/1.0"
	defaultVerdictTTL = 10 * time.Minute

	verdictOK   = "ok"
	verdictGone = "gone"
)

// Prober is the interface for probing video links.
type Prober interface {
	// Probe returns nil when the link answered, ErrGone (wrapped) when the
	// server said it does not exist, and ErrUnreachable or ErrTimeout when
	// no definitive answer could be had.
	Probe(ctx context.Context, rawURL string) error
}

// HTTPProber implements Prober with a HEAD request, falling back to a
// one-byte ranged GET for servers that refuse HEAD.
type HTTPProber struct {
	client     *http.Client
	userAgent  string
	verdicts   cache.Cache
	verdictTTL time.Duration
	logger     *slog.Logger
}

type Option func(*HTTPProber)

// WithVerdictCache remembers definitive answers per URL for ttl.
func WithVerdictCache(c cache.Cache, ttl time.Duration) Option {
	return func(p *HTTPProber) {
		p.verdicts = c
		if ttl > 0 {
			p.verdictTTL = ttl
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProber) { p.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *HTTPProber) { p.logger = l }
}

// NewHTTPProber creates a prober whose requests give up after timeout.
func NewHTTPProber(timeout time.Duration, opts ...Option) *HTTPProber {
	p := &HTTPProber{
		client:     &http.Client{Timeout: timeout},
		userAgent:  defaultUserAgent,
		verdictTTL: defaultVerdictTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPProber) Probe(ctx context.Context, rawURL string) error {
	if verdict, ok := p.cached(ctx, rawURL); ok {
		if status, gone := strings.CutPrefix(verdict, verdictGone+":"); gone {
			return fmt.Errorf("%w: status %s", ErrGone, status)
		}
		return nil
	}

	status, err := p.do(ctx, http.MethodHead, rawURL)
	if err == nil && headRefused(status) {
		status, err = p.do(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		p.remember(ctx, rawURL, verdictGone+":"+strconv.Itoa(status))
		return fmt.Errorf("%w: status %d", ErrGone, status)
	case status < 400:
		p.remember(ctx, rawURL, verdictOK)
		return nil
	default:
		return fmt.Errorf("%w: status %d", ErrUnreachable, status)
	}
}

func (p *HTTPProber) do(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, classifyError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	return resp.StatusCode, nil
}

// headRefused reports statuses some hosts return for HEAD but not GET.
func headRefused(status int) bool {
	switch status {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented, http.StatusForbidden:
		return true
	}
	return false
}

func (p *HTTPProber) cached(ctx context.Context, rawURL string) (string, bool) {
	if p.verdicts == nil {
		return "", false
	}
	b, ok, err := p.verdicts.Get(ctx, cache.LinkProbeKey(rawURL))
	if err != nil {
		p.logger.Warn("link probe cache read failed", "error", err)
		return "", false
	}
	return string(b), ok
}

func (p *HTTPProber) remember(ctx context.Context, rawURL, verdict string) {
	if p.verdicts == nil {
		return
	}
	if err := p.verdicts.Set(ctx, cache.LinkProbeKey(rawURL), []byte(verdict), p.verdictTTL); err != nil {
		p.logger.Warn("link probe cache write failed", "error", err)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that HTTPProber implements Prober.
var _ Prober = (*HTTPProber)(nil)
