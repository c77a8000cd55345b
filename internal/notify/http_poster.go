package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const errorBodyLimit = 1024

type timingConfig struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffMaxElapsed time.Duration
	backoffMax        time.Duration
	backoffInitial    time.Duration
	rateLimitRetries  int
}

var defaultTiming = timingConfig{
	timeout:           10 * time.Second,
	rateInterval:      1 * time.Second,
	rateBurst:         1,
	backoffMaxElapsed: 30 * time.Second,
	backoffMax:        10 * time.Second,
	backoffInitial:    1 * time.Second,
	rateLimitRetries:  3,
}

// webhookPoster sends JSON payloads to one webhook URL on behalf of a sink.
type webhookPoster struct {
	logger      zerolog.Logger
	service     string
	url         string
	contentType string
	userAgent   string
	client      *retryablehttp.Client
	timing      timingConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newWebhookPoster(logger zerolog.Logger, service, url, contentType string, timing timingConfig) *webhookPoster {
	client := retryablehttp.NewClient()
	// post owns the retry policy so Retry-After and the 429 budget apply.
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	return &webhookPoster{
		logger:      logger.With().Str("sink", service).Logger(),
		service:     service,
		url:         url,
		contentType: contentType,
		client:      client,
		timing:      timing,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// throttle blocks until the facility's limiter admits another message.
func (p *webhookPoster) throttle(ctx context.Context, facility string) error {
	p.mu.Lock()
	limiter, ok := p.limiters[facility]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.timing.rateInterval), p.timing.rateBurst)
		p.limiters[facility] = limiter
	}
	p.mu.Unlock()
	return limiter.Wait(ctx)
}

// post delivers payload. Transport errors and 5xx answers are retried with
// exponential backoff; 429 answers wait for their Retry-After delay, at most
// rateLimitRetries times.
func (p *webhookPoster) post(ctx context.Context, payload []byte) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.timing.backoffInitial
	exp.MaxInterval = p.timing.backoffMax
	exp.MaxElapsedTime = p.timing.backoffMaxElapsed
	policy := &retryAfterBackOff{next: exp}

	throttled := 0
	operation := func() error {
		err := p.attempt(ctx, payload)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		var pe *postError
		if !errors.As(err, &pe) || !pe.temporary() {
			return backoff.Permanent(err)
		}
		if pe.RetryAfter > 0 {
			throttled++
			if throttled > p.timing.rateLimitRetries {
				return backoff.Permanent(err)
			}
			policy.pending = pe.RetryAfter
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		p.logger.Debug().Err(err).Dur("wait", wait).Msg("delivery failed, retrying")
	}
	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), onRetry)
}

// attempt performs a single POST without retries.
func (p *webhookPoster) attempt(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.service, err)
	}
	req.Header.Set("Content-Type", p.contentType)
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &postError{Service: p.service, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	pe := &postError{
		Service: p.service,
		Code:    resp.StatusCode,
		Status:  resp.Status,
		Body:    strings.TrimSpace(string(body)),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		pe.RetryAfter, _ = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return pe
}

// postError describes a failed POST. Code is zero for transport failures.
type postError struct {
	Service    string
	Code       int
	Status     string
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *postError) Error() string {
	switch {
	case e.Code == 0:
		return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
	case e.Code == http.StatusTooManyRequests && e.RetryAfter > 0:
		return fmt.Sprintf("%s rate limited: %s; retry after %s", e.Service, e.Status, e.RetryAfter)
	case e.Code == http.StatusTooManyRequests:
		return fmt.Sprintf("%s rate limited: %s", e.Service, e.Status)
	case e.Body != "":
		return fmt.Sprintf("%s request failed: %s (%s)", e.Service, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s request failed: %s", e.Service, e.Status)
	}
}

func (e *postError) Unwrap() error {
	return e.Err
}

func (e *postError) temporary() bool {
	return e.Code == 0 || e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// retryAfterBackOff prefers a server-provided delay over the wrapped policy.
// A pending delay is consumed by the next NextBackOff call.
type retryAfterBackOff struct {
	next    backoff.BackOff
	pending time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.pending > 0 {
		wait := b.pending
		b.pending = 0
		return wait
	}
	return b.next.NextBackOff()
}

func (b *retryAfterBackOff) Reset() {
	b.pending = 0
	b.next.Reset()
}

// parseRetryAfter accepts integer or fractional seconds, or an HTTP date.
func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return 0, false
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
	if when, err := http.ParseTime(value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}
