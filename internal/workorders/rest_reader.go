package workorders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultAPIURL   = "http://localhost/"
	apiKeyHeader    = "X-API-Key"
	maxAttempts     = 3
	defaultInterval = 200 * time.Millisecond
)

// RESTConfig configures a RESTReader.
type RESTConfig struct {
	BaseURL string
	APIKey  string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger

	// RetryInterval is the delay before the second attempt; it doubles
	// for each further attempt.
	RetryInterval time.Duration
}

// RESTReader reads work orders from the order system's HTTP API. Transport
// failures and non-2xx responses are retried; when every attempt fails the
// failure is logged and an empty result is returned.
type RESTReader struct {
	base     *url.URL
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
}

var _ Reader = (*RESTReader)(nil)

func NewRESTReader(cfg RESTConfig) (*RESTReader, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = defaultAPIURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid work order API URL %q", cfg.BaseURL)
	}

	r := &RESTReader{
		base:     base,
		apiKey:   cfg.APIKey,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
		interval: cfg.RetryInterval,
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: 30 * time.Second}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.interval <= 0 {
		r.interval = defaultInterval
	}
	return r, nil
}

func (r *RESTReader) Search(ctx context.Context, req PageRequest) (PageResult, error) {
	req, err := req.normalize()
	if err != nil {
		return PageResult{}, err
	}

	var result PageResult
	found, err := r.fetch(ctx, "api/workorders?"+searchQuery(req).Encode(), &result)
	if err != nil || !found {
		return emptyPage(req), err
	}
	if result.Items == nil {
		result.Items = []WorkOrder{}
	}
	return result, nil
}

func (r *RESTReader) Get(ctx context.Context, id string) (*WorkOrder, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidID
	}

	var wo WorkOrder
	found, err := r.fetch(ctx, "api/workorders/"+url.PathEscape(id), &wo)
	if err != nil || !found {
		return nil, err
	}
	return &wo, nil
}

// fetch GETs resource relative to the base URL and decodes the body into
// out. It reports false when the resource does not exist or every attempt
// failed. Only cancellation and undecodable bodies are returned as errors.
func (r *RESTReader) fetch(ctx context.Context, resource string, out any) (bool, error) {
	target, err := r.base.Parse(resource)
	if err != nil {
		return false, fmt.Errorf("invalid work order resource %q: %w", resource, err)
	}

	found := false
	attempt := 0
	op := func() error {
		attempt++
		ok, err := r.get(ctx, target.String(), out)
		found = ok
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("work order request failed, retrying",
			"attempt", attempt, "maxAttempts", maxAttempts, "retryIn", wait, "error", err)
	}

	err = backoff.RetryNotify(op, backoff.WithContext(r.retryPolicy(), ctx), notify)
	if err == nil {
		return found, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	var decodeErr *decodeError
	if errors.As(err, &decodeErr) {
		return false, err
	}
	r.logger.Error("work order request failed", "attempts", attempt, "url", target.Redacted(), "error", err)
	return false, nil
}

func (r *RESTReader) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.interval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, maxAttempts-1)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "failed to decode work order response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (r *RESTReader) get(ctx context.Context, target string, out any) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, backoff.Permanent(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, backoff.Permanent(&decodeError{err: err})
	}
	return true, nil
}

// searchQuery renders req as the order system's query string.
func searchQuery(req PageRequest) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("pageSize", strconv.Itoa(req.PageSize))
	if req.Search != "" {
		q.Set("search", req.Search)
	}
	if req.Status != "" {
		q.Set("status", req.Status)
	}
	if req.Line != "" {
		q.Set("line", req.Line)
	}
	if req.PartNo != "" {
		q.Set("partNo", req.PartNo)
	}
	if req.FromUTC != nil {
		q.Set("fromUtc", req.FromUTC.UTC().Format(time.RFC3339Nano))
	}
	if req.ToUTC != nil {
		q.Set("toUtc", req.ToUTC.UTC().Format(time.RFC3339Nano))
	}
	return q
}
