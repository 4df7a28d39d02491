// Package crm is the REST adapter for the external CRM.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/crm"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseSize caps how much of a response body is read
const maxResponseSize = 1 << 20

// HTTPClient implements domain.Client over the CRM REST API
type HTTPClient struct {
	config      ClientConfig
	httpClient  *http.Client
	credentials domain.CredentialProvider
	limiter     *rate.Limiter
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// ClientOption configures an HTTPClient
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithMetrics records call durations
func WithMetrics(m *telemetry.SyncMetrics) ClientOption {
	return func(h *HTTPClient) { h.metrics = m }
}

// WithClientLogger sets the logger
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(h *HTTPClient) { h.logger = l }
}

// NewHTTPClient creates a CRM client
func NewHTTPClient(cfg ClientConfig, credentials domain.CredentialProvider, opts ...ClientOption) (*HTTPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &HTTPClient{
		config:      cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		credentials: credentials,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FindContact returns the contact id for email
func (c *HTTPClient) FindContact(ctx context.Context, email string) (string, error) {
	q := url.Values{"email": {email}}
	return c.search(ctx, "find_contact", "/contacts?"+q.Encode())
}

// CreateContact creates a contact. A duplicate email yields domain.ErrDuplicate.
func (c *HTTPClient) CreateContact(ctx context.Context, contact domain.Contact) (string, error) {
	return c.write(ctx, "create_contact", http.MethodPost, "/contacts", toContactPayload(contact))
}

// FindProduct returns the product id for sku
func (c *HTTPClient) FindProduct(ctx context.Context, sku string) (string, error) {
	q := url.Values{"sku": {sku}}
	return c.search(ctx, "find_product", "/products?"+q.Encode())
}

// CreateProduct creates a product. A duplicate sku yields domain.ErrDuplicate.
func (c *HTTPClient) CreateProduct(ctx context.Context, product domain.Product) (string, error) {
	return c.write(ctx, "create_product", http.MethodPost, "/products", toProductPayload(product))
}

// UpsertDeal creates a deal when dealID is empty, otherwise patches it in place
func (c *HTTPClient) UpsertDeal(ctx context.Context, dealID string, deal domain.Deal) (string, error) {
	if dealID == "" {
		return c.write(ctx, "create_deal", http.MethodPost, "/deals", toDealPayload(deal))
	}
	id, err := c.write(ctx, "update_deal", http.MethodPatch, "/deals/"+url.PathEscape(dealID), toDealPayload(deal))
	if err != nil {
		return "", err
	}
	if id == "" {
		id = dealID
	}
	return id, nil
}

func (c *HTTPClient) search(ctx context.Context, op, path string) (string, error) {
	body, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", domain.NewError(domain.ClassPermanent, op, fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Results) == 0 || resp.Results[0].ID == "" {
		return "", &domain.Error{Class: domain.ClassNotFound, Op: op}
	}
	return resp.Results[0].ID, nil
}

func (c *HTTPClient) write(ctx context.Context, op, method, path string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", domain.NewError(domain.ClassPermanent, op, fmt.Errorf("encode request: %w", err))
	}
	body, err := c.do(ctx, op, method, path, raw)
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}
	var ref recordRef
	if err := json.Unmarshal(body, &ref); err != nil {
		return "", domain.NewError(domain.ClassPermanent, op, fmt.Errorf("decode response: %w", err))
	}
	if ref.ID == "" && method == http.MethodPost {
		return "", domain.NewError(domain.ClassPermanent, op, fmt.Errorf("response carries no record id"))
	}
	return ref.ID, nil
}

// do sends one request and maps the outcome onto the CRM error classes
func (c *HTTPClient) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "crm."+op, trace.SpanKindClient)
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrCRMOperation, op)

	start := c.now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CRMCall(ctx, op, c.now().Sub(start))
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		e := domain.NewError(domain.ClassTransient, op, fmt.Errorf("rate limiter: %w", err))
		telemetry.RecordError(span, e)
		return nil, e
	}

	cred, err := c.credentials.ValidCredential(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, domain.NewError(domain.ClassPermanent, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		e := domain.NewError(domain.ClassTransient, op, err)
		telemetry.RecordError(span, e)
		return nil, e
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, domain.NewError(domain.ClassTransient, op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 300 {
		return body, nil
	}

	e := c.classifyResponse(op, resp, body)
	if e.StatusCode == http.StatusUnauthorized {
		c.credentials.Invalidate()
	}
	c.logger.Debug("crm request failed",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
		zap.String("class", e.Class.String()),
	)
	if e.Class != domain.ClassNotFound {
		telemetry.RecordError(span, e)
	}
	return nil, e
}

func (c *HTTPClient) classifyResponse(op string, resp *http.Response, body []byte) *domain.Error {
	e := &domain.Error{Op: op, StatusCode: resp.StatusCode}

	var payload errorResponse
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		e.Err = fmt.Errorf("%s", payload.Message)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		e.Class = domain.ClassNotFound
	case resp.StatusCode == http.StatusConflict:
		e.Class = domain.ClassDuplicate
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Class = domain.ClassRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
	case resp.StatusCode == http.StatusUnauthorized:
		// token expired or revoked; a retry picks up a refreshed one
		e.Class = domain.ClassTransient
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		e.Class = domain.ClassTransient
	default:
		e.Class = domain.ClassPermanent
	}
	return e
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

var _ domain.Client = (*HTTPClient)(nil)
