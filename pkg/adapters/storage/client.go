// Package storage is the HTTP client for the remote document storage services.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/aretw0/kernelctx/pkg/adapters/storage"

// DefaultTimeout bounds each request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept in RemoteFetchError.
const maxErrorBody = 4 << 10

// StaticCredentials is a fixed username/password pair.
// An empty username means no credentials.
type StaticCredentials struct {
	Username string
	Password string
}

// BasicAuth implements ports.Credentials.
func (c StaticCredentials) BasicAuth() (string, string, bool) {
	return c.Username, c.Password, c.Username != ""
}

// Client implements ports.DocumentStore over the storage REST API:
//
//	GET  {base}/{kind}/{id}
//	POST {base}/{kind}
//	PUT  {base}/{kind}/{id}/upload-file?filename=
//	GET  {base}/{kind}/{id}/download-url?filename=
type Client struct {
	baseURL string
	setting string
	http    *http.Client
	creds   ports.Credentials
	timeout time.Duration
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithCredentials authenticates every request with HTTP Basic auth.
func WithCredentials(creds ports.Credentials) Option {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSettingName names the configuration key reported when the base URL is missing.
func WithSettingName(name string) Option {
	return func(c *Client) {
		c.setting = name
	}
}

// WithMetrics records request latency per method, kind and status.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// New creates a client for baseURL. An empty baseURL is accepted; every call
// then fails with a domain.ConfigurationError.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		setting: "storage url",
		http:    http.DefaultClient,
		creds:   StaticCredentials{},
		timeout: DefaultTimeout,
		logger:  logging.NewNop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch implements ports.DocumentStore. Concurrent fetches of the same
// document share one request; each caller receives its own copy. The shared
// request is bounded by the client timeout only, so a caller giving up does
// not fail the others.
func (c *Client) Fetch(ctx context.Context, kind, id string) (domain.Document, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(kind+"/"+id, func() (any, error) {
		var doc domain.Document
		err := c.do(shared, http.MethodGet, kind, c.endpoint(kind, id), nil, "", &doc)
		return doc, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		doc := res.Val.(domain.Document)
		if res.Shared {
			doc = doc.Clone()
		}
		return doc, nil
	}
}

// Create implements ports.DocumentStore.
func (c *Client) Create(ctx context.Context, kind string, doc domain.Document) (domain.Document, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s record: %w", kind, err)
	}
	var created domain.Document
	if err := c.do(ctx, http.MethodPost, kind, c.endpoint(kind), bytes.NewReader(body), "application/json", &created); err != nil {
		return nil, err
	}
	return created, nil
}

// Upload implements ports.DocumentStore. The content is sent as the "file"
// part of a multipart form.
func (c *Client) Upload(ctx context.Context, kind, id, filename string, content []byte) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	endpoint := c.endpoint(kind, id, "upload-file") + "?filename=" + url.QueryEscape(filename)
	return c.do(ctx, http.MethodPut, kind, endpoint, &buf, form.FormDataContentType(), nil)
}

// DownloadURL implements ports.DocumentStore.
func (c *Client) DownloadURL(ctx context.Context, kind, id, filename string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	endpoint := c.endpoint(kind, id, "download-url") + "?filename=" + url.QueryEscape(filename)
	if err := c.do(ctx, http.MethodGet, kind, endpoint, nil, "", &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("%w: no download url for %s/%s", domain.ErrRemoteFetch, kind, id)
	}
	return resp.URL, nil
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, kind, endpoint string, body io.Reader, contentType string, out any) error {
	if c.baseURL == "" {
		return &domain.ConfigurationError{Key: c.setting}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "storage."+strings.ToLower(method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("storage.kind", kind),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user, pass, ok := c.creds.BasicAuth(); ok {
		req.SetBasicAuth(user, pass)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveStorage(method, kind, "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %s %s: %v", domain.ErrRemoteFetch, method, endpoint, err)
	}
	defer resp.Body.Close()

	c.metrics.ObserveStorage(method, kind, strconv.Itoa(resp.StatusCode), time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("storage request", "method", method, "kind", kind, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		ferr := &domain.RemoteFetchError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
		span.SetStatus(codes.Error, ferr.Error())
		return ferr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrRemoteFetch, kind, err)
	}
	return nil
}
