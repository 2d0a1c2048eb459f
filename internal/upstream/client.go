package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/invoice"
	"github.com/noah-isme/backend-invoice/internal/obs"
	"github.com/noah-isme/backend-invoice/internal/resilience"
)

const (
	userAgent       = "invoice-api/1.0"
	maxResponseBody = 1 << 20

	opCreateInvoice = "create_invoice"
	opListFeeTypes  = "list_fee_types"
)

// Client talks to the invoicing backend.
type Client struct {
	BaseURL string
	HTTP    resilience.HTTPClient
	Metrics *obs.DomainMetrics
}

// NewHTTPClient returns an http.Client whose transport is traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// CreateInvoice posts the payload to /invoices. The caller's bearer token is
// forwarded. idempotencyKey is sent as Idempotency-Key; a fresh one is
// generated when it is blank so retries of this call are deduplicated.
func (c *Client) CreateInvoice(ctx context.Context, payload invoice.Payload, idempotencyKey string) (invoice.Receipt, error) {
	ctx, span := otel.Tracer("upstream.Client").Start(ctx, "Client.CreateInvoice")
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return invoice.Receipt{}, fmt.Errorf("encode invoice payload: %w", err)
	}
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	span.SetAttributes(
		attribute.Int("invoice.items", len(payload.Items)),
		attribute.Int("invoice.fees", len(payload.Fees)),
	)

	req, err := c.newRequest(ctx, http.MethodPost, "/invoices", body)
	if err != nil {
		span.RecordError(err)
		return invoice.Receipt{}, err
	}
	req.Header.Set(common.IdempotencyHeader, key)

	var out invoice.Receipt
	if err := c.do(ctx, opCreateInvoice, req, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create invoice failed")
		return invoice.Receipt{}, err
	}
	return out, nil
}

// ListFeeTypes fetches the fee type catalog from /fee-types. Both a bare
// array and a {"data": [...]} envelope are accepted.
func (c *Client) ListFeeTypes(ctx context.Context) ([]invoice.FeeType, error) {
	ctx, span := otel.Tracer("upstream.Client").Start(ctx, "Client.ListFeeTypes")
	defer span.End()

	req, err := c.newRequest(ctx, http.MethodGet, "/fee-types", nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(ctx, opListFeeTypes, req, &raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list fee types failed")
		return nil, err
	}
	feeTypes, err := decodeFeeTypes(raw)
	if err != nil {
		span.RecordError(err)
		return nil, unavailable(err)
	}
	span.SetAttributes(attribute.Int("fee_types.count", len(feeTypes)))
	return feeTypes, nil
}

// Ping checks that the backend answers at all. Any status below 500 counts as
// reachable; retries and the breaker are bypassed.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/fee-types", nil)
	if err != nil {
		return err
	}
	client := c.HTTP.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("upstream responded %s", resp.Status)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return nil, errors.New("upstream: base url not configured")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := common.AccessToken(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		req.Header.Set(middleware.RequestIDHeader, reqID)
	}
	return req, nil
}

// do sends req and decodes a 2xx body into dst. Other outcomes are mapped to
// AppErrors.
func (c *Client) do(ctx context.Context, operation string, req *http.Request, dst any) error {
	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		label := "error"
		if errors.Is(err, resilience.ErrOpenCircuit) {
			label = "circuit_open"
		}
		c.Metrics.Upstream(operation, label, time.Since(start))
		zerolog.Ctx(ctx).Warn().Err(err).Str("operation", operation).Msg("upstream request failed")
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		return unavailable(err)
	}
	defer resp.Body.Close()
	c.Metrics.Upstream(operation, strconv.Itoa(resp.StatusCode), time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return unavailable(fmt.Errorf("read upstream response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		appErr := StatusError(resp.StatusCode, upstreamMessage(data))
		zerolog.Ctx(ctx).Warn().
			Str("operation", operation).
			Int("upstream_status", resp.StatusCode).
			Str("code", appErr.Code).
			Msg("upstream rejected request")
		return appErr
	}
	if dst == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return unavailable(fmt.Errorf("decode upstream response: %w", err))
	}
	return nil
}

// StatusError maps a non-2xx backend status to the error returned to clients.
// message is the backend's own explanation and is passed through when set.
func StatusError(status int, message string) *common.AppError {
	code, fallback, httpStatus := "UPSTREAM_UNAVAILABLE", "invoicing service unavailable", http.StatusBadGateway
	switch status {
	case http.StatusBadRequest:
		code, fallback, httpStatus = "BAD_REQUEST", "invoice rejected by backend", status
	case http.StatusUnauthorized:
		code, fallback, httpStatus = "UNAUTHORIZED", "not authorized to create invoices", status
	case http.StatusForbidden:
		code, fallback, httpStatus = "FORBIDDEN", "forbidden", status
	case http.StatusNotFound:
		code, fallback, httpStatus = "NOT_FOUND", "resource not found", status
	case http.StatusConflict:
		code, fallback, httpStatus = "CONFLICT", "invoice conflicts with an existing one", status
	case http.StatusUnprocessableEntity:
		code, fallback, httpStatus = "VALIDATION_FAILED", "invoice failed backend validation", status
	case http.StatusTooManyRequests:
		code, fallback, httpStatus = "RATE_LIMITED", "too many requests to invoicing service", status
	default:
		if status < http.StatusInternalServerError {
			code, fallback, httpStatus = "BAD_REQUEST", "invoice rejected by backend", http.StatusBadRequest
		}
	}
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = fallback
	}
	return common.NewAppError(code, msg, httpStatus, fmt.Errorf("upstream status %d", status))
}

func unavailable(err error) *common.AppError {
	return common.NewAppError("UPSTREAM_UNAVAILABLE", "invoicing service unavailable", http.StatusBadGateway, err)
}

func upstreamMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	switch e := payload.Error.(type) {
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	return ""
}

func decodeFeeTypes(raw json.RawMessage) ([]invoice.FeeType, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var list []invoice.FeeType
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var envelope struct {
		Data []invoice.FeeType `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode fee types: %w", err)
	}
	return envelope.Data, nil
}
