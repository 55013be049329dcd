// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/observability"
)

var rpcTracer = otel.Tracer("trackmed/ledger")

// Client is the HTTP implementation of Gateway. It speaks a small
// JSON-over-POST protocol against the ledger RPC endpoint: one request
// envelope per call, one result or error envelope back. Deadlines come
// from the caller's context; the client never retries.
type Client struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom
// transports).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithMetrics attaches call-latency metrics.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a ledger RPC client for the given endpoint.
func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Gateway = (*Client)(nil)

type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// RegisterBatch creates the batch record on the ledger and returns the
// minted transaction reference and record address.
func (c *Client) RegisterBatch(ctx context.Context, owner, batchHash string, manufactured, expiry time.Time) (*RegisterResult, error) {
	ctx, span := rpcTracer.Start(ctx, "ledger.RegisterBatch",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("ledger.batch_hash", batchHash))

	params := map[string]any{
		"owner":             owner,
		"batchHash":         batchHash,
		"manufacturingDate": manufactured.Unix(),
		"expiryDate":        expiry.Unix(),
	}
	var out struct {
		TxRef   string `json:"txRef"`
		Address string `json:"address"`
	}
	if err := c.call(ctx, "register_batch", params, &out); err != nil {
		return nil, err
	}
	return &RegisterResult{TxRef: out.TxRef, Address: out.Address}, nil
}

// UpdateStatus transitions the record status on the ledger.
func (c *Client) UpdateStatus(ctx context.Context, owner, batchHash string, status Status) (*UpdateResult, error) {
	ctx, span := rpcTracer.Start(ctx, "ledger.UpdateStatus",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.batch_hash", batchHash),
		attribute.String("ledger.status", string(status)),
	)

	params := map[string]any{
		"owner":     owner,
		"batchHash": batchHash,
		"status":    string(status),
	}
	var out struct {
		TxRef string `json:"txRef"`
	}
	if err := c.call(ctx, "update_status", params, &out); err != nil {
		return nil, err
	}
	return &UpdateResult{TxRef: out.TxRef}, nil
}

// GetBatch fetches the record stored at a derived address.
func (c *Client) GetBatch(ctx context.Context, address string) (*Record, error) {
	ctx, span := rpcTracer.Start(ctx, "ledger.GetBatch",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("ledger.address", address))

	var rec Record
	if err := c.call(ctx, "get_batch", map[string]any{"address": address}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// call performs one RPC round trip and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	start := time.Now()
	err := c.doCall(ctx, method, params, out)
	status := "ok"
	if err != nil {
		if le, ok := err.(*Error); ok {
			status = string(le.Code)
		} else {
			status = string(CodeNetwork)
		}
	}
	c.metrics.ObserveLedgerCall(method, status, time.Since(start))
	return err
}

func (c *Client) doCall(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return &Error{Code: CodeRejected, Op: method, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return &Error{Code: CodeNetwork, Op: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return &Error{Code: CodeNetwork, Op: method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Code: CodeNetwork, Op: method, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return &Error{Code: CodeNetwork, Op: method, Err: fmt.Errorf("ledger endpoint returned %d", resp.StatusCode)}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &Error{Code: CodeNetwork, Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}

	if envelope.Error != nil {
		code := mapErrorCode(envelope.Error.Code, resp.StatusCode)
		c.logger.Warn("ledger call failed",
			"method", method,
			"code", string(code),
			"message", envelope.Error.Message,
		)
		return &Error{Code: code, Op: method, Err: fmt.Errorf("%s", envelope.Error.Message)}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return &Error{Code: CodeNetwork, Op: method, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

// mapErrorCode normalizes protocol error codes onto the gateway taxonomy.
func mapErrorCode(code string, httpStatus int) ErrorCode {
	switch code {
	case "not_found", "account_not_found":
		return CodeNotFound
	case "unauthorized", "forbidden", "signature_invalid":
		return CodeUnauthorized
	}
	switch httpStatus {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeUnauthorized
	}
	return CodeRejected
}
