// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package executor renders catalog operations into upstream HTTP calls and
// shepherds them through validation, write gating, credential vending,
// caching, retry, redaction and truncation.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/armon/go-metrics"

	"github.com/mcpany/heroku-mcp/pkg/crypto"
	"github.com/mcpany/heroku-mcp/pkg/resilience"
	"github.com/mcpany/heroku-mcp/pkg/schema"
	"github.com/mcpany/heroku-mcp/pkg/util"
)

// Request is the input of one execute call.
type Request struct {
	OperationID       string            `json:"operation_id"`
	PathParams        map[string]string `json:"path_params,omitempty"`
	QueryParams       map[string]any    `json:"query_params,omitempty"`
	Body              any               `json:"body,omitempty"`
	DryRun            bool              `json:"dry_run,omitempty"`
	ConfirmWriteToken string            `json:"confirm_write_token,omitempty"`
}

// RequestInfo describes the rendered upstream request.
type RequestInfo struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	OperationID string `json:"operation_id"`
}

// Response is the output of one execute call. Status 0 marks a dry run.
type Response struct {
	Request   RequestInfo       `json:"request"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      any               `json:"body"`
	RequestID string            `json:"request_id,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// Capabilities are the four collaborator operations the executor needs. Each
// may be swapped independently in tests.
type Capabilities struct {
	// ResolveOperation returns the catalog entry for an id, or nil.
	ResolveOperation func(operationID string) *schema.Operation
	// RootSchema returns the raw root schema for validator compilation.
	RootSchema func() map[string]any
	// VendToken returns a usable access token for the caller.
	VendToken func(ctx context.Context, userID string) (string, error)
	// Doer issues the upstream HTTP request.
	Doer interface {
		Do(*http.Request) (*http.Response, error)
	}
}

// Config carries the executor policy knobs.
type Config struct {
	BaseURL            string
	AcceptHeader       string
	AllowWrites        bool
	RequestTimeout     time.Duration
	MaxRetries         int
	ReadCacheTTL       time.Duration
	MaxBodyBytes       int
	BodyPreviewChars   int
	ConfirmationSecret string
}

// Executor runs the execute pipeline.
type Executor struct {
	cfg        Config
	caps       Capabilities
	validators *validatorCache
	cache      *readCache
	retry      *resilience.Retry
	timeout    *resilience.Timeout
}

// New creates an executor. Capabilities must be fully populated.
func New(cfg Config, caps Capabilities) *Executor {
	if caps.Doer == nil {
		caps.Doer = http.DefaultClient
	}
	return &Executor{
		cfg:        cfg,
		caps:       caps,
		validators: newValidatorCache(),
		cache:      newReadCache(cfg.ReadCacheTTL),
		retry:      resilience.NewRetry(cfg.MaxRetries),
		timeout:    resilience.NewTimeout(cfg.RequestTimeout),
	}
}

// InvalidateValidators drops compiled body validators. Wire this to catalog
// republication so stale schemas are not validated against.
func (e *Executor) InvalidateValidators() {
	e.validators.Invalidate()
}

// Execute runs one call through the full pipeline for the given caller.
func (e *Executor) Execute(ctx context.Context, userID string, req *Request) (*Response, error) {
	defer metrics.MeasureSince([]string{"executor", "execute", "latency"}, time.Now())

	resp, err := e.execute(ctx, userID, req)
	if err != nil {
		metrics.IncrCounter([]string{"executor", "execute", "error"}, 1)
		return nil, err
	}
	metrics.IncrCounter([]string{"executor", "execute", "success"}, 1)
	return resp, nil
}

func (e *Executor) execute(ctx context.Context, userID string, req *Request) (*Response, error) {
	op := e.caps.ResolveOperation(req.OperationID)
	if op == nil {
		return nil, operationNotFound(req.OperationID)
	}

	if err := e.validatePathParams(op, req); err != nil {
		return nil, err
	}
	if err := validateQueryParams(req.QueryParams); err != nil {
		return nil, err
	}
	if err := e.validateBody(op, req); err != nil {
		return nil, err
	}

	fullURL, err := e.renderURL(op, req)
	if err != nil {
		return nil, err
	}
	info := RequestInfo{Method: op.Method, URL: fullURL, OperationID: op.OperationID}

	if req.DryRun {
		return e.dryRun(op, userID, req, info), nil
	}

	if op.IsMutating {
		if !e.cfg.AllowWrites {
			return nil, &Error{Code: CodeWritesDisabled, Message: "writes are disabled globally", Status: 403}
		}
		expected := crypto.ConfirmationToken(e.cfg.ConfirmationSecret, userID, op.OperationID, req.PathParams, req.QueryParams, req.Body)
		if !crypto.VerifyConfirmationToken(expected, req.ConfirmWriteToken) {
			return nil, &Error{
				Code:    CodeWriteConfirmationMissing,
				Message: "mutating call requires a valid confirm_write_token; run with dry_run first",
				Status:  403,
			}
		}
	}

	token, err := e.caps.VendToken(ctx, userID)
	if err != nil || token == "" {
		return nil, &Error{Code: CodeAuthRequired, Message: "no OAuth token available; complete the authorization flow first", Status: 401}
	}

	cacheKey := e.cache.key(userID, op.OperationID, fullURL, op.IsMutating)
	if cached := e.cache.get(cacheKey); cached != nil {
		cached.Warnings = append(cached.Warnings, "served_from_read_cache")
		metrics.IncrCounter([]string{"executor", "read_cache", "hit"}, 1)
		return cached, nil
	}

	result, err := e.send(ctx, op, info, token, req.Body)
	if err != nil {
		return nil, err
	}

	resp := e.buildResponse(info, result)
	if resp.Status < 200 || resp.Status > 299 {
		return nil, &Error{
			Code:    CodeUpstreamError,
			Message: fmt.Sprintf("upstream returned status %d: %s", resp.Status, e.bodyPreview(resp.Body)),
			Status:  resp.Status,
		}
	}

	e.truncate(resp)
	e.cache.put(cacheKey, resp)
	return resp, nil
}

func (e *Executor) validatePathParams(op *schema.Operation, req *Request) error {
	for _, p := range op.PathParams {
		if req.PathParams[p.Name] == "" {
			return validationError("missing required path parameter %q", p.Name)
		}
	}
	return nil
}

// validateQueryParams accepts strings, booleans and JSON numbers only. An
// empty string is a legal query value; only path params treat "" as missing.
func validateQueryParams(params map[string]any) error {
	for name, value := range params {
		if _, ok := util.ScalarToString(value); !ok {
			return validationError("query parameter %q must be a string, number or boolean", name)
		}
	}
	return nil
}

func (e *Executor) validateBody(op *schema.Operation, req *Request) error {
	if op.RequestSchema == nil {
		return nil
	}
	root := e.caps.RootSchema()
	if root == nil {
		return &Error{Code: CodeSchemaUnavailable, Message: "root schema is not loaded", Status: 503}
	}

	sch, err := e.validators.validator(op.OperationID, op.RequestSchema, root)
	if err != nil {
		return &Error{Code: CodeSchemaUnavailable, Message: err.Error(), Status: 503}
	}

	body := req.Body
	if body == nil {
		body = map[string]any{}
	}
	if err := sch.Validate(body); err != nil {
		return validationError("request body failed validation: %s", validationMessage(err))
	}
	return nil
}

func (e *Executor) renderURL(op *schema.Operation, req *Request) (string, error) {
	path := op.PathTemplate
	for _, p := range op.PathParams {
		path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(req.PathParams[p.Name]))
	}

	full := strings.TrimSuffix(e.cfg.BaseURL, "/") + path
	if len(req.QueryParams) > 0 {
		values := url.Values{}
		for name, value := range req.QueryParams {
			s, _ := util.ScalarToString(value)
			values.Set(name, s)
		}
		full += "?" + values.Encode()
	}
	return full, nil
}

// dryRun renders the request envelope without touching the upstream. For
// mutating operations the confirmation token for the exact request shape is
// included so the caller can replay it for real.
func (e *Executor) dryRun(op *schema.Operation, userID string, req *Request, info RequestInfo) *Response {
	body := map[string]any{
		"dry_run": true,
		"method":  op.Method,
		"url":     info.URL,
	}
	resp := &Response{Request: info, Status: 0, Headers: map[string]string{}, Body: body}
	if op.IsMutating {
		body["confirm_write_token"] = crypto.ConfirmationToken(
			e.cfg.ConfirmationSecret, userID, op.OperationID, req.PathParams, req.QueryParams, req.Body)
		if !e.cfg.AllowWrites {
			resp.Warnings = append(resp.Warnings, "writes_disabled_globally")
		}
	}
	return resp
}

// attemptResult is one fully drained upstream response.
type attemptResult struct {
	status  int
	header  http.Header
	rawBody []byte
}

// send issues the upstream call. GET/HEAD retry on network errors, 429 and
// 5xx with a linear backoff; other methods are sent exactly once. The last
// response survives retry exhaustion so the caller can surface it.
func (e *Executor) send(ctx context.Context, op *schema.Operation, info RequestInfo, token string, body any) (*attemptResult, error) {
	idempotent := op.Method == http.MethodGet || op.Method == http.MethodHead

	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			return nil, validationError("request body is not serializable: %v", err)
		}
	}

	var last *attemptResult
	retry := e.retry
	if !idempotent {
		retry = resilience.NewRetry(0)
	}

	err := retry.Execute(ctx, func(ctx context.Context) error {
		return e.timeout.Execute(ctx, func(ctx context.Context) error {
			httpReq, err := http.NewRequestWithContext(ctx, op.Method, info.URL, bytes.NewReader(bodyBytes))
			if err != nil {
				return resilience.Permanent(&Error{Code: CodeRequestFailed, Message: err.Error(), Status: 502})
			}
			httpReq.Header.Set("Accept", e.cfg.AcceptHeader)
			httpReq.Header.Set("Authorization", "Bearer "+token)
			if bodyBytes != nil {
				httpReq.Header.Set("Content-Type", "application/json")
			}

			httpResp, err := e.caps.Doer.Do(httpReq)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return resilience.Permanent(&Error{Code: CodeRequestTimeout, Message: "upstream request timed out", Status: 504})
				}
				return fmt.Errorf("upstream request failed: %w", err)
			}
			defer func() { _ = httpResp.Body.Close() }()

			raw, err := io.ReadAll(httpResp.Body)
			if err != nil {
				return fmt.Errorf("failed to read upstream response: %w", err)
			}
			last = &attemptResult{status: httpResp.StatusCode, header: httpResp.Header, rawBody: raw}

			if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
				return fmt.Errorf("upstream returned retryable status %d", httpResp.StatusCode)
			}
			return nil
		})
	})

	if last != nil {
		return last, nil
	}
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Code: CodeRequestTimeout, Message: "upstream request timed out", Status: 504}
		}
		return nil, &Error{Code: CodeRequestFailed, Message: err.Error(), Status: 502}
	}
	return nil, &Error{Code: CodeRequestFailed, Message: "upstream request produced no response", Status: 502}
}

// buildResponse parses, cleans and redacts one upstream result.
func (e *Executor) buildResponse(info RequestInfo, result *attemptResult) *Response {
	resp := &Response{
		Request: info,
		Status:  result.status,
		Headers: cleanHeaders(result.header),
		Body:    util.RedactValue(parseBody(result)),
	}
	resp.RequestID = result.header.Get("Request-Id")
	return resp
}

func parseBody(result *attemptResult) any {
	if result.status == http.StatusNoContent {
		return nil
	}
	text := string(result.rawBody)
	if strings.Contains(result.header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(result.rawBody, &parsed); err == nil {
			return parsed
		}
		return text
	}
	if text == "" {
		return nil
	}
	return text
}

func cleanHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if util.IsSensitiveHeader(name) || len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = values[0]
	}
	return out
}

// truncate replaces oversized bodies with a preview envelope.
func (e *Executor) truncate(resp *Response) {
	if e.cfg.MaxBodyBytes <= 0 {
		return
	}
	serialized, err := json.Marshal(resp.Body)
	if err != nil {
		return
	}
	size := len(serialized)
	if size <= e.cfg.MaxBodyBytes {
		return
	}

	preview := string(serialized)
	partial := false
	// Preview length is counted in characters, so slice on rune boundaries.
	if runes := []rune(preview); e.cfg.BodyPreviewChars > 0 && len(runes) > e.cfg.BodyPreviewChars {
		preview = string(runes[:e.cfg.BodyPreviewChars])
		partial = true
	}
	resp.Body = map[string]any{
		"truncated":           true,
		"original_size_bytes": size,
		"preview":             preview,
		"preview_is_partial":  partial,
	}
	resp.Warnings = append(resp.Warnings,
		fmt.Sprintf("response_body_truncated: %d bytes exceeded the %d byte limit", size, e.cfg.MaxBodyBytes))
}

func (e *Executor) bodyPreview(body any) string {
	serialized, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	preview := string(serialized)
	if runes := []rune(preview); e.cfg.BodyPreviewChars > 0 && len(runes) > e.cfg.BodyPreviewChars {
		preview = string(runes[:e.cfg.BodyPreviewChars])
	}
	return preview
}
