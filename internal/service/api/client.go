package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/z-tavern/client/internal/metrics"
	"github.com/zhouzirui/z-tavern/client/internal/storage"
)

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses. Message carries the
// remote-reported reason when the body provides one.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Message)
}

// TransportError wraps network and decoding failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is a 401/403 from the remote.
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	RateBurst int
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is the JSON transport shared by the auth, character and voice
// clients. It attaches the persisted token as a bearer credential.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  storage.KV
	limiter *rate.Limiter
}

// New creates a Client. tokens may be nil for unauthenticated use.
func New(opts Options, tokens storage.KV) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Request describes one remote call. Label names the endpoint in metrics and
// logs; it defaults to Path.
type Request struct {
	Method      string
	Path        string
	Label       string
	Body        io.Reader
	ContentType string
}

// GetJSON issues a GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path, label string, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Label: label}, out)
}

// PostJSON encodes in (when non-nil) and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	req := Request{Method: http.MethodPost, Path: path}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.Body = bytes.NewReader(payload)
		req.ContentType = "application/json"
	}
	return c.Do(ctx, req, out)
}

// FilePart is the file field of a multipart upload.
type FilePart struct {
	Field    string
	Filename string
	Data     io.Reader
}

// PostMultipart uploads a multipart form with one file and plain fields.
func (c *Client) PostMultipart(ctx context.Context, path string, file FilePart, fields map[string]string, out any) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(file.Field, file.Filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file.Data); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	return c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		ContentType: writer.FormDataContentType(),
	}, out)
}

// Do executes req and decodes a JSON response body into out (if non-nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	label := req.Label
	if label == "" {
		label = req.Path
	}

	start := time.Now()
	err := c.do(ctx, req, out)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		log.Printf("[api] %s %s failed: %v", req.Method, label, err)
	}
	metrics.RecordAPIRequest(label, outcome, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, req Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: "rate limit", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, req.Body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if token := c.token(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransportError{Op: req.Method + " " + req.Path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read response", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: "decode response", Err: err}
	}
	return nil
}

func (c *Client) token(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	token, ok, err := c.tokens.Get(ctx, storage.KeyToken)
	if err != nil {
		log.Printf("[api] failed to read token: %v", err)
		return ""
	}
	if !ok {
		return ""
	}
	return token
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return ""
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ""
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
		return ""
	}
	return string(trimmed)
}
