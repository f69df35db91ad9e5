// Package remote calls server procedures over HTTP.
//
// Every operation is a POST of its JSON params to {base}/actions/{name}.
// A 2xx response carries the JSON result; anything else is decoded into
// an *Error. Procedure and CRUD adapt a Client to the function shapes the
// coordinator and the CRUD helper register.
package remote

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

	"go.uber.org/zap"

	"github.com/10d3/nexora/internal/crud"
	"github.com/10d3/nexora/internal/engine"
	"github.com/10d3/nexora/internal/entity"
)

// DefaultTimeout bounds a single call when no http.Client is supplied.
const DefaultTimeout = 15 * time.Second

// Error is a non-2xx response.
type Error struct {
	Status  int
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.Status, e.Message)
}

// IsError reports whether err wraps a *Error.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// StatusOf returns the HTTP status of a remote error, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// errorBody is the error envelope servers answer with.
type errorBody struct {
	Error string `json:"error"`
}

// Client posts actions to one server.
type Client struct {
	base   *url.URL
	http   *http.Client
	header http.Header
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: DefaultTimeout},
		header: make(http.Header),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the endpoint for the named action.
func (c *Client) URL(name string) string {
	return c.base.JoinPath("actions", name).String()
}

// Call posts params to the named action and decodes the result into out.
// out may be nil when the result is not needed.
func (c *Client) Call(ctx context.Context, name string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s: encode params: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(name), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", name, err)
	}
	c.logger.Debug("remote call",
		zap.String("action", name),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Op: name, Message: errorMessage(resp.StatusCode, data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", name, err)
	}
	return nil
}

func errorMessage(status int, data []byte) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

// Procedure adapts the named action to a typed remote procedure.
func Procedure[P, R any](c *Client, name string) func(context.Context, P) (R, error) {
	return func(ctx context.Context, params P) (R, error) {
		var out R
		err := c.Call(ctx, name, params, &out)
		return out, err
	}
}

// CRUD returns the five remote procedures of an entity.
func CRUD[T entity.Entity](c *Client, entityName string) crud.Remote[T] {
	name := func(v engine.Verb) string { return engine.NewOp(v, entityName).String() }
	return crud.Remote[T]{
		Fetch:  Procedure[crud.FetchParams, []T](c, name(engine.VerbFetch)),
		Get:    Procedure[crud.GetParams, T](c, name(engine.VerbGet)),
		Create: Procedure[T, T](c, name(engine.VerbCreate)),
		Update: Procedure[T, T](c, name(engine.VerbUpdate)),
		Delete: Procedure[crud.DeleteParams, crud.Deleted](c, name(engine.VerbDelete)),
	}
}
