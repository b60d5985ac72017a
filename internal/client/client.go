// Package client talks to an objtalk server over its HTTP interface.
package client

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

	"github.com/objtalk/objtalk/internal/broker"
)

// APIError is an error response decoded from the server's error envelope.
// Code is empty when the body was not an envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("client: server error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("client: unexpected status %d", e.StatusCode)
}

// Client calls the server's REST endpoints. Use New; the zero value has no
// base URL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a client for the server at baseURL, e.g.
// "http://127.0.0.1:3000".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
	}
}

// Get returns the objects matching pattern.
func (c *Client) Get(ctx context.Context, pattern string) ([]broker.Object, error) {
	u := c.BaseURL + "/query?pattern=" + url.QueryEscape(pattern)
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var objects []broker.Object
	if err := json.Unmarshal(body, &objects); err != nil {
		return nil, fmt.Errorf("client: decode query response: %w", err)
	}
	return objects, nil
}

// Lookup fetches the object with exactly that name, reporting whether it
// exists.
func (c *Client) Lookup(ctx context.Context, name string) (broker.Object, bool, error) {
	body, err := c.do(ctx, http.MethodGet, c.objectURL(name), nil)
	if isNotFound(err) {
		return broker.Object{}, false, nil
	}
	if err != nil {
		return broker.Object{}, false, err
	}
	var obj broker.Object
	if err := json.Unmarshal(body, &obj); err != nil {
		return broker.Object{}, false, fmt.Errorf("client: decode object: %w", err)
	}
	return obj, true, nil
}

// Set replaces the object's value, creating the object when absent.
func (c *Client) Set(ctx context.Context, name string, value json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPost, c.objectURL(name), value)
	return err
}

// Patch merges value into the object's current value.
func (c *Client) Patch(ctx context.Context, name string, value json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPatch, c.objectURL(name), value)
	return err
}

// Remove deletes the object, reporting whether it existed.
func (c *Client) Remove(ctx context.Context, name string) (bool, error) {
	_, err := c.do(ctx, http.MethodDelete, c.objectURL(name), nil)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Emit fires an event at the named object.
func (c *Client) Emit(ctx context.Context, object, event string, data json.RawMessage) error {
	payload, err := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data,omitempty"`
	}{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("client: encode emit request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, c.BaseURL+"/events/"+escapePath(object), payload)
	return err
}

// Invoke calls method on the object's provider and returns the provider's
// result. It blocks until the provider answers or the server reports an
// error.
func (c *Client) Invoke(ctx context.Context, object, method string, args json.RawMessage) (json.RawMessage, error) {
	payload, err := json.Marshal(struct {
		Method string          `json:"method"`
		Args   json.RawMessage `json:"args,omitempty"`
	}{Method: method, Args: args})
	if err != nil {
		return nil, fmt.Errorf("client: encode invoke request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.BaseURL+"/invoke/"+escapePath(object), payload)
}

func (c *Client) objectURL(name string) string {
	return c.BaseURL + "/objects/" + escapePath(name)
}

// escapePath escapes each path segment of an object name, keeping the
// slashes that are part of the name.
func escapePath(name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do runs one request and returns the response body. Non-200 statuses
// become an *APIError carrying the server's error envelope when the body
// holds one.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, data)
	}
	return data, nil
}

func decodeError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
