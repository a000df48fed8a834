// Package backend calls the Salesforce Apex REST endpoints behind the
// Agentron screens. Every endpoint is a JSON POST to
// {instance}/services/apexrest/{prefix}/{Controller}/{method}; any failure
// is returned as a *CallError that matches ErrBackendCall.
package backend

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

	"go.uber.org/zap"
)

// ErrBackendCall matches every error returned by Client.
var ErrBackendCall = errors.New("backend call failed")

// CallError describes one failed endpoint call.
type CallError struct {
	Controller string
	Method     string
	// Status is the HTTP status, or 0 when no response was received.
	Status  int
	Message string
	Err     error
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s", e.Controller, e.Method)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBackendCall}
	}
	return []error{ErrBackendCall, e.Err}
}

// Options configures a Client.
type Options struct {
	InstanceURL string
	APIPrefix   string
	AccessToken string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client talks to the Apex REST endpoints. It is safe for concurrent use.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   *zap.Logger
}

// New returns a client rooted at opts.InstanceURL.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	base := strings.TrimRight(opts.InstanceURL, "/") + "/services/apexrest"
	if p := strings.Trim(opts.APIPrefix, "/"); p != "" {
		base += "/" + p
	}
	return &Client{base: base, token: opts.AccessToken, http: hc, log: log}
}

// apexError is the error body shape Salesforce returns.
type apexError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// call posts in as JSON and decodes the reply into out, which may be nil.
func (c *Client) call(ctx context.Context, controller, method string, in, out any) error {
	fail := func(status int, msg string, err error) error {
		ce := &CallError{Controller: controller, Method: method, Status: status, Message: msg, Err: err}
		c.log.Warn("backend call failed", zap.String("endpoint", controller+"."+method), zap.Error(ce))
		return ce
	}

	if in == nil {
		in = struct{}{}
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fail(0, "encode request", err)
	}
	url := c.base + "/" + controller + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fail(0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fail(0, "", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fail(resp.StatusCode, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, apexMessage(b), nil)
	}
	c.log.Debug("backend call",
		zap.String("endpoint", controller+"."+method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fail(resp.StatusCode, "decode response", err)
	}
	return nil
}

func apexMessage(b []byte) string {
	var list []apexError
	if json.Unmarshal(b, &list) == nil && len(list) > 0 {
		if list[0].ErrorCode != "" {
			return list[0].ErrorCode + ": " + list[0].Message
		}
		return list[0].Message
	}
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// Result is the common success/message reply.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Amount decodes a JSON number or a numeric string. Anything else is 0.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*a = 0
		return nil
	}
	*a = Amount(f)
	return nil
}
