// Package remote talks to the optional remote authority that mirrors the
// shared documents over HTTP.
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

	"github.com/npezzotti/go-attendance/internal/types"
)

const (
	DefaultReadTimeout  = 6 * time.Second
	DefaultWriteTimeout = 8 * time.Second

	maxResponseSize = 4 << 20
)

// ErrUnavailable covers every way a remote call can fail.
var ErrUnavailable = errors.New("remote authority unavailable")

// Envelope is the JSON body exchanged with the remote authority.
type Envelope struct {
	OK         bool            `json:"ok"`
	Error      string          `json:"error,omitempty"`
	DB         types.Directory `json:"db,omitempty"`
	User       *types.Person   `json:"user,omitempty"`
	Attendance types.Ledger    `json:"attendance,omitempty"`
	Locks      types.LockTable `json:"locks,omitempty"`
}

// LedgerBody and LocksBody are push payloads. Unlike Envelope their
// fields are never omitted.
type LedgerBody struct {
	Attendance types.Ledger `json:"attendance"`
}

type LocksBody struct {
	Locks types.LockTable `json:"locks"`
}

type Client struct {
	baseURL      string
	readTimeout  time.Duration
	writeTimeout time.Duration
	httpClient   *http.Client
}

type ClientOption func(*Client)

func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote url %q", baseURL)
	}

	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		httpClient:   &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) FetchDirectory(ctx context.Context) (types.Directory, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/db", nil, c.readTimeout)
	if err != nil {
		return nil, err
	}
	if env.DB == nil {
		return types.Directory{}, nil
	}
	return env.DB, nil
}

func (c *Client) FetchPerson(ctx context.Context, id string) (types.Person, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/user/"+url.PathEscape(id), nil, c.readTimeout)
	if err != nil {
		return types.Person{}, err
	}
	if env.User == nil {
		return types.Person{}, fmt.Errorf("%w: response has no user", ErrUnavailable)
	}
	return *env.User, nil
}

func (c *Client) PushPerson(ctx context.Context, p types.Person) error {
	_, err := c.do(ctx, http.MethodPost, "/api/register", p, c.writeTimeout)
	return err
}

func (c *Client) FetchLedger(ctx context.Context) (types.Ledger, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/attendance", nil, c.readTimeout)
	if err != nil {
		return nil, err
	}
	if env.Attendance == nil {
		return types.Ledger{}, nil
	}
	return env.Attendance, nil
}

func (c *Client) PushLedger(ctx context.Context, l types.Ledger) error {
	_, err := c.do(ctx, http.MethodPost, "/api/attendance", LedgerBody{Attendance: l}, c.writeTimeout)
	return err
}

func (c *Client) FetchLocks(ctx context.Context) (types.LockTable, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/roomLocks", nil, c.readTimeout)
	if err != nil {
		return nil, err
	}
	if env.Locks == nil {
		return types.LockTable{}, nil
	}
	return env.Locks, nil
}

func (c *Client) PushLocks(ctx context.Context, t types.LockTable) error {
	_, err := c.do(ctx, http.MethodPost, "/api/roomLocks", LocksBody{Locks: t}, c.writeTimeout)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, timeout time.Duration) (Envelope, error) {
	var env Envelope

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return env, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return env, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return env, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return env, fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&env); err != nil {
		return env, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if !env.OK {
		return env, fmt.Errorf("%w: %s %s: %s", ErrUnavailable, method, path, env.Error)
	}

	return env, nil
}
