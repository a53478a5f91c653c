// Package directory checks credentials of directory-mode identities against the external
// directory authority.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
)

const DefaultTimeout = 5 * time.Second

type request struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Result is the directory's answer for a successful check.
type Result struct {
	Authenticated bool   `json:"authenticated"`
	DisplayName   string `json:"displayName"`
	Title         string `json:"title"`
	Error         string `json:"error,omitempty"`
}

type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	breaker *breaker
	logger  *zap.Logger
}

type Option func(*Client)

// WithBreaker sets how many consecutive provider failures open the circuit and how long it
// stays open before a trial request.
func WithBreaker(threshold int, resetTimeout time.Duration) Option {
	return func(c *Client) {
		c.breaker = newBreaker(threshold, resetTimeout)
	}
}

func NewClient(url string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		url:     url,
		timeout: timeout,
		http:    &http.Client{},
		breaker: newBreaker(0, 0),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate sends the credential pair to the directory.
//
// 2xx with authenticated=true is success. 401, authenticated=false and other 4xx responses are
// INVALID_CREDENTIALS. 5xx, transport errors and the timeout are AUTH_PROVIDER_ERROR, as is any
// call made while the circuit is open.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*Result, error) {
	if !c.breaker.allow() {
		return nil, apierr.Wrap(apierr.KindAuthProvider, errCircuitOpen)
	}
	res, err := c.authenticate(ctx, username, password)
	if errors.Is(err, apierr.ErrAuthProvider) {
		if c.breaker.failure() {
			c.logger.Warn("Directory circuit opened", zap.Duration("reset_timeout", c.breaker.resetTimeout))
		}
	} else {
		c.breaker.success()
	}
	return res, err
}

func (c *Client) authenticate(ctx context.Context, username, password string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(request{Username: username, Password: password})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuthProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuthProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Directory unreachable",
			zap.String("username", username),
			zap.Duration("elapsed", time.Since(start)),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err))
		return nil, apierr.Wrap(apierr.KindAuthProvider, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		c.logger.Error("Directory returned a server error",
			zap.String("username", username),
			zap.Int("status", resp.StatusCode))
		return nil, apierr.Wrap(apierr.KindAuthProvider, fmt.Errorf("directory status %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		c.logger.Info("Directory rejected credentials",
			zap.String("username", username),
			zap.Int("status", resp.StatusCode))
		return nil, apierr.ErrInvalidCredentials
	}

	var result Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&result); err != nil {
		c.logger.Error("Malformed directory response", zap.String("username", username), zap.Error(err))
		return nil, apierr.Wrap(apierr.KindAuthProvider, err)
	}
	if !result.Authenticated {
		c.logger.Info("Directory rejected credentials",
			zap.String("username", username),
			zap.String("directory_error", result.Error))
		return nil, apierr.ErrInvalidCredentials
	}
	return &result, nil
}
