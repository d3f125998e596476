// Package client talks to the generation backend over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sitegen/internal/model"
	"sitegen/internal/utils"
	"sitegen/internal/workspace"
	"sitegen/pkg/logger"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

const maxErrorBody = 4 << 10

type Options struct {
	BaseURL string
	// Timeout applies to /generate and /refine. Streams are bounded only by
	// their context.
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Client implements workspace.Backend.
type Client struct {
	baseURL string
	opts    Options
	http    *http.Client
	stream  *http.Client
}

var _ workspace.Backend = (*Client)(nil)

func New(opts Options) *Client {
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		opts:    opts,
		http:    utils.NewHTTPClient(opts.Timeout),
		stream:  utils.NewHTTPClient(0),
	}
}

// OpenStream posts req to /generate/stream and returns the event-stream body.
func (c *Client) OpenStream(ctx context.Context, req model.BuildRequest) (io.ReadCloser, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workspace.ErrInvalidRequest, err)
	}

	var body io.ReadCloser
	err = c.retry(ctx, "/generate/stream", func() error {
		resp, err := c.post(ctx, c.stream, "/generate/stream", req, "text/event-stream")
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Generate posts req to the non-streaming /generate endpoint.
func (c *Client) Generate(ctx context.Context, req model.BuildRequest) (*model.GenerateResponse, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workspace.ErrInvalidRequest, err)
	}

	out := &model.GenerateResponse{}
	err = c.retry(ctx, "/generate", func() error {
		return c.postJSON(ctx, "/generate", req, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Refine(ctx context.Context, req model.RefineRequest) (*model.RefineResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", workspace.ErrInvalidRequest, err)
	}

	out := &model.RefineResponse{}
	err := c.retry(ctx, "/refine", func() error {
		return c.postJSON(ctx, "/refine", req, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Health probes GET / and reports whether the backend answered 2xx.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &workspace.TransportError{Cause: err}
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	resp, err := c.post(ctx, c.http, path, in, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &workspace.TransportError{Cause: fmt.Errorf("decode %s response: %w", path, err)}
	}
	return nil
}

// post sends in as JSON and returns a 2xx response whose body the caller owns.
func (c *Client) post(ctx context.Context, hc *http.Client, path string, in interface{}, accept string) (*http.Response, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, &workspace.TransportError{Cause: err}
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &workspace.HTTPStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// retry runs op, repeating it with exponential backoff while it fails with a
// transport error. Status errors are answers, not failures, and are returned
// as they are.
func (c *Client) retry(ctx context.Context, endpoint string, op func() error) error {
	if c.opts.MaxRetries <= 0 {
		return op()
	}

	eb := backoff.NewExponentialBackOff()
	if c.opts.InitialInterval > 0 {
		eb.InitialInterval = c.opts.InitialInterval
	}
	if c.opts.MaxInterval > 0 {
		eb.MaxInterval = c.opts.MaxInterval
	}
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.opts.MaxRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		var transportErr *workspace.TransportError
		if !errors.As(err, &transportErr) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"attempt":  attempt,
		}).WithError(err).Warn("backend request failed, retrying")
		return err
	}, policy)
}
