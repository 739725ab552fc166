// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package daemon

import (
	"context"
	"net"
	"time"

	"grimm.is/sentinel/internal/breaker"
	"grimm.is/sentinel/internal/config"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/ipc"
	"grimm.is/sentinel/internal/logging"
	"grimm.is/sentinel/internal/protocol"
	"grimm.is/sentinel/internal/retry"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientTimeout sets the per-response read budget.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithClientBreaker replaces the IPC breaker.
func WithClientBreaker(b *breaker.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// WithClientRetry replaces the IPC retry policy.
func WithClientRetry(p *retry.Policy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Client talks to the daemon. Each request uses a fresh connection; failed
// round trips are retried with the IPC predicate behind the IPC breaker.
type Client struct {
	socket  string
	timeout time.Duration
	breaker *breaker.Breaker
	retry   *retry.Policy
	logger  *logging.Logger
}

// NewClient creates a client for the daemon listening on socket.
func NewClient(socket string, opts ...ClientOption) (*Client, error) {
	c := &Client{socket: socket, timeout: ipc.DefaultReadTimeout}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Or(c.logger, "client")
	if c.breaker == nil {
		c.breaker = breaker.New(breaker.IPCConfig(), breaker.WithLogger(c.logger))
	}
	if c.retry == nil {
		p, err := retry.New(retry.DefaultConfig(),
			retry.WithName(config.IPCClient),
			retry.WithPredicate(retry.IPCPredicate),
			retry.WithLogger(c.logger))
		if err != nil {
			return nil, err
		}
		c.retry = p
	}
	return c, nil
}

// NewClientFromConfig uses the socket, read timeout and "ipc" breaker and
// retry settings from cfg.
func NewClientFromConfig(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	logger := logging.WithComponent("client")
	p, err := cfg.RetryPolicy(config.IPCClient, retry.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	base := []ClientOption{
		WithClientTimeout(cfg.ReadTimeout),
		WithClientBreaker(breaker.New(cfg.Breaker(config.IPCClient), breaker.WithLogger(logger))),
		WithClientRetry(p),
		WithClientLogger(logger),
	}
	return NewClient(cfg.Listen, append(base, opts...)...)
}

// Breaker returns the client's IPC breaker.
func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// Do sends req and returns the daemon's response. Transport failures are
// returned as errors; an error response is returned as-is.
func (c *Client) Do(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	if req.RequestID == "" {
		req.RequestID = protocol.NewRequest(req.Action).RequestID
	}
	payload, err := protocol.Encode(req)
	if err != nil {
		return nil, err
	}
	if err := ipc.ValidateSize(len(payload)); err != nil {
		return nil, err
	}

	var resp *protocol.Response
	err = c.retry.ExecuteContext(ctx, retry.WithBreaker(c.breaker, func(ctx context.Context) error {
		r, err := c.roundTrip(ctx, payload)
		if err != nil {
			return err
		}
		if r.RequestID != req.RequestID && r.RequestID != protocol.UnknownRequestID {
			return errors.Errorf(errors.KindProtocol, "response for request %q, expected %q", r.RequestID, req.RequestID)
		}
		resp = r
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, payload []byte) (*protocol.Response, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "connect to %s", c.socket)
	}
	conn := ipc.NewConn(nc, ipc.WithReadTimeout(c.timeout))
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.Send(payload); err != nil {
		return nil, err
	}
	data, err := conn.Receive()
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.KindTimeout, "request cancelled")
		}
		return nil, err
	}
	return protocol.DecodeResponse(data)
}

func (c *Client) call(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// Scan submits content for scanning.
func (c *Client) Scan(ctx context.Context, content []byte, filename string) (*protocol.ScanResult, error) {
	resp, err := c.call(ctx, protocol.NewScanRequest(content, filename))
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// ScanFile asks the daemon to scan a file it can read itself.
func (c *Client) ScanFile(ctx context.Context, path string) (*protocol.ScanResult, error) {
	req := protocol.NewRequest(protocol.ActionScanFile)
	req.FilePath = path
	resp, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Health returns the full degradation report.
func (c *Client) Health(ctx context.Context) (*protocol.HealthReport, error) {
	return c.health(ctx, protocol.ActionHealth)
}

// Ready reports whether the daemon accepts scans.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	h, err := c.health(ctx, protocol.ActionHealthReady)
	if err != nil {
		return false, err
	}
	return h.Ready, nil
}

func (c *Client) health(ctx context.Context, action protocol.Action) (*protocol.HealthReport, error) {
	resp, err := c.call(ctx, protocol.NewRequest(action))
	if err != nil {
		return nil, err
	}
	if resp.Health == nil {
		return nil, errors.New(errors.KindProtocol, "health response without report")
	}
	return resp.Health, nil
}

// Metrics returns the daemon's Prometheus text exposition.
func (c *Client) Metrics(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, protocol.NewRequest(protocol.ActionMetrics))
	if err != nil {
		return "", err
	}
	return resp.Metrics, nil
}
