// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jsondevice

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds connect plus the whole request/reply exchange.
	DefaultTimeout = 5 * time.Second
	// DefaultPort is the port the device firmware listens on.
	DefaultPort = 4840
	// MaxReplySize caps a single reply line.
	MaxReplySize = 1 << 20
)

// Options configures a Client.
type Options struct {
	// Address of the device, host:port.
	Address string
	// Timeout for connect and for the exchange. Zero means DefaultTimeout.
	Timeout time.Duration
	// Persistent keeps one connection open across calls and re-dials after
	// a failure. Consecutive failed dials are throttled with exponential
	// backoff.
	Persistent bool
	// Logger is optional.
	Logger *zap.SugaredLogger
}

// Client sends requests to one device. It is safe for concurrent use; calls
// are serialized.
type Client struct {
	addr       string
	timeout    time.Duration
	persistent bool
	log        *zap.SugaredLogger
	dialer     net.Dialer

	mu        sync.Mutex
	conn      net.Conn
	rd        *bufio.Reader
	redial    backoff.BackOff
	nextDial  time.Time
	lastError error
}

// NewClient returns a client for the device at opts.Address.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := &Client{
		addr:       opts.Address,
		timeout:    timeout,
		persistent: opts.Persistent,
		log:        log,
	}
	if c.persistent {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = 0
		c.redial = b
	}
	return c
}

// Address returns the device address.
func (c *Client) Address() string { return c.addr }

// Timeout returns the per request bound.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Send performs one request/reply exchange. There are no retries.
func (c *Client) Send(ctx context.Context, req Request) (*Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Action, err)
	}
	payload = append(payload, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.persistent {
		return c.sendPersistent(ctx, req.Action, payload)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return c.exchange(ctx, conn, bufio.NewReader(conn), req.Action, payload)
}

func (c *Client) sendPersistent(ctx context.Context, action string, payload []byte) (*Reply, error) {
	if c.conn == nil {
		if wait := time.Until(c.nextDial); wait > 0 {
			return nil, fmt.Errorf("%w: reconnect to %s suspended for %s after: %w", ErrConnect, c.addr, wait.Round(time.Millisecond), c.lastError)
		}
		conn, err := c.dial(ctx)
		if err != nil {
			c.suspend(err)
			return nil, err
		}
		c.conn = conn
		c.rd = bufio.NewReader(conn)
		c.redial.Reset()
		c.lastError = nil
		c.log.Debugf("Connected to device at %s", c.addr)
	}

	reply, err := c.exchange(ctx, c.conn, c.rd, action, payload)
	if err != nil {
		// The stream may hold a partial line or a late reply now, so drop the
		// connection. The next call re-dials at once; only failed dials are
		// throttled.
		c.closeConn()
	}
	return reply, err
}

func (c *Client) suspend(err error) {
	c.lastError = err
	next := c.redial.NextBackOff()
	if next == backoff.Stop {
		next = 30 * time.Second
	}
	c.nextDial = time.Now().Add(next)
	c.log.Debugf("Suspending reconnects to %s for %s because of error: %s", c.addr, next, err)
}

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.rd = nil
}

// Close releases a persistent connection. It is a no-op otherwise.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeConn()
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dctx, "tcp", c.addr)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrConnect, c.addr, ctx.Err())
		}
		return nil, fmt.Errorf("%w: dial %s: %w", classify(err, ErrConnect), c.addr, err)
	}
	return conn, nil
}

func (c *Client) exchange(ctx context.Context, conn net.Conn, rd *bufio.Reader, action string, payload []byte) (*Reply, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrConnect, err)
	}
	defer conn.SetDeadline(time.Time{})

	// Cancellation interrupts blocked I/O by moving the deadline into the past.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: write %s request to %s: %w", classify(ctxErr, ErrConnect), action, c.addr, ctxErr)
		}
		return nil, fmt.Errorf("%w: write %s request to %s: %w", classify(err, ErrConnect), action, c.addr, err)
	}

	line, err := readLine(rd)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			return nil, fmt.Errorf("reply to %s request from %s: %w", action, c.addr, err)
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: reply to %s request from %s: connection closed before reply", ErrProtocol, action, c.addr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: read reply to %s request from %s: %w", classify(ctxErr, ErrConnect), action, c.addr, ctxErr)
		}
		return nil, fmt.Errorf("%w: read reply to %s request from %s: %w", classify(err, ErrConnect), action, c.addr, err)
	}

	reply, err := decodeReply(line)
	if err != nil {
		return nil, fmt.Errorf("reply to %s request from %s: %w", action, c.addr, err)
	}
	return reply, nil
}

// readLine reads one newline terminated line. A final line without newline
// is accepted when the peer closes the connection after it.
func readLine(rd *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := rd.ReadSlice('\n')
		if buf.Len()+len(chunk) > MaxReplySize {
			return nil, fmt.Errorf("%w: reply exceeds %d bytes", ErrProtocol, MaxReplySize)
		}
		buf.Write(chunk)
		switch {
		case err == nil:
			return bytes.TrimSpace(buf.Bytes()), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(bytes.TrimSpace(buf.Bytes())) > 0:
			return bytes.TrimSpace(buf.Bytes()), nil
		default:
			return nil, err
		}
	}
}

func decodeReply(line []byte) (*Reply, error) {
	if len(line) == 0 || line[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object: %q", ErrProtocol, truncate(line, 64))
	}
	var r Reply
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &r, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Info asks the device for its identity.
func (c *Client) Info(ctx context.Context) (*Reply, error) {
	return c.Send(ctx, Request{Action: ActionInfo})
}

// Browse lists all tags of the device.
func (c *Client) Browse(ctx context.Context) (*Reply, error) {
	return c.Send(ctx, Request{Action: ActionBrowse})
}

// Read fetches the current value of one tag.
func (c *Client) Read(ctx context.Context, nodeID string) (*Reply, error) {
	return c.Send(ctx, Request{Action: ActionRead, NodeID: nodeID})
}

// Write sets one tag. The value travels as a string; the device parses it.
func (c *Client) Write(ctx context.Context, nodeID, value string) (*Reply, error) {
	return c.Send(ctx, Request{Action: ActionWrite, NodeID: nodeID, Value: &value})
}
