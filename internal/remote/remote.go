// Package remote probes a Store Node for a single file.
package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/metrics"
	"github.com/torfstack/twin/internal/protocol"
	"github.com/torfstack/twin/internal/util"
	"golang.org/x/sync/semaphore"
)

// Client opens one connection per probe; nothing is pooled or reused.
type Client struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
	sem     *semaphore.Weighted
}

// NewClient returns a probe client for the Store Node at addr. maxProbes
// bounds concurrent probes; 0 leaves them unbounded.
func NewClient(addr string, timeout time.Duration, maxProbes int) *Client {
	c := &Client{addr: addr, timeout: timeout}
	if maxProbes > 0 {
		c.sem = semaphore.NewWeighted(int64(maxProbes))
	}
	return c
}

func (c *Client) Addr() string {
	return c.addr
}

// Fetch asks the Store Node for path and returns the file contents. The
// path is sent exactly as given; the Store Node validates it itself.
// A NOTFOUND reply yields protocol.ErrNotFound, every other failure
// ErrRemoteUnreachable or ErrRemoteTimeout. A payload shorter than the
// announced size is returned together with ErrTruncated.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	data, err := c.fetch(ctx, path)
	metrics.RecordProbe(probeResult(err), time.Since(start))
	return data, err
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, protocol.Wrap(protocol.KindRemoteTimeout, fmt.Errorf("waiting for probe slot: %w", err))
		}
		defer c.sem.Release(1)
	}

	raw, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, classify(fmt.Errorf("could not connect to %s: %w", c.addr, err))
	}
	defer func() {
		if err := raw.Close(); err != nil {
			logging.Debugf("Could not close store connection: %s", err)
		}
	}()
	conn := util.NewTimeoutConn(raw, c.timeout)

	req := protocol.Request{Verb: protocol.VerbGet, Path: path}
	if _, err = io.WriteString(conn, req.Line()); err != nil {
		return nil, classify(fmt.Errorf("could not send request: %w", err))
	}

	r := bufio.NewReader(conn)
	line, err := protocol.ReadLine(r)
	switch {
	case errors.Is(err, io.EOF):
		line = ""
	case err != nil:
		return nil, classify(fmt.Errorf("could not read reply: %w", err))
	}

	size, found, err := protocol.ParseStoreHeader(line)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, protocol.Errorf(protocol.KindNotFound, "%s: not found on store node", path)
	}
	return protocol.ReadExact(r, size)
}

func classify(err error) error {
	var ne net.Error
	if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return protocol.Wrap(protocol.KindRemoteTimeout, err)
	}
	return protocol.Wrap(protocol.KindRemoteUnreachable, err)
}

func probeResult(err error) string {
	if err == nil {
		return "found"
	}
	switch protocol.KindOf(err) {
	case protocol.KindNotFound:
		return "not_found"
	case protocol.KindRemoteTimeout:
		return "timeout"
	case protocol.KindTruncated:
		return "truncated"
	default:
		return "unreachable"
	}
}
