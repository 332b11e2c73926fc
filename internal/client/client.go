// Package client is the Requester: it sends one GET or PING to an
// Orchestrator Node and decodes the framed reply.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/protocol"
	"github.com/torfstack/twin/internal/util"
)

// ErrNoResponse is returned when the server closed the connection without
// sending a header line.
var ErrNoResponse = errors.New("no response (empty header)")

// ErrBadReply is returned when a known header carries malformed sizes.
var ErrBadReply = errors.New("malformed reply")

type Client struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

func New(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

// Response is a decoded Orchestrator reply. Payloads holds one entry per
// declared size, possibly shorter than declared when Truncated is set.
type Response struct {
	Header    protocol.Header
	Payloads  [][]byte
	Truncated bool
}

// Ping sends PING and returns the raw reply line.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var line string
	err := c.do(ctx, protocol.Request{Verb: protocol.VerbPing}, func(r *bufio.Reader) error {
		var err error
		line, err = readHeader(r)
		return err
	})
	return line, err
}

// Get requests path and reads every payload the header declares.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	if strings.ContainsAny(path, "\r\n") || strings.TrimSpace(path) == "" {
		return nil, protocol.Errorf(protocol.KindBadRequest, "invalid path %q", path)
	}
	var resp *Response
	err := c.do(ctx, protocol.Request{Verb: protocol.VerbGet, Path: path}, func(r *bufio.Reader) error {
		line, err := readHeader(r)
		if err != nil {
			return err
		}
		resp, err = decode(r, line)
		return err
	})
	return resp, err
}

func (c *Client) do(ctx context.Context, req protocol.Request, read func(*bufio.Reader) error) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	raw, err := c.dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return connectionError(fmt.Errorf("could not connect to %s: %w", c.addr, err))
	}
	defer func() {
		if err := raw.Close(); err != nil {
			logging.Debugf("Could not close connection: %s", err)
		}
	}()
	conn := util.NewTimeoutConn(raw, c.timeout)

	if _, err = io.WriteString(conn, req.Line()); err != nil {
		return connectionError(fmt.Errorf("could not send request: %w", err))
	}
	return read(bufio.NewReader(conn))
}

func readHeader(r *bufio.Reader) (string, error) {
	line, err := protocol.ReadLine(r)
	switch {
	case errors.Is(err, io.EOF):
		return "", ErrNoResponse
	case err != nil:
		return "", connectionError(fmt.Errorf("could not read header: %w", err))
	case line == "":
		return "", ErrNoResponse
	}
	return line, nil
}

func decode(r io.Reader, line string) (*Response, error) {
	h, err := protocol.ParseHeader(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadReply, err)
	}
	resp := &Response{Header: h}
	for _, size := range h.Sizes {
		data, err := protocol.ReadExact(r, size)
		if errors.Is(err, protocol.ErrTruncated) {
			logging.Debug("Short payload", "declared", size, "received", len(data))
			resp.Truncated = true
		} else if err != nil {
			return nil, err
		}
		resp.Payloads = append(resp.Payloads, data)
	}
	return resp, nil
}

func connectionError(err error) error {
	var ne net.Error
	if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return protocol.Wrap(protocol.KindRemoteTimeout, err)
	}
	return protocol.Wrap(protocol.KindRemoteUnreachable, err)
}
