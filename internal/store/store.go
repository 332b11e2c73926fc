// Package store implements the Store Node: it answers single-file GET and
// PING requests from its read-only tree.
package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/torfstack/twin/internal/config"
	"github.com/torfstack/twin/internal/local"
	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/metrics"
	"github.com/torfstack/twin/internal/protocol"
	"github.com/torfstack/twin/internal/server"
)

const nodeName = "store"

type Node struct {
	tree *local.Tree
	cfg  config.StoreConfig
}

func New(cfg config.StoreConfig) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tree, err := local.NewTree(cfg.FilesDir)
	if err != nil {
		return nil, fmt.Errorf("could not open store tree: %w", err)
	}
	return &Node{tree: tree, cfg: cfg}, nil
}

func (n *Node) Tree() *local.Tree {
	return n.tree
}

// Serve handles connections on ln until ctx is done.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	return server.New(nodeName, n, n.cfg.Timeout).Serve(ctx, ln)
}

func (n *Node) ServeConn(ctx context.Context, conn net.Conn) {
	requestID := server.RequestID(ctx)
	reply, err := n.handle(conn)
	if err != nil {
		logging.Debug("Store request failed", "request", requestID, "kind", protocol.KindOf(err), "error", err)
	}
	if reply != "" {
		metrics.RecordRequest(nodeName, reply)
	}
}

// handle serves one request and returns the reply kind that was sent, or
// "" when the connection is closed without a reply.
func (n *Node) handle(conn net.Conn) (string, error) {
	req, err := protocol.ReadRequest(bufio.NewReader(conn))
	switch {
	case errors.Is(err, protocol.ErrEmptyRequest):
		return "", nil
	case err != nil:
		return reject(conn, err)
	}

	if req.Verb == protocol.VerbPing {
		return send(conn, protocol.Pong)
	}

	p, err := n.tree.Resolve(req.Path)
	if err != nil {
		return reject(conn, err)
	}

	f, size, err := n.tree.Open(p)
	switch {
	case errors.Is(err, protocol.ErrNotFound):
		return send(conn, protocol.NotFound)
	case err != nil:
		return "", err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Debugf("Could not close '%s': %s", p, err)
		}
	}()

	written, err := protocol.WriteFrame(conn, protocol.StoreFoundHeader(size))
	if err != nil {
		return "", err
	}
	copied, err := io.CopyN(conn, f, size)
	metrics.AddBytesSent(nodeName, written+copied)
	if err != nil {
		return "", fmt.Errorf("sent %d of %d bytes of '%s': %w", copied, size, p, err)
	}
	return protocol.OK, nil
}

// reject answers protocol errors with their ERR line. Anything else closes
// the connection silently.
func reject(conn net.Conn, err error) (string, error) {
	line, ok := protocol.Reply(err)
	if !ok {
		return "", err
	}
	if _, werr := send(conn, line); werr != nil {
		return "", errors.Join(err, werr)
	}
	return line, err
}

func send(conn net.Conn, line string) (string, error) {
	n, err := protocol.WriteFrame(conn, line)
	metrics.AddBytesSent(nodeName, n)
	if err != nil {
		return "", err
	}
	return line, nil
}
