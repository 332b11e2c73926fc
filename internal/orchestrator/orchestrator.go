// Package orchestrator implements the Orchestrator Node. For each GET it
// reads its own tree, probes the Store Node and replies with one framed
// response describing both.
//
// A Store Node that is unreachable, slow or answers garbage is treated
// exactly like one that does not have the file. Requesters cannot tell
// the two apart.
package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/torfstack/twin/internal/config"
	"github.com/torfstack/twin/internal/db"
	"github.com/torfstack/twin/internal/local"
	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/metrics"
	"github.com/torfstack/twin/internal/protocol"
	"github.com/torfstack/twin/internal/remote"
	"github.com/torfstack/twin/internal/safepath"
	"github.com/torfstack/twin/internal/server"
)

const nodeName = "orchestrator"

// Fetcher retrieves a file from the peer store. Errors of kind NotFound
// mean the peer answered that it has no such file.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Journal records answered requests.
type Journal interface {
	Record(ctx context.Context, e db.Entry) error
}

type Node struct {
	tree    *local.Tree
	peer    Fetcher
	journal Journal
	cfg     config.OrchestratorConfig
}

type Option func(*Node)

func WithJournal(j Journal) Option {
	return func(n *Node) {
		n.journal = j
	}
}

// WithFetcher replaces the Store Node client built from the config.
func WithFetcher(f Fetcher) Option {
	return func(n *Node) {
		n.peer = f
	}
}

func New(cfg config.OrchestratorConfig, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tree, err := local.NewTree(cfg.FilesDir)
	if err != nil {
		return nil, fmt.Errorf("could not open orchestrator tree: %w", err)
	}
	n := &Node{
		tree: tree,
		peer: remote.NewClient(cfg.PeerAddr(), cfg.Timeout, cfg.MaxProbes),
		cfg:  cfg,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *Node) Tree() *local.Tree {
	return n.tree
}

// Serve handles connections on ln until ctx is done.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	return server.New(nodeName, n, n.cfg.ConnTimeout()).Serve(ctx, ln)
}

func (n *Node) ServeConn(ctx context.Context, conn net.Conn) {
	requestID := server.RequestID(ctx)
	reply, err := n.handle(ctx, conn)
	if err != nil {
		logging.Debug("Orchestrator request failed", "request", requestID, "kind", protocol.KindOf(err), "error", err)
	}
	if reply != "" {
		metrics.RecordRequest(nodeName, reply)
	}
}

func (n *Node) handle(ctx context.Context, conn net.Conn) (string, error) {
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

	localLookup, err := n.lookupLocal(p)
	if err != nil {
		return "", err
	}
	remoteLookup := n.lookupRemote(ctx, req.Path)

	outcome := Reconcile(localLookup, remoteLookup)
	metrics.RecordOutcome(outcome.Kind.String())

	written, err := outcome.WriteTo(conn)
	metrics.AddBytesSent(nodeName, written)
	n.record(ctx, req.Path, outcome)
	if err != nil {
		return "", fmt.Errorf("could not send %s reply: %w", outcome.Kind, err)
	}
	return outcome.Kind.String(), nil
}

func (n *Node) lookupLocal(p safepath.ValidatedPath) (Lookup, error) {
	data, err := n.tree.ReadFile(p)
	switch {
	case errors.Is(err, protocol.ErrNotFound):
		return Absent(), nil
	case err != nil:
		return Absent(), err
	}
	return Present(data), nil
}

// lookupRemote never fails: every probe error counts as absent. A
// truncated payload still counts as present with the bytes received.
func (n *Node) lookupRemote(ctx context.Context, path string) Lookup {
	data, err := n.peer.Fetch(ctx, path)
	if errors.Is(err, protocol.ErrTruncated) {
		logging.Debug("Store node payload truncated", "request", server.RequestID(ctx), "received", len(data), "error", err)
		return Present(data)
	}
	if err != nil {
		if !errors.Is(err, protocol.ErrNotFound) {
			logging.Debug("Store node probe failed, treating as absent",
				"request", server.RequestID(ctx), "kind", protocol.KindOf(err), "error", err)
		}
		return Absent()
	}
	return Present(data)
}

func (n *Node) record(ctx context.Context, path string, o Outcome) {
	if n.journal == nil {
		return
	}
	e := db.Entry{RequestID: server.RequestID(ctx), Path: path, Outcome: o.Kind.String()}
	switch o.Kind {
	case OutcomeOnlyLocal:
		e.LocalSize = size(o.Local)
	case OutcomeOnlyRemote:
		e.RemoteSize = size(o.Remote)
	case OutcomeMatch:
		e.LocalSize, e.RemoteSize = size(o.Local), size(o.Local)
	case OutcomeDiff:
		e.LocalSize, e.RemoteSize = size(o.Local), size(o.Remote)
	}
	if err := n.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		logging.Error("Could not journal request", err, "request", e.RequestID)
	}
}

func size(b []byte) *int64 {
	s := int64(len(b))
	return &s
}

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
