// Package server runs a TCP accept loop that hands every connection to
// its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/metrics"
	"github.com/torfstack/twin/internal/util"
)

// Handler serves a single connection. The connection is closed by the
// server once ServeConn returns.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

type HandlerFunc func(ctx context.Context, conn net.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

type Server struct {
	name    string
	handler Handler
	timeout time.Duration
}

// New returns a server whose connections time out after timeout of
// inactivity on any single read or write.
func New(name string, handler Handler, timeout time.Duration) *Server {
	return &Server{name: name, handler: handler, timeout: timeout}
}

// Listen opens a TCP listener on addr.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is done, then waits for in-flight
// connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() {
		if err := ln.Close(); err != nil {
			logging.Debugf("Could not close %s listener: %s", s.name, err)
		}
	})
	defer stop()

	logging.Infof("%s listening on %s", s.name, ln.Addr())
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !retryable(err) {
				return fmt.Errorf("%s accept: %w", s.name, err)
			}
			backoff = nextBackoff(backoff)
			logging.Errorf("%s accept error: %s; retrying in %s", s.name, err, backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		wg.Go(func() {
			s.serveConn(ctx, conn)
		})
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	requestID := uuid.NewString()
	metrics.ConnectionOpened(s.name)
	defer metrics.ConnectionClosed(s.name)
	defer func() {
		if err := conn.Close(); err != nil {
			logging.Debugf("Could not close connection %s: %s", requestID, err)
		}
	}()

	logging.Debug("Accepted connection", "node", s.name, "request", requestID, "remote", conn.RemoteAddr().String())
	ctx = WithRequestID(ctx, requestID)
	s.handler.ServeConn(ctx, util.NewTimeoutConn(conn, s.timeout))
}

// retryable reports whether an accept error is transient, such as
// running out of file descriptors under load.
func retryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id assigned to the connection, or "" outside of
// a served connection.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
