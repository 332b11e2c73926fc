package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"text/tabwriter"

	"github.com/torfstack/twin/internal/client"
	"github.com/torfstack/twin/internal/db"
	"github.com/torfstack/twin/internal/protocol"
)

// Get requests path from the Orchestrator Node on host and saves the
// payloads. Connection failures and malformed replies are reported, not
// returned.
func (s *Service) Get(ctx context.Context, host, path string) error {
	if err := s.cfg.Client.Validate(); err != nil {
		return err
	}
	addr := s.clientAddr(host)
	fmt.Fprintf(s.out, "Connecting to %s (timeout %s) ...\n", addr, s.cfg.Client.Timeout)

	resp, err := client.New(addr, s.cfg.Client.Timeout).Get(ctx, path)
	switch {
	case errors.Is(err, client.ErrNoResponse):
		fmt.Fprintln(s.out, "No response (empty header).")
		return nil
	case isConnectionError(err):
		fmt.Fprintln(s.out, "Connection error:", err)
		return nil
	case errors.Is(err, client.ErrBadReply):
		fmt.Fprintln(s.out, "Error:", err)
		return nil
	case err != nil:
		return fmt.Errorf("get: %w", err)
	}

	fmt.Fprintln(s.out, "Server response header:", resp.Header.Raw)
	saved, err := resp.Save(s.cfg.Client.OutDir, path)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	fmt.Fprintln(s.out, resp.Describe(saved))
	return nil
}

// Ping reports the raw reply of the node on host.
func (s *Service) Ping(ctx context.Context, host string) error {
	if err := s.cfg.Client.Validate(); err != nil {
		return err
	}
	reply, err := client.New(s.clientAddr(host), s.cfg.Client.Timeout).Ping(ctx)
	if err != nil {
		fmt.Fprintln(s.out, "Ping failed:", err)
		return nil
	}
	fmt.Fprintln(s.out, "PING response:", reply)
	return nil
}

// ListAudit prints the newest journal entries.
func (s *Service) ListAudit(ctx context.Context, limit int) error {
	if s.cfg.Audit.Path == "" {
		return errors.New("audit: no journal configured, set [audit] path or --audit-db")
	}
	d, err := db.New(ctx, s.cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer d.Close()

	entries, err := d.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tREQUEST\tOUTCOME\tLOCAL\tREMOTE\tPATH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.RequestID, e.Outcome,
			sizeColumn(e.LocalSize), sizeColumn(e.RemoteSize), e.Path)
	}
	return tw.Flush()
}

func (s *Service) clientAddr(host string) string {
	return net.JoinHostPort(host, strconv.Itoa(s.cfg.Client.Port))
}

func isConnectionError(err error) bool {
	return errors.Is(err, protocol.ErrRemoteUnreachable) || errors.Is(err, protocol.ErrRemoteTimeout)
}

func sizeColumn(size *int64) string {
	if size == nil {
		return "-"
	}
	return strconv.FormatInt(*size, 10)
}
