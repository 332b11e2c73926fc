package service

import (
	"context"
	"fmt"

	"github.com/torfstack/twin/internal/db"
	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/orchestrator"
	"github.com/torfstack/twin/internal/server"
	"github.com/torfstack/twin/internal/store"
)

// RunStore serves a Store Node until ctx is done.
func (s *Service) RunStore(ctx context.Context) error {
	cfg := s.cfg.Store
	node, err := store.New(cfg)
	if err != nil {
		return fmt.Errorf("run-store: %w", err)
	}
	ln, err := server.Listen(ctx, cfg.Addr())
	if err != nil {
		return fmt.Errorf("run-store: %w", err)
	}
	logging.Info("Store node serving files", "dir", node.Tree().Base())

	return runNode(ctx, func(ctx context.Context) error {
		return node.Serve(ctx, ln)
	}, node.Tree().Base(), cfg.Watch, s.cfg.Metrics.Addr)
}

// RunOrchestrator serves an Orchestrator Node until ctx is done.
func (s *Service) RunOrchestrator(ctx context.Context) error {
	cfg := s.cfg.Orchestrator
	var opts []orchestrator.Option
	if s.cfg.Audit.Path != "" {
		journal, err := db.New(ctx, s.cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("run-orchestrator: could not open audit journal: %w", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logging.Error("Could not close audit journal", err)
			}
		}()
		opts = append(opts, orchestrator.WithJournal(journal))
	}

	node, err := orchestrator.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("run-orchestrator: %w", err)
	}
	ln, err := server.Listen(ctx, cfg.Addr())
	if err != nil {
		return fmt.Errorf("run-orchestrator: %w", err)
	}
	logging.Info("Orchestrator node serving files", "dir", node.Tree().Base(), "peer", cfg.PeerAddr())

	return runNode(ctx, func(ctx context.Context) error {
		return node.Serve(ctx, ln)
	}, node.Tree().Base(), cfg.Watch, s.cfg.Metrics.Addr)
}
