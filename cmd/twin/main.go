package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/torfstack/twin/internal/config"
	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:           "twin",
		Short:         "Compare a file across two independent file stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		debug      bool
		configPath string
		cfg        config.Config
	)
	rootCmd.PersistentFlags().
		BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "Path to config file (default ~/.config/twin/config.toml)")

	// loadConfig reads the config file and applies flags set on cmd.
	loadConfig := func(cmd *cobra.Command, apply func(*cobra.Command, *config.Config)) error {
		logging.SetDebug(debug)
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apply != nil {
			apply(cmd, &cfg)
		}
		return nil
	}

	var storeCmd = &cobra.Command{
		Use:   "store",
		Short: "Run a store node (server 2)",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, applyStoreFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.NewService(cfg).RunStore(cmd.Context())
		},
	}
	storeCmd.Flags().String("host", config.DefaultHost, "Bind host")
	storeCmd.Flags().Int("port", config.DefaultStorePort, "Bind port")
	storeCmd.Flags().String("files-dir", config.DefaultFilesDir, "Directory served by this node")
	storeCmd.Flags().Duration("timeout", config.DefaultTimeout, "Per operation socket timeout")
	storeCmd.Flags().Bool("watch", false, "Log changes to the files directory")
	storeCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address")

	var orchestrateCmd = &cobra.Command{
		Use:   "orchestrate",
		Short: "Run an orchestrator node (server 1) backed by a store node",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, applyOrchestratorFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.NewService(cfg).RunOrchestrator(cmd.Context())
		},
	}
	orchestrateCmd.Flags().String("host", config.DefaultHost, "Bind host")
	orchestrateCmd.Flags().Int("port", config.DefaultOrchestratorPort, "Bind port")
	orchestrateCmd.Flags().String("files-dir", config.DefaultFilesDir, "Directory served by this node")
	orchestrateCmd.Flags().String("server2-host", "", "Store node host")
	orchestrateCmd.Flags().Int("server2-port", config.DefaultStorePort, "Store node port")
	orchestrateCmd.Flags().Duration("timeout", config.DefaultTimeout, "Per operation socket timeout")
	orchestrateCmd.Flags().Int("max-probes", 0, "Bound concurrent store node probes (0 = unbounded)")
	orchestrateCmd.Flags().Bool("watch", false, "Log changes to the files directory")
	orchestrateCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address")
	orchestrateCmd.Flags().String("audit-db", "", "Record answered requests in this sqlite database")

	var getCmd = &cobra.Command{
		Use:   "get SERVER1_HOST PATH",
		Short: "Request a file from an orchestrator node",
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, applyClientFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.NewService(cfg).Get(cmd.Context(), args[0], args[1])
		},
	}
	getCmd.Flags().Int("port", config.DefaultOrchestratorPort, "Orchestrator port")
	getCmd.Flags().Duration("timeout", config.DefaultClientTimeout, "Connect and read timeout")
	getCmd.Flags().String("out", config.DefaultClientOutDir, "Directory for received files")

	var pingCmd = &cobra.Command{
		Use:   "ping SERVER1_HOST",
		Short: "Check that a node is reachable",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, applyClientFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.NewService(cfg).Ping(cmd.Context(), args[0])
		},
	}
	pingCmd.Flags().Int("port", config.DefaultOrchestratorPort, "Node port")
	pingCmd.Flags().Duration("timeout", config.DefaultClientTimeout, "Connect and read timeout")

	var limit int
	var auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "List requests recorded by an orchestrator node",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, func(cmd *cobra.Command, c *config.Config) {
				if f := cmd.Flags(); f.Changed("audit-db") {
					c.Audit.Path, _ = f.GetString("audit-db")
				}
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.NewService(cfg).ListAudit(cmd.Context(), limit)
		},
	}
	auditCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	auditCmd.Flags().String("audit-db", "", "Audit database path")

	var interactive bool
	var configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	var configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			logging.SetDebug(debug)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Init(configPath, interactive); err != nil {
				return err
			}
			fmt.Println("Config written.")
			return nil
		},
	}
	configInitCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Ask for values")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(storeCmd, orchestrateCmd, getCmd, pingCmd, auditCmd, configCmd)
	return rootCmd
}

func applyStoreFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		c.Store.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		c.Store.Port, _ = f.GetInt("port")
	}
	if f.Changed("files-dir") {
		c.Store.FilesDir, _ = f.GetString("files-dir")
	}
	if f.Changed("timeout") {
		c.Store.Timeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("watch") {
		c.Store.Watch, _ = f.GetBool("watch")
	}
	if f.Changed("metrics-addr") {
		c.Metrics.Addr, _ = f.GetString("metrics-addr")
	}
}

func applyOrchestratorFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		c.Orchestrator.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		c.Orchestrator.Port, _ = f.GetInt("port")
	}
	if f.Changed("files-dir") {
		c.Orchestrator.FilesDir, _ = f.GetString("files-dir")
	}
	if f.Changed("server2-host") {
		c.Orchestrator.PeerHost, _ = f.GetString("server2-host")
	}
	if f.Changed("server2-port") {
		c.Orchestrator.PeerPort, _ = f.GetInt("server2-port")
	}
	if f.Changed("timeout") {
		c.Orchestrator.Timeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("max-probes") {
		c.Orchestrator.MaxProbes, _ = f.GetInt("max-probes")
	}
	if f.Changed("watch") {
		c.Orchestrator.Watch, _ = f.GetBool("watch")
	}
	if f.Changed("metrics-addr") {
		c.Metrics.Addr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("audit-db") {
		c.Audit.Path, _ = f.GetString("audit-db")
	}
}

func applyClientFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("port") {
		c.Client.Port, _ = f.GetInt("port")
	}
	if f.Changed("timeout") {
		c.Client.Timeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("out") {
		c.Client.OutDir, _ = f.GetString("out")
	}
}
