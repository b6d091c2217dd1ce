// Command wtmuxd is the daemon entry point: it loads configuration, wires
// every subsystem (git, eventbus, watchers, store, providers) into a
// *daemon.Daemon, and serves the RPC layer over a UNIX-domain socket until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wtmux/internal/commands"
	"wtmux/internal/config"
	"wtmux/internal/daemon"
	"wtmux/internal/eventbus"
	"wtmux/internal/git"
	"wtmux/internal/provider"
	"wtmux/internal/rpc"
	"wtmux/internal/store"
	"wtmux/internal/watch"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "wtmuxd",
		Short:   "Worktree-scoped terminal multiplexer daemon",
		Version: Version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		RunE:  runServe,
	}
	serveCmd.Flags().String("socket", "", "override the UNIX socket path")
	serveCmd.Flags().String("data-dir", "", "override the persistence root")
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
	rootCmd.AddCommand(versionCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the daemon's config.json",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Get a config value by dot notation path (e.g. 'default_provider')",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigGet,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value by dot notation path",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a config key",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigDelete,
	})
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if socket, _ := cmd.Flags().GetString("socket"); socket != "" {
		cfg.SocketPath = socket
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New(logger)
	gitMgr := git.New(logger)
	watchers := watch.NewManager(bus, logger)
	registry := provider.NewRegistry()

	d, err := daemon.New(cfg, logger, gitMgr, bus, watchers, st, registry)
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	srv, err := rpc.New(cfg.SocketPath, d, logger)
	if err != nil {
		d.Shutdown()
		return fmt.Errorf("start rpc server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("wtmuxd: received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("wtmuxd: serving", "socket", cfg.SocketPath, "data_dir", cfg.DataDir)
	serveErr := srv.Serve(ctx)

	logger.Info("wtmuxd: shutting down")
	if err := d.Shutdown(); err != nil {
		logger.Warn("wtmuxd: shutdown error", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("rpc server: %w", serveErr)
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	value, err := commands.JSONGet(configPath, args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	if err := commands.JSONSet(configPath, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Set %s = %s\n", args[0], args[1])
	return nil
}

func runConfigDelete(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	if err := commands.JSONDelete(configPath, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
