// Package cli builds relayd's Cobra command tree.
//
// Command Structure:
//
//	relayd
//	├── serve                   # Start the homeserver process
//	│   └── --config, -c        # Specify config file
//	├── backup
//	│   └── create-version      # Start a new key backup version
//	├── federation
//	│   ├── enable-room
//	│   └── disable-room
//	└── status                  # Print uptime and pool queue depth
//
// serve brings up the full homeserver (pool, storage, metrics, admin,
// backup, federation) and blocks until SIGINT/SIGTERM, then shuts down in
// reverse order.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/relayd/internal/config"
	"github.com/ChuLiYu/relayd/internal/homeserver"
)

var configFile string

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relayd",
		Short: "relayd: a federated messaging homeserver's storage core",
		Long: `relayd runs the async-to-blocking database pool, the embedded
storage engine, and the admin/backup/federation surfaces built on top of it.`,
		Version: "0.1.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildBackupCommand())
	rootCmd.AddCommand(buildFederationCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Warn("falling back to default configuration", "path", configFile, "error", err)
		return config.Default(), nil
	}
	return cfg, nil
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the homeserver process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("cli: load config: %w", err)
	}

	srv, err := homeserver.New(cfg)
	if err != nil {
		return fmt.Errorf("cli: start homeserver: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("relayd serving", "config", configFile)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("cli: homeserver stopped with error: %w", err)
	}
	slog.Info("relayd stopped")
	return nil
}

func buildBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage room-key backups",
	}
	cmd.AddCommand(buildBackupCreateVersionCommand())
	return cmd
}

func buildBackupCreateVersionCommand() *cobra.Command {
	var userID, version, algorithm string

	cmd := &cobra.Command{
		Use:   "create-version",
		Short: "Start a new key backup version for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupCreateVersion(userID, version, algorithm)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to create a backup version for")
	cmd.Flags().StringVar(&version, "version", "", "version identifier")
	cmd.Flags().StringVar(&algorithm, "algorithm", "m.megolm_backup.v1", "backup algorithm name")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("version")

	return cmd
}

func runBackupCreateVersion(userID, version, algorithm string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := homeserver.New(cfg)
	if err != nil {
		return fmt.Errorf("cli: open homeserver storage: %w", err)
	}
	defer srv.Close()

	store := srv.Backup
	if err := store.CreateVersion(context.Background(), userID, version, algorithm); err != nil {
		return fmt.Errorf("cli: create backup version: %w", err)
	}

	fmt.Printf("created backup version %q for %s\n", version, userID)
	return nil
}

func buildFederationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "federation",
		Short: "Manage per-room federation handling",
	}
	cmd.AddCommand(buildFederationToggleCommand("enable-room", true))
	cmd.AddCommand(buildFederationToggleCommand("disable-room", false))
	return cmd
}

func buildFederationToggleCommand(use string, enable bool) *cobra.Command {
	var roomID string

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("%s incoming federation for a room", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFederationToggle(roomID, enable)
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "room id")
	cmd.MarkFlagRequired("room")

	return cmd
}

func runFederationToggle(roomID string, enable bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := homeserver.New(cfg)
	if err != nil {
		return fmt.Errorf("cli: open homeserver storage: %w", err)
	}
	defer srv.Close()

	mgr := srv.Federation
	ctx := context.Background()
	if enable {
		err = mgr.EnableRoom(ctx, roomID)
	} else {
		err = mgr.DisableRoom(ctx, roomID)
	}
	if err != nil {
		return fmt.Errorf("cli: toggle federation: %w", err)
	}

	fmt.Printf("room %s federation enabled=%t\n", roomID, enable)
	return nil
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print uptime and pool queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := homeserver.New(cfg)
	if err != nil {
		return fmt.Errorf("cli: open homeserver storage: %w", err)
	}
	defer srv.Close()

	fmt.Println(srv.Admin.Uptime())
	fmt.Printf("queue depth: %d\n", srv.Admin.QueueDepth())
	fmt.Println(srv.Admin.ShowConfig())

	return nil
}
