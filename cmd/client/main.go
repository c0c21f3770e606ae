package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"game-framework/internal/app"
	"game-framework/internal/common/logging"
	"game-framework/internal/config"
	"game-framework/internal/game"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	serverURL  string
	console    bool
)

// rootCmd runs the client half of the sample resource.
var rootCmd = &cobra.Command{
	Use:   "client",
	Short: "Run a resource client",
	Long: `Run a resource client against a server bridge. Bootstrap starts once
the server has assigned the local player.

Console lines such as "chat hello" are dispatched as console commands.`,
	SilenceUsage: true,
	RunE:         runClient,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "configs/client.yaml", "client config path (yaml or json)")
	rootCmd.Flags().StringVar(&serverURL, "server", "", "server bridge url, overrides the config")
	rootCmd.Flags().BoolVar(&console, "console", true, "read console commands from stdin")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultClientConfig()
	if err := config.Load(configPath, &cfg); err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	logger, err := logging.NewLogger("client", cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := app.NewClient(cfg, game.ClientModules(), logger)
	if err := c.Build(ctx); err != nil {
		return err
	}
	if console {
		go func() {
			if err := app.ReadConsole(ctx, os.Stdin, c.Runtime()); err != nil {
				logger.Warn("console stopped", zap.Error(err))
			}
		}()
	}
	return c.Run(ctx)
}
