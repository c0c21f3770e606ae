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
	console    bool
)

// rootCmd runs the server half of the sample resource.
var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the resource server",
	Long: `Run the resource server: the host runtime, the websocket bridge for
clients and, when enabled, the Redis relay to other nodes.

Every setting can be overridden with a GAMEFW_ environment variable,
e.g. GAMEFW_BRIDGE_LISTEN_ADDR=:9000.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "server config path (yaml or json)")
	rootCmd.Flags().BoolVar(&console, "console", true, "read console commands from stdin")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultServerConfig()
	if err := config.Load(configPath, &cfg); err != nil {
		return err
	}
	logger, err := logging.NewLogger("server", cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := app.NewServer(cfg, game.ServerModules(), logger)
	if err := srv.Build(ctx); err != nil {
		return err
	}
	if console {
		go func() {
			if err := app.ReadConsole(ctx, os.Stdin, srv.Runtime()); err != nil {
				logger.Warn("console stopped", zap.Error(err))
			}
		}()
	}
	return srv.Run(ctx)
}
