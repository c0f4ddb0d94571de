package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ircbridge/pkg/channel/irc"
	"ircbridge/pkg/config"
	"ircbridge/pkg/gateway"
	"ircbridge/pkg/logger"

	"github.com/spf13/cobra"
)

const localBusTarget = "in-process"

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the IRC bridge",
	Long:  "Connects to the configured IRC channel, relays requests to the butler bus, and serves health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.bridge")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, appLogger)
		if err != nil {
			log.Error("Failed to initialize bridge", "error", err)
			return
		}

		log.Info("Bridge started",
			"server", cfg.IRC.Server,
			"port", cfg.IRC.Port,
			"channel", cfg.IRC.Channel,
			"nickname", cfg.IRC.Nickname,
			"bus", busTarget(cfg),
			"bus_name", svc.Interface().BusName(),
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, irc.ErrDie) {
				log.Info("Bridge terminated from IRC")
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Bridge runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}

// busTarget names where requests go, for the startup log line.
func busTarget(cfg *config.Config) string {
	if cfg.Bus.URL == "" {
		return localBusTarget
	}

	return cfg.Bus.URL
}
