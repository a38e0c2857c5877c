// Command orchestrator runs the agent orchestrator daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	orch "github.com/lucianocrossaniell/Agent-Orch"
	"github.com/lucianocrossaniell/Agent-Orch/pkg/config"
)

// version is set via ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "orchestrator",
		Short:        "Agent lifecycle manager and message router",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "configuration file (YAML)")
	return cmd
}

func serve(ctx context.Context, configFile string) error {
	// Missing .env is fine, the environment may be set elsewhere.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	o, err := orch.New(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{"version": version}).Info("starting orchestrator")
	return o.Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogging(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
		log.Warnf("unknown log level %q, using info", level)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
