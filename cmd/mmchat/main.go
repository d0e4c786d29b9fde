package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/config"
	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "mmchat",
	Short: "MmChat realtime messaging core",
	Long: `mmchat runs the realtime messaging client against a server, or the
development relay that client talks to.

Settings come from the environment, optionally loaded from a .env file.`,
	SilenceUsage: true,
}

var envFile string

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "env file to load before reading settings")
}

// setup loads the env file, the settings and the process logger.
func setup() (config.Config, *zap.Logger, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return config.Config{}, nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg := config.MustLoad()
	log, err := logging.New(cfg.Client.Debug)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
