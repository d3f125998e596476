package main

import (
	"fmt"
	"io"
	"os"

	"sitegen/internal/client"
	"sitegen/internal/config"
	"sitegen/internal/workspace"
	"sitegen/pkg/logger"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "sitegen",
	Short:        "Generate single-file websites with an LLM",
	Long:         `sitegen turns a short description into a complete HTML page, streams it as it is written and lets you refine it.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "./configs/config.yaml", "Path to the YAML config file")
}

// setup loads the config and initialises logging to out.
func setup(cmd *cobra.Command, out io.Writer) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.InitWithOutput(cfg.Log.Level, cfg.Log.Format, out); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func newBackendClient(cfg *config.Config) *client.Client {
	return client.New(client.Options{
		BaseURL:         cfg.Backend.BaseURL,
		Timeout:         cfg.Backend.Timeout,
		MaxRetries:      cfg.Backend.Retry.MaxRetries,
		InitialInterval: cfg.Backend.Retry.InitialInterval,
		MaxInterval:     cfg.Backend.Retry.MaxInterval,
	})
}

func newSupervisor(cfg *config.Config) *workspace.Supervisor {
	return workspace.NewSupervisor(newBackendClient(cfg),
		workspace.WithAttemptTimeout(cfg.Generation.AttemptTimeout))
}
