/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/accountd/apiserver/config"
	"github.com/accountd/apiserver/internal/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "accountd",
	Short: "Account management API server",
	Long: `accountd serves the /api/auth endpoints for signup, login, email
verification and password reset, delivers account emails from a broker-backed
worker, and manages its database schema and email templates.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

// setup loads the environment and builds the process logger.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger) {
	cfg := config.LoadConfig()
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	logger := logging.New(os.Stderr, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger
}
