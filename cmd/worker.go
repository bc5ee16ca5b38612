/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"

	"github.com/accountd/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Delivers queued account emails",
	Long: `Consumes the notification channel published by the API server when
NOTIFY_BACKEND=broker and sends each email. Usage:

	accountd worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := setup(cmd)

		worker, err := server.NewWorker(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("failed to start worker", slog.String("error", err.Error()))
			return err
		}
		defer worker.Close()

		if err := worker.Run(cmd.Context()); err != nil {
			logger.Error("worker stopped", slog.String("error", err.Error()))
			return err
		}
		logger.Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
