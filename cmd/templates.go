/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/accountd/apiserver/internal/notify"
	"github.com/accountd/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

// templatesCmd represents the templates command
var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage email template overrides in object storage",
	Long: `Email templates are built in. An override uploaded to the configured
STORAGE_BACKEND bucket replaces the built-in template for its kind. Kinds:
verification, welcome, reset_request, reset_success.`,
}

var templatesPushCmd = &cobra.Command{
	Use:   "push <kind> <file>",
	Short: "Upload an HTML override for a template kind",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := setup(cmd)
		kind := notify.Kind(args[0])

		raw, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		if err := notify.CheckOverride(kind, raw); err != nil {
			return err
		}
		key, _ := notify.OverrideKey(kind)

		objects, err := storage.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if objects == nil {
			return errors.New("STORAGE_BACKEND is not configured")
		}
		defer objects.Close()
		if err := objects.EnsureBucket(cmd.Context()); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		if err := objects.Put(cmd.Context(), key, bytes.NewReader(raw), int64(len(raw)), "text/html; charset=utf-8"); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}

		logger.Info("template override uploaded", "kind", kind, "bucket", objects.Bucket(), "key", key)
		return nil
	},
}

var templatesResetCmd = &cobra.Command{
	Use:   "reset <kind>",
	Short: "Remove the override so the built-in template is used again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := setup(cmd)
		key, err := notify.OverrideKey(notify.Kind(args[0]))
		if err != nil {
			return err
		}

		objects, err := storage.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if objects == nil {
			return errors.New("STORAGE_BACKEND is not configured")
		}
		defer objects.Close()
		if err := objects.Delete(cmd.Context(), key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}

		logger.Info("template override removed", "kind", args[0], "bucket", objects.Bucket(), "key", key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesPushCmd)
	templatesCmd.AddCommand(templatesResetCmd)
}
