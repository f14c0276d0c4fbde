package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/groundloop-ai/groundloop/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file and data directory",
	RunE: func(_ *cobra.Command, _ []string) error {
		path := cfgFile
		if path == "" {
			path = "groundloop.yaml"
		}
		if err := config.WriteExample(path); err != nil {
			return err
		}

		dir := dataDir
		if dir == "" {
			dir = config.Default().Data.Dir
		}
		for _, sub := range []string{"runs", "workspaces", "evidence"} {
			if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}
		}

		fmt.Printf("wrote %s and initialized %s\n", path, dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
