package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "taskrelay",
		Short:         "Route free-text tasks to tool profiles and execute them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to config file (env TASKRELAY_CONFIG)")

	root.AddCommand(
		newServeCommand(&configPath),
		newRunCommand(&configPath),
		newReplCommand(&configPath),
	)
	return root
}

// defaultConfigPath は設定ファイルパスを取得
func defaultConfigPath() string {
	if path := os.Getenv("TASKRELAY_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}
