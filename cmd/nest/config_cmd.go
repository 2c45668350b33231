package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nestlog/nestlog/internal/config"
	"github.com/nestlog/nestlog/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage config.toml",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	Long: `Write config.toml into the data dir (or --config) using the settings in
effect now, so flags and NEST_* variables given to this command are saved.`,
	Annotations: map[string]string{annotationCreatesConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = config.Path(cfg.DataDir)
		}

		if err := config.WriteDefault(path, cfg, force); err != nil {
			fatalf("%v", err)
		}
		ui.New(os.Stdout).Success("Wrote %s", path)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
