package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/preheatd/preheatd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a fully commented-out-by-defaults configuration file.

The file is written to the path given with --config, or the default
location ($XDG_CONFIG_HOME/preheatd/config.yaml, /etc/preheatd/config.yaml
when run as root). An existing file is never overwritten unless --force is
given.

Examples:
  # Write the default config to the default location
  preheatd init

  # Write to a custom path
  preheatd init --config /etc/preheatd/config.yaml

  # Replace an existing file
  preheatd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}

	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}
