package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thumbsup-team/securenas/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a configuration file with default values.

By default the file is created at $XDG_CONFIG_HOME/securenas/config.yaml.
Use --config to choose a different path and --force to overwrite an
existing file.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Point tls.cert_file, tls.key_file, and tls.client_ca_file at your PKI material")
	fmt.Printf("  2. Set the admin token secret: export %s=<secret>\n", "SECURENAS_API_TOKEN_SECRET")
	fmt.Println("  3. Start the appliance with: securenas start")
	return nil
}
