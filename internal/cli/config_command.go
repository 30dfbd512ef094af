package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE:  runConfigShowE,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the user config directory",
		Args:  cobra.NoArgs,
		RunE:  runConfigInitE,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	initCmd.Flags().String("path", "", "Write here instead of the user config directory")

	configCmd.AddCommand(showCmd, initCmd)
	return configCmd
}

func runConfigShowE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cli.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigInitE(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		path = cli.configManager.UserConfigPath()
	}

	exists, err := afero.Exists(cli.fs, path)
	if err != nil {
		return fmt.Errorf("check %s: %w", path, err)
	}
	if exists && !force {
		return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
	}

	if err := cli.configManager.SaveToFile(cli.configManager.GetDefaultConfig(), path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", path)
	return nil
}
