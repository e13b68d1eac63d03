package vlmbench

import (
	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/vlmbench/internal/appconfig"
)

// showCmd groups commands that display information.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Group commands for displaying information",
}

// showConfigCmd implements the 'show config' command, which displays the current configuration settings.
var showConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show config settings",
	Long:  `Show config settings ensuring that the JSON configs are loaded properly and overriden by flags accordingly.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := GetConfig()
		appconfig.ShowConfig(cmd.OutOrStdout(), viper.ConfigFileUsed(), cfg)
		if cfg != nil && cfg.Debug {
			pp.Fprintln(cmd.OutOrStdout(), cfg)
		}
	},
}

func init() {
	showCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(showCmd)
}
