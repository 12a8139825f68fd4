package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "studioctl",
	Short: "studioctl is a command line tool for the VeoStudio API",
	Long: `studioctl is the command-line interface for VeoStudio, a multi-scene video
generation studio. Every scene render is paid for with credits before it is
sent to the generation worker and refunded if the render ultimately fails.

Common workflows:

  Generate a scene (use --force to pay for a re-render of a finished scene):
    studioctl generate <scene-id>

  Generate several scenes at once:
    studioctl bulk <scene-id> <scene-id> ...

  Follow a project:
    studioctl status <project-id>

  Check credits:
    studioctl balance
    studioctl ledger --limit 20

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    STUDIO_URL      API endpoint (default: http://localhost:6161)
    STUDIO_TOKEN    Account token for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".studioctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".studioctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "STUDIO_VARNAME"
	viper.SetEnvPrefix("STUDIO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.studioctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "VeoStudio Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Account token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

// newClient builds a client from the configured URL and token. It prints
// a hint and returns nil when no token is configured.
func newClient(cmd *cobra.Command) *StudioClient {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the STUDIO_TOKEN environment variable")
		return nil
	}
	return NewStudioClient(viper.GetString("url"), token)
}
