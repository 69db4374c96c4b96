package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oncallhq/mmbridge/internal/store"
)

var (
	cfgFile string
	dataDir string
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mmbridge",
		Short: "Mattermost bridge for on-call incident management",
		Long: `mmbridge links a Mattermost workspace to an on-call system: it serves the
Mattermost app manifest and install callbacks, issues the verification
tokens that authenticate them, and keeps a local copy of the workspace's
public channels in sync.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mmbridge.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.mmbridge)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newOrgCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newTokenCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("mmbridge")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.mmbridge")
	}

	viper.SetEnvPrefix("MMBRIDGE")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}

// openStore resolves the data directory and opens the SQLite store. Shared
// by every subcommand that touches persisted state.
func openStore() (*store.Store, error) {
	dir := dataDir
	if dir == "" {
		dir = viper.GetString("data_dir")
	}
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = home + "/.mmbridge"
	}
	return store.NewStore(dir)
}
