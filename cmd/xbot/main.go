package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"xbot/internal/config"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgPath  string
	envFiles string
)

var rootCmd = &cobra.Command{
	Use:           "xbot",
	Short:         "Scheduled X engagement bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return config.LoadDotEnv(envFiles)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&envFiles, "env-file", ".env", "comma-separated dotenv files; missing files are ignored")
	rootCmd.AddCommand(runCmd, checkCmd, spamCmd, onceCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
