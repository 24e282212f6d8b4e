// Package main implements segmapctl, a small inspection/manipulation CLI
// for segmap files, grounded on dKV/cmd's cobra+viper root command
// structure (cmd/root.go, cmd/kv/commands.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theflywheel/segmap/internal/clilog"
)

const version = "0.1.0"

var logger *clilog.Logger

var rootCmd = &cobra.Command{
	Use:   "segmapctl",
	Short: "inspect and manipulate segmap files",
	Long: fmt.Sprintf(`segmapctl (v%s)

A command-line tool for creating, inspecting, and reading/writing
off-heap, file-backed segmap hash map files.`, version),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger = clilog.New("segmapctl", clilog.ParseLevel(viper.GetString("log-level")))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "path to a config file (env vars take the form SEGMAPCTL_<flag>)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(dumpCmd)
}

func initConfig() {
	viper.SetEnvPrefix("SEGMAPCTL")
	viper.AutomaticEnv()
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		viper.SetConfigFile(cfg)
		_ = viper.ReadInConfig()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
