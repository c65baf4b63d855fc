// Package commands provides the CLI commands for the NEXUS3 agent-pool
// server, structured the way cmd/opencode/commands lays its own root/serve
// split out.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode/internal/config"
	"github.com/opencode-ai/opencode/internal/logging"
)

var (
	// Version information set at build time.
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs bool
	logLevel  string
	envFile   string
	configDir string
)

var rootCmd = &cobra.Command{
	Use:     "nexus-server",
	Short:   "NEXUS3 multi-agent JSON-RPC server",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				fmt.Fprintf(os.Stderr, "warning: could not load env file %s: %v\n", envFile, err)
			}
		} else {
			_ = godotenv.Load()
		}

		logCfg := logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: os.Stderr,
			Pretty: printLogs,
		}
		if !printLogs {
			logCfg.Level = logging.WarnLevel
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file with provider credentials (default: .env in cwd)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Config/token directory (default: XDG config dir)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("nexus-server %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(detectCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// resolveConfigDir returns the --config-dir override or the XDG config
// path opencode-server already uses for its own data, matching
// rpctoken.Manager's directory contract.
func resolveConfigDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	dir := config.GetPaths().Config
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
