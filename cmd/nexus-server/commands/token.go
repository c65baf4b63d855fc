package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode/internal/httpserver"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/rpctoken"
)

var tokenPort int

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the server's bearer token",
}

var tokenRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Generate a fresh bearer token, discarding any existing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgDir, err := resolveConfigDir()
		if err != nil {
			return err
		}
		mgr := rpctoken.NewManager(cfgDir, tokenPort, logging.Logger)
		token, err := mgr.GenerateFresh()
		if err != nil {
			return fmt.Errorf("rotating token: %w", err)
		}
		fmt.Printf("token rotated: %s\n", mgr.TokenPath())
		fmt.Println(token)
		return nil
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgDir, err := resolveConfigDir()
		if err != nil {
			return err
		}
		token, err := rpctoken.Discover(cfgDir, tokenPort, true, logging.Logger)
		if err != nil {
			return fmt.Errorf("loading token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.PersistentFlags().IntVar(&tokenPort, "port", httpserver.DefaultPort, "Port the token is bound to")
	tokenCmd.AddCommand(tokenRotateCmd)
	tokenCmd.AddCommand(tokenShowCmd)
}
