package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode/internal/detection"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/rpctoken"
)

var (
	detectHost    string
	detectPort    int
	detectWait    bool
	detectTimeout time.Duration
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe host:port for a running NEXUS3 server",
	Long: `Sends a single list_agents probe and classifies the response
(NEXUS_SERVER, OTHER_SERVICE, NO_SERVER, TIMEOUT, ERROR). With --wait,
polls with backoff until a NEXUS3 server answers or the timeout elapses.`,
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detectHost, "host", "127.0.0.1", "Host to probe")
	detectCmd.Flags().IntVarP(&detectPort, "port", "p", 8765, "Port to probe")
	detectCmd.Flags().BoolVar(&detectWait, "wait", false, "Poll until a server answers instead of a single probe")
	detectCmd.Flags().DurationVar(&detectTimeout, "timeout", 10*time.Second, "Probe/poll timeout")
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfgDir, err := resolveConfigDir()
	if err != nil {
		return err
	}
	token, _ := rpctoken.Discover(cfgDir, detectPort, false, logging.Logger)

	ctx := context.Background()
	if detectWait {
		result, err := detection.WaitForServer(ctx, detectHost, detectPort, token, detectTimeout, 500*time.Millisecond)
		if err != nil {
			return fmt.Errorf("waiting for server: %w", err)
		}
		fmt.Println(result)
		return nil
	}

	result := detection.DetectServer(ctx, detectHost, detectPort, token, detectTimeout)
	fmt.Println(result)
	return nil
}
