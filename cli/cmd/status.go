package cmd

import (
	"fmt"
	"time"

	"github.com/gregriff/jamsesh/cli/internal/services"
	"github.com/gregriff/jamsesh/cli/internal/services/jamsesh"
	"github.com/gregriff/jamsesh/cli/internal/timesync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the jamsesh server: clock offset, round trip and relay servers",
	Args:  cobra.NoArgs,
	RunE:  getStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func getStatus(cmd *cobra.Command, _ []string) error {
	origin := viper.GetString("servers.jamsesh-origin")
	client := services.NewClient(origin)

	sample, err := timesync.New(client, timesync.WithProbes(viper.GetInt("timesync.probes"))).Sync(cmd.Context())
	if err != nil {
		return fmt.Errorf("%s is unreachable: %w", origin, err)
	}
	relays, err := jamsesh.GetICEServers(cmd.Context(), client)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "server        %s\n", origin)
	fmt.Fprintf(out, "round trip    %s\n", sample.RTT.Round(time.Millisecond))
	fmt.Fprintf(out, "clock offset  %s\n", sample.Offset.Round(time.Millisecond))
	if err != nil {
		fmt.Fprintf(out, "relays        unavailable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "relays        %d\n", len(relays))
	return nil
}
