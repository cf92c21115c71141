package cmd

import (
	"errors"

	server "github.com/gregriff/jamsesh/server/internal"
	"github.com/gregriff/jamsesh/server/internal/hub"
	"github.com/gregriff/jamsesh/server/internal/turn"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the jamsesh server",
	Args:  cobra.MaximumNArgs(0),
	PreRunE: func(_ *cobra.Command, _ []string) error {
		if port := viper.GetInt("port"); port <= 0 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		return nil
	},
	Run: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("host", "0.0.0.0", "interface to listen on")
	runCmd.Flags().Int("port", 8080, "port to listen on")
	runCmd.Flags().String("static-dir", "", "directory of static pages to serve at /")
	viper.BindPFlag("host", runCmd.Flags().Lookup("host"))
	viper.BindPFlag("port", runCmd.Flags().Lookup("port"))
	viper.BindPFlag("static-dir", runCmd.Flags().Lookup("static-dir"))
}

func runServer(_ *cobra.Command, _ []string) {
	server.CreateAndListen(server.Options{
		Debug:             viper.GetBool("debug"),
		Host:              viper.GetString("host"),
		Port:              viper.GetInt("port"),
		StaticDir:         viper.GetString("static-dir"),
		History:           viper.GetBool("database.enabled"),
		AdminUsername:     viper.GetString("admin.username"),
		AdminPasswordHash: viper.GetString("admin.password-hash"),
		Hub: hub.Config{
			SendBuffer:    viper.GetInt("rooms.send-buffer"),
			UnjoinedTTL:   viper.GetDuration("rooms.unjoined-ttl"),
			SweepInterval: viper.GetDuration("rooms.sweep-interval"),
		},
		TURN: turn.Config{
			Kind:             viper.GetString("turn.provider"),
			APILink:          viper.GetString("turn.api-link"),
			TwilioAccountSID: viper.GetString("turn.twilio-account-sid"),
			TwilioAuthToken:  viper.GetString("turn.twilio-auth-token"),
			TTL:              viper.GetDuration("turn.ttl"),
		},
	})
}
