// Package cmd contains the CLI setup and commands exposed to the user
package cmd

import (
	"fmt"

	"github.com/gregriff/jamsesh/server/configs"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ConfigFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "jamsesh-server",
	Short: "Coordinates jamsesh rooms: membership, host failover and WebRTC signaling",
	Long: `jamsesh-server keeps track of rooms and their host, relays offers, answers and
ICE candidates between participants of the same room, and serves the time
reference and relay credentials clients need to play in sync.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err.Error())
	}
}

func init() {
	// deferring this allows user to override config path with cli option
	cobra.OnInitialize(func() {
		configs.InitConfig(ConfigFile)
		configs.ConfigureLogging(viper.GetBool("debug"), viper.GetString("log-format"))
		log.Debugf("using config file: %s", ConfigFile)
	})

	configDir := configs.GetConfigDir()
	defaultConfigFilePath := fmt.Sprintf("%s/jamsesh-server.toml", configDir)
	rootCmd.PersistentFlags().StringVar(&ConfigFile, "config", defaultConfigFilePath, "config file")

	rootCmd.PersistentFlags().Bool("debug", false, "log debug output")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}
