// Package cmd contains the CLI setup and commands exposed to the user
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gregriff/jamsesh/cli/configs"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ConfigFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "jamsesh",
	Short: "Listen to music together: one host streams, everyone hears it in sync",
	Long: `jamsesh connects you to a room on a jamsesh server. The host streams their
microphone or system audio over WebRTC to every listener, and listeners resume
playback at the same instant so the room stays in step.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// deferring this allows user to override config path with cli option
	cobra.OnInitialize(func() {
		configs.InitConfig(ConfigFile)
		configs.ConfigureLogging(viper.GetBool("debug"))
		log.Debugf("using config file: %s", ConfigFile)
	})

	defaultConfigFilePath := filepath.Join(configs.GetConfigDir(), "jamsesh.toml")
	rootCmd.PersistentFlags().StringVar(&ConfigFile, "config", defaultConfigFilePath, "config file")

	rootCmd.PersistentFlags().String("stun-server", "stun:stun.l.google.com:19302", "STUN Server Origin")
	rootCmd.PersistentFlags().String("jamsesh-server", "http://localhost:8080", "jamsesh Server Address")
	rootCmd.PersistentFlags().Bool("debug", false, "Print debugging information")

	// expose to application via viper
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("servers.stun-origin", rootCmd.PersistentFlags().Lookup("stun-server"))
	_ = viper.BindPFlag("servers.jamsesh-origin", rootCmd.PersistentFlags().Lookup("jamsesh-server"))
}
