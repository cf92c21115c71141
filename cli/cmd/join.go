package cmd

import (
	"github.com/gregriff/jamsesh/internal/validation"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join CODE",
	Short: "Join a room by its 6-digit code",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.RoomCode(args[0]); err != nil {
			return err
		}
		return resolveUsername(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoom(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addRoomFlags(joinCmd)
}
