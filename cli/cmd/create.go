package cmd

import (
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Short:   "Create a room and become its host",
	Args:    cobra.NoArgs,
	PreRunE: resolveUsername,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRoom(cmd, "")
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	addRoomFlags(createCmd)
}
