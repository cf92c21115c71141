package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gregriff/jamsesh/server/internal/crypto"
	"github.com/spf13/cobra"
)

// hashPasswordCmd prints a bcrypt hash for admin.password-hash.
var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Read a password from stdin and print its bcrypt hash for admin.password-hash",
	Args:  cobra.MaximumNArgs(0),
	RunE:  hashPassword,
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}

func hashPassword(cmd *cobra.Command, _ []string) error {
	fmt.Fprint(cmd.ErrOrStderr(), "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), hashed)
	return nil
}
