package main

import (
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
)

// NewVAPIDKeysCmd creates the vapid-keys command.
func NewVAPIDKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for Web Push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")

			priv, pub, err := webpush.GenerateVAPIDKeys()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if jsonMode {
				return writeJSON(cmd, map[string]string{"publicKey": pub, "privateKey": priv})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[push.webpush]\nvapid_public_key = %q\nvapid_private_key = %q\n", pub, priv)
			return nil
		},
	}
}
