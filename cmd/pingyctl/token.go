package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/Joe3124t/pingy-sub002/internal/api"
	"github.com/spf13/cobra"
)

// NewTokenCmd creates the token command.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an API access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if cfg.Server.JWTSecret == "" {
				return writeCommandError(cmd, errors.New("server.jwt_secret is not set"))
			}

			tok, err := api.GenerateToken(cfg.Server.JWTSecret, args[0], ttl)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if jsonMode {
				return writeJSON(cmd, map[string]string{"userId": args[0], "token": tok})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
