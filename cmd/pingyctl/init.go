package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/Joe3124t/pingy-sub002/internal/config"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
)

type initResult struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config.toml with a fresh JWT secret and VAPID key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")
			force, _ := cmd.Flags().GetBool("force")
			subject, _ := cmd.Flags().GetString("subject")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.ConfigPath(cfg.Storage.DataDir)
			}

			if _, err := os.Stat(path); err == nil && !force {
				if jsonMode {
					return writeJSON(cmd, initResult{Path: path, Created: false})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists (use --force to overwrite)\n", path)
				return nil
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return writeCommandError(cmd, err)
			}

			secret, err := randomSecret()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			priv, pub, err := webpush.GenerateVAPIDKeys()
			if err != nil {
				return writeCommandError(cmd, fmt.Errorf("generate vapid keys: %w", err))
			}

			out := config.Default()
			out.Storage.DataDir = cfg.Storage.DataDir
			out.Server.JWTSecret = secret
			out.Push.WebPush = config.WebPushConfig{
				VAPIDPublicKey:  pub,
				VAPIDPrivateKey: priv,
				Subject:         subject,
			}
			if err := config.Save(path, out); err != nil {
				return writeCommandError(cmd, err)
			}

			if jsonMode {
				return writeJSON(cmd, initResult{Path: path, Created: true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	cmd.Flags().String("subject", "mailto:admin@localhost", "VAPID subject (mailto: or https: URL)")
	return cmd
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
