package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Joe3124t/pingy-sub002/internal/daemon"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type healthResult struct {
	Socket string `json:"socket"`
	Status string `json:"status"`
}

// NewHealthCmd creates the health command.
func NewHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the daemon's gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonMode, _ := cmd.Flags().GetBool("json")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			socketPath := cfg.SocketPath()

			conn, err := grpc.NewClient(
				"unix://"+socketPath,
				grpc.WithTransportCredentials(insecure.NewCredentials()),
			)
			if err != nil {
				return writeCommandError(cmd, fmt.Errorf("dial daemon: %w", err))
			}
			defer func() { _ = conn.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.HealthService})
			if err != nil {
				return writeCommandError(cmd, fmt.Errorf("cannot reach daemon at %s: %w", socketPath, err))
			}

			res := healthResult{Socket: socketPath, Status: resp.Status.String()}
			if jsonMode {
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.Status)
			}
			if resp.Status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("daemon is %s", res.Status)
			}
			return nil
		},
	}

	cmd.Flags().Duration("timeout", 3*time.Second, "probe timeout")
	return cmd
}
