// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jothanjoseph26-ctrl/election/recordserver"
	"github.com/jothanjoseph26-ctrl/election/remote"
	"github.com/spf13/cobra"
)

func (a *app) recordConfig() *recordserver.Config {
	cfg := recordserver.DefaultConfig()
	cfg.DatabaseURL = a.cfg.Server.DatabaseURL
	cfg.JWTSecret = a.cfg.Server.JWTSecret
	cfg.LogRequests = a.cfg.Server.LogRequests
	if a.cfg.Server.MaxConns > 0 {
		cfg.MaxConns = a.cfg.Server.MaxConns
	}
	cfg.Logger = a.logger
	return cfg
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the record server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := recordserver.Setup(ctx, a.recordConfig())
			if err != nil {
				return fmt.Errorf("failed to set up record server: %w", err)
			}
			defer srv.Close()

			httpServer := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           srv.Handler,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       60 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Starting record server", "addr", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("record server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down record server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("record server forced to shutdown: %w", err)
			}
			a.logger.Info("Record server exited")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	cmd.Flags().String("database-url", "", "Postgres connection URL")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for device tokens")
	return cmd
}

func (a *app) serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Administer the record server database",
	}
	cmd.PersistentFlags().String("database-url", "", "Postgres connection URL")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Drop all record tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("refusing to drop schema %s without --yes", recordserver.SchemaName)
			}
			if err := recordserver.ResetDatabase(cmd.Context(), a.cfg.Server.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✓ Dropped schema %s\n", recordserver.SchemaName)
			return nil
		},
	}
	reset.Flags().Bool("yes", false, "confirm dropping all record data")

	agent := &cobra.Command{
		Use:   "agent",
		Short: "Create or update an agent profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ag remote.Agent
			ag.ID, _ = cmd.Flags().GetString("id")
			ag.FullName, _ = cmd.Flags().GetString("name")
			ag.PhoneNumber, _ = cmd.Flags().GetString("phone")
			ag.WardName, _ = cmd.Flags().GetString("ward-name")
			ag.WardNumber, _ = cmd.Flags().GetString("ward-number")
			ag.VerificationStatus, _ = cmd.Flags().GetString("verification")
			ag.PaymentStatus, _ = cmd.Flags().GetString("payment")

			return a.withRecordService(cmd.Context(), func(ctx context.Context, svc *recordserver.Service) error {
				if err := svc.UpsertAgent(ctx, ag); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "✓ Saved agent %s: %s\n", ag.ID, ag.FullName)
				return nil
			})
		},
	}
	agent.Flags().String("id", "", "agent id (required)")
	agent.Flags().String("name", "", "full name (required)")
	agent.Flags().String("phone", "", "phone number")
	agent.Flags().String("ward-name", "", "ward name")
	agent.Flags().String("ward-number", "", "ward number")
	agent.Flags().String("verification", "", "verification status (default pending)")
	agent.Flags().String("payment", "", "payment status (default unpaid)")

	broadcast := &cobra.Command{
		Use:   "broadcast [message]",
		Short: "Send a broadcast to all agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, _ := cmd.Flags().GetString("priority")
			sender, _ := cmd.Flags().GetString("sender")

			return a.withRecordService(cmd.Context(), func(ctx context.Context, svc *recordserver.Service) error {
				b, err := svc.CreateBroadcast(ctx, remote.Broadcast{Message: args[0], Priority: priority, SenderID: sender})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "✓ Created broadcast %s (%s)\n", b.ID, b.Priority)
				return nil
			})
		},
	}
	broadcast.Flags().String("priority", "normal", "low, normal, high or urgent")
	broadcast.Flags().String("sender", "", "sender id")

	cmd.AddCommand(reset, agent, broadcast)
	return cmd
}

func (a *app) withRecordService(ctx context.Context, fn func(context.Context, *recordserver.Service) error) error {
	cfg := a.recordConfig()
	cfg.MaxConns, cfg.MinConns = 2, 0
	srv, err := recordserver.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to record database: %w", err)
	}
	defer srv.Close()
	return fn(ctx, srv.Service)
}

func (a *app) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a device token signed with the server secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			device, _ := cmd.Flags().GetString("device")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			agentID := a.cfg.Agent.ID
			if agentID == "" {
				return fmt.Errorf("--agent is required")
			}
			if device == "" {
				device = a.cfg.Agent.DeviceID
			}
			if device == "" {
				return fmt.Errorf("--device is required")
			}
			if a.cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is required (flag --jwt-secret, env %s_SERVER_JWT_SECRET)", EnvPrefix)
			}

			tok, err := remote.NewJWTAuth(a.cfg.Server.JWTSecret).GenerateToken(agentID, device, ttl)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(a.out, tok)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "agent id (token subject)")
	cmd.Flags().String("device", "", "device id")
	cmd.Flags().String("jwt-secret", "", "HS256 secret shared with the server")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
