// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jothanjoseph26-ctrl/election/fieldstore"
	"github.com/jothanjoseph26-ctrl/election/fieldsync"
	"github.com/jothanjoseph26-ctrl/election/netmon"
	"github.com/jothanjoseph26-ctrl/election/remote"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

// agentRuntime wires the device components for one command
type agentRuntime struct {
	store   *fieldstore.Store
	monitor *netmon.Monitor
	prober  *netmon.Prober
	client  *remote.Client
	orch    *fieldsync.Orchestrator
}

func (rt *agentRuntime) Close() {
	rt.orch.Stop()
	_ = rt.store.Close()
}

func (a *app) openAgent(ctx context.Context) (*agentRuntime, error) {
	cfg := a.cfg.Agent
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	storeCfg := fieldstore.DefaultConfig(cfg.DBPath)
	if cfg.MaxAttempts > 0 {
		storeCfg.MaxAttempts = cfg.MaxAttempts
	}
	storeCfg.Logger = a.logger
	store, err := fieldstore.Open(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	client, err := remote.NewClient(cfg.RemoteURL, a.tokenSource(), a.logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	monitor := netmon.NewMonitor(a.logger)
	proberCfg := netmon.DefaultProberConfig(cfg.healthURL())
	if cfg.ProbeInterval > 0 {
		proberCfg.Interval = cfg.ProbeInterval
	}
	if cfg.ProbeTimeout > 0 {
		proberCfg.Timeout = cfg.ProbeTimeout
	}
	proberCfg.Logger = a.logger
	prober, err := netmon.NewProber(monitor, proberCfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	syncCfg := fieldsync.DefaultConfig(cfg.ID)
	syncCfg.Interval = cfg.SyncInterval
	syncCfg.CallTimeout = cfg.CallTimeout
	syncCfg.BroadcastLimit = cfg.BroadcastLimit
	syncCfg.RetentionDays = cfg.RetentionDays
	syncCfg.PurgeInterval = cfg.PurgeInterval
	syncCfg.LogStageTimings = a.cfg.Log.Level == "debug"
	syncCfg.Logger = a.logger
	// The global provider is a no-op until a host process installs one.
	rec, err := fieldsync.NewOTelStageRecorder(otel.GetMeterProvider().Meter("fieldsync"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	syncCfg.StageMetrics = rec
	orch, err := fieldsync.New(store, client, monitor, syncCfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &agentRuntime{store: store, monitor: monitor, prober: prober, client: client, orch: orch}, nil
}

// tokenSource prefers a static token and falls back to minting with a shared
// secret. Without either, remote calls fail and local commands still work.
func (a *app) tokenSource() func(context.Context) (string, error) {
	cfg := a.cfg.Agent
	switch {
	case cfg.Token != "":
		return remote.StaticToken(cfg.Token)
	case cfg.JWTSecret != "":
		device := cfg.DeviceID
		if device == "" {
			device = defaultDeviceID()
		}
		return remote.NewJWTAuth(cfg.JWTSecret).TokenSource(cfg.ID, device, cfg.TokenTTL)
	default:
		return func(context.Context) (string, error) {
			return "", fmt.Errorf("no credentials: set agent.token or agent.jwt_secret")
		}
	}
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "device-unknown"
	}
	return "device-" + host
}

// runAgent opens the runtime, runs fn and closes the runtime
func (a *app) runAgent(cmd *cobra.Command, fn func(ctx context.Context, rt *agentRuntime) error) error {
	ctx := cmd.Context()
	rt, err := a.openAgent(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func (a *app) agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Capture and sync reports on this device",
	}
	pf := cmd.PersistentFlags()
	pf.String("agent", "", "agent id")
	pf.String("device", "", "device id (default device-<hostname>)")
	pf.String("db", "", "local SQLite database path")
	pf.String("remote", "", "record server base URL")
	pf.String("token", "", "bearer token for the record server")

	cmd.AddCommand(
		a.agentRunCmd(),
		a.agentReportCmd(),
		a.agentSyncCmd(),
		a.agentStatusCmd(),
		a.agentPurgeCmd(),
		a.agentEnqueueCmd(),
		a.agentBroadcastsCmd(),
		a.agentReadCmd(),
		a.agentReviewCmd(),
		a.agentRequeueCmd(),
	)
	return cmd
}

func (a *app) agentRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Probe connectivity and sync in the background until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				probeDone := make(chan struct{})
				go func() {
					defer close(probeDone)
					rt.prober.Run(ctx)
				}()

				if err := rt.orch.Start(ctx); err != nil {
					return err
				}
				a.logger.Info("Agent running", "agent_id", a.cfg.Agent.ID, "remote", a.cfg.Agent.RemoteURL)
				<-ctx.Done()

				a.logger.Info("Stopping agent...")
				rt.orch.Stop()
				<-probeDone
				return nil
			})
		},
	}
}

func (a *app) agentReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [details]",
		Short: "Capture a report locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			if !fieldstore.ReportType(typ).Valid() {
				return fmt.Errorf("unknown --type %q", typ)
			}
			ward, _ := cmd.Flags().GetString("ward")
			in := fieldstore.ReportInput{
				AgentID:    a.cfg.Agent.ID,
				Type:       fieldstore.ReportType(typ),
				Details:    args[0],
				WardNumber: ward,
			}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				lat, _ := cmd.Flags().GetFloat64("lat")
				lng, _ := cmd.Flags().GetFloat64("lng")
				in.Lat, in.Lng = &lat, &lng
			}

			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				r, err := rt.store.SavePendingReport(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "✓ Saved report %s (%s)\n", r.ID, r.Type)
				return nil
			})
		},
	}
	cmd.Flags().String("type", string(fieldstore.ReportOther), "turnout_update, incident, emergency, material_shortage or other")
	cmd.Flags().String("ward", "", "ward number")
	cmd.Flags().Float64("lat", 0, "latitude")
	cmd.Flags().Float64("lng", 0, "longitude")
	return cmd
}

func (a *app) agentSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Probe connectivity and run one sync pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				rt.prober.CheckOnce(ctx)
				res, err := rt.orch.ForceSync(ctx)
				if errors.Is(err, fieldsync.ErrNotConnected) {
					return fmt.Errorf("record server unreachable at %s: %w", a.cfg.Agent.healthURL(), err)
				}
				if res != nil {
					if perr := a.printJSON(res); perr != nil {
						return perr
					}
					if res.Reports.Unauthorized+res.Commands.Unauthorized > 0 {
						fmt.Fprintln(a.errOut, "record server refused the device token; check agent.token or agent.jwt_secret")
					}
				}
				return err
			})
		},
	}
}

func (a *app) agentStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending counts and connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			probe, _ := cmd.Flags().GetBool("probe")
			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				if probe {
					rt.prober.CheckOnce(ctx)
				}
				st, err := rt.orch.Status(ctx)
				if err != nil {
					return err
				}
				return a.printJSON(st)
			})
		},
	}
	cmd.Flags().Bool("probe", false, "probe the record server before reporting")
	return cmd
}

func (a *app) agentPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired synced reports, caches and dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				days = a.cfg.Agent.RetentionDays
			}
			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				res, err := rt.store.PurgeExpired(ctx, days)
				if perr := a.printJSON(res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().Int("days", 0, "retention window in days (default agent.retention_days)")
	return cmd
}

func (a *app) agentEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue [type] [json-payload]",
		Short: "Queue a command for delivery",
		Long: `Queue a command for delivery on the next sync pass. Built-in types:
  report_update        {"report_id": "...", "updates": {...}}
  agent_status_update  {"agent_id": "...", "updates": {...}}
  push_token_register  {"token": "...", "platform": "android"}`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				if _, ok := rt.orch.Registry().Lookup(args[0]); !ok {
					return fmt.Errorf("unknown command type %q (known: %v)", args[0], rt.orch.Registry().Types())
				}
				qc, err := rt.orch.Enqueue(ctx, args[0], json.RawMessage(args[1]))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "✓ Queued %s command %s\n", qc.Type, qc.ID)
				return nil
			})
		},
	}
}

func (a *app) agentBroadcastsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "broadcasts",
		Short: "List cached broadcasts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				list, err := rt.store.ListCachedBroadcasts(ctx)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(a.out, "No cached broadcasts")
					return nil
				}
				w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tPRIORITY\tREAD\tCREATED\tMESSAGE")
				for _, b := range list {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", b.ID, b.Priority, b.Read, b.CreatedAt.Format(time.RFC3339), b.Message)
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) agentReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read [broadcast-id]",
		Short: "Mark a cached broadcast as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				if err := rt.store.MarkBroadcastRead(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "✓ Marked %s read\n", args[0])
				return nil
			})
		},
	}
}

func (a *app) agentReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "List reports and commands rejected by the record server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				reports, err := rt.store.ListRejectedReports(ctx)
				if err != nil {
					return err
				}
				cmds, err := rt.store.ListRejectedCommands(ctx)
				if err != nil {
					return err
				}
				if len(reports)+len(cmds) == 0 {
					fmt.Fprintln(a.out, "Nothing to review")
					return nil
				}

				w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KIND\tID\tTYPE\tATTEMPTS\tERROR")
				for _, r := range reports {
					fmt.Fprintf(w, "report\t%s\t%s\t%d\t%s\n", r.ID, r.Type, r.Attempts, deref(r.SyncError))
				}
				for _, c := range cmds {
					fmt.Fprintf(w, "command\t%s\t%s\t%d\t%s\n", c.ID, c.Type, c.Attempts, deref(c.Error))
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) agentRequeueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue [id]",
		Short: "Return a rejected report or command to delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			isCommand, _ := cmd.Flags().GetBool("command")
			return a.runAgent(cmd, func(ctx context.Context, rt *agentRuntime) error {
				var err error
				if isCommand {
					err = rt.store.RequeueCommand(ctx, args[0])
				} else {
					err = rt.store.RequeueReport(ctx, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "✓ Requeued %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().Bool("command", false, "id refers to a queued command")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
