// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the fieldsync command line: the record server and
// the device agent.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags to configuration keys. Flags override
// environment and file values when set.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"database-url": "server.database_url",
	"addr":         "server.addr",
	"jwt-secret":   "server.jwt_secret",
	"agent":        "agent.id",
	"device":       "agent.device_id",
	"db":           "agent.db_path",
	"remote":       "agent.remote_url",
	"token":        "agent.token",
}

// app carries state shared by all commands of one invocation
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *AppConfig
	logger     *slog.Logger
	logCloser  io.Closer
	out        io.Writer
	errOut     io.Writer
}

// NewRootCmd builds the fieldsync command tree writing to out and errOut
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "fieldsync",
		Short: "Offline-first field report capture and sync",
		Long: `fieldsync captures field reports on a device while offline and delivers
them to the record server when connectivity returns.

Configuration is read from fieldsync.yaml, FIELDSYNC_* environment variables
and flags, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./fieldsync.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text, json")
	pf.String("log-file", "", "write logs to this file with rotation")

	root.AddCommand(a.serveCmd())
	root.AddCommand(a.serverCmd())
	root.AddCommand(a.agentCmd())
	root.AddCommand(a.tokenCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	cfg, err := LoadConfig(a.v, a.configPath)
	if err != nil {
		return err
	}
	logger, closer, err := NewLogger(cfg.Log, a.errOut)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.logCloser = cfg, logger, closer
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
