package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/zerolink/internal/client"
	"github.com/danmuck/zerolink/internal/config"
	"github.com/danmuck/zerolink/internal/logging"
	"github.com/spf13/cobra"
)

// app holds state shared by subcommands after PersistentPreRunE.
type app struct {
	cfgFile string
	addr    string
	token   string
	timeout time.Duration
	output  string

	cfg       client.Config
	formatter Formatter
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "zeroctl",
		Short: "Protocol ZERO client: login, rounds and player state",
		Long: `zeroctl speaks Protocol ZERO to a responder over WebSocket.
Each invocation opens one session, performs one operation and closes it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "client config file (TOML)")
	root.PersistentFlags().StringVar(&a.addr, "addr", "", "responder address, e.g. ws://127.0.0.1:7420/ws")
	root.PersistentFlags().StringVar(&a.token, "token", "", "bearer token for the responder (default from config)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "per-request timeout (default from config)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "output format: text, json, yaml")

	root.AddCommand(
		newLoginCmd(a),
		newRoundCmd(a),
		newStateCmd(a),
		newPingCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg := config.DefaultClient()
	if path := strings.TrimSpace(a.cfgFile); path != "" {
		loaded, err := config.LoadClientConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if addr := strings.TrimSpace(a.addr); addr != "" {
		cfg.Address = addr
	}
	if token := strings.TrimSpace(a.token); token != "" {
		cfg.AuthToken = token
	}
	if a.timeout > 0 {
		cfg.Session.RequestTimeout = a.timeout
	}
	formatter, err := NewFormatter(a.output)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.formatter = formatter
	return nil
}

// dial opens a session without heartbeats; one-shot commands finish well
// inside a heartbeat period.
func (a *app) dial(ctx context.Context) (*client.Client, error) {
	cfg := a.cfg
	cfg.Session.HeartbeatInterval = 0
	cfg.Session.SessionDeadAfter = 0
	return client.Dial(ctx, cfg)
}

func (a *app) print(cmd *cobra.Command, v any) error {
	out, err := a.formatter.Format(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}
