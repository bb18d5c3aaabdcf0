package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/zerolink/internal/config"
	"github.com/danmuck/zerolink/internal/logging"
	"github.com/danmuck/zerolink/internal/node"
	"github.com/danmuck/zerolink/internal/responder"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var (
		cfgFile     string
		listen      string
		printConfig bool
	)
	cmd := &cobra.Command{
		Use:           "zerod",
		Short:         "Reference Protocol ZERO responder",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()

			cfg := config.DefaultResponder()
			if path := strings.TrimSpace(cfgFile); path != "" {
				loaded, err := config.LoadResponderConfig(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if addr := strings.TrimSpace(listen); addr != "" {
				cfg.Server.ListenAddr = addr
			}
			if printConfig {
				out, err := config.RenderResponder(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "responder config file (TOML)")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides listen_addr")
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective config and exit")
	return cmd
}

func run(ctx context.Context, cfg config.Responder) error {
	gin.SetMode(gin.ReleaseMode)
	handler := responder.NewMemoryHandler(responder.WithSessionTTL(cfg.SessionTTL))
	srv, err := responder.NewServer(cfg.Server, handler)
	if err != nil {
		return err
	}
	log.Info().Str("node", node.Describe(srv)).Str("listen", cfg.Server.ListenAddr).Msg("zerod start")
	return srv.Serve(ctx, cfg.Server.ListenAddr)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
