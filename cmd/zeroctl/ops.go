package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/zerolink/internal/client"
	"github.com/danmuck/zerolink/internal/protocol/ops"
	"github.com/spf13/cobra"
)

type loginResult struct {
	SessionID string    `json:"session_id" yaml:"session_id"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

type roundStartResult struct {
	RoundID   string    `json:"round_id" yaml:"round_id"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
}

type roundEndResult struct {
	RoundID string    `json:"round_id" yaml:"round_id"`
	EndedAt time.Time `json:"ended_at" yaml:"ended_at"`
}

type sentResult struct {
	Op     string `json:"op" yaml:"op"`
	Status string `json:"status" yaml:"status"`
}

func newLoginCmd(a *app) *cobra.Command {
	var req ops.LoginRequest
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a player session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Login(ctx, req)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			return a.print(cmd, loginResult{SessionID: resp.SessionID, ExpiresAt: resp.Expires().UTC()})
		},
	}
	cmd.Flags().StringVar(&req.PlayerID, "player", "", "player id (max 16 bytes)")
	cmd.Flags().StringVar(&req.Version, "version", "1.0.0", "client version (max 16 bytes)")
	_ = cmd.MarkFlagRequired("player")
	return cmd
}

func newRoundCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "round",
		Short: "Start or end a round",
	}

	var start ops.RoundStartRequest
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Announce a new round in an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.RoundStart(ctx, start)
			if err != nil {
				return fmt.Errorf("round start: %w", err)
			}
			return a.print(cmd, roundStartResult{RoundID: resp.RoundID, StartedAt: time.Unix(resp.StartedAt, 0).UTC()})
		},
	}
	startCmd.Flags().StringVar(&start.InstanceID, "instance", "", "instance id")
	startCmd.Flags().StringVar(&start.RoundType, "type", "", "round type")
	startCmd.Flags().StringVar(&start.MapName, "map", "", "map name")
	_ = startCmd.MarkFlagRequired("instance")
	_ = startCmd.MarkFlagRequired("type")

	var (
		end      ops.RoundEndRequest
		duration time.Duration
	)
	endCmd := &cobra.Command{
		Use:   "end",
		Short: "Close a round with its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration < 0 {
				return fmt.Errorf("--duration must not be negative")
			}
			end.Duration = uint32(duration / time.Second)
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.RoundEnd(ctx, end)
			if err != nil {
				return fmt.Errorf("round end: %w", err)
			}
			return a.print(cmd, roundEndResult{RoundID: end.RoundID, EndedAt: time.Unix(resp.EndedAt, 0).UTC()})
		},
	}
	endCmd.Flags().StringVar(&end.RoundID, "round", "", "round id from round start")
	endCmd.Flags().BoolVar(&end.Survived, "survived", false, "player survived the round")
	endCmd.Flags().DurationVar(&duration, "duration", 0, "round duration (whole seconds are sent)")
	endCmd.Flags().Float32Var(&end.DamageDealt, "damage", 0, "damage dealt")
	endCmd.Flags().StringVar(&end.TerrorName, "terror", "", "terror name")
	_ = endCmd.MarkFlagRequired("round")

	cmd.AddCommand(startCmd, endCmd)
	return cmd
}

func newStateCmd(a *app) *cobra.Command {
	var state ops.PlayerState
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Send a fire-and-forget player state update",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.UpdatePlayerState(ctx, state); err != nil {
				return fmt.Errorf("update player state: %w", err)
			}
			return a.print(cmd, sentResult{Op: "update_player_state", Status: "sent"})
		},
	}
	cmd.Flags().StringVar(&state.InstanceID, "instance", "", "instance id")
	cmd.Flags().StringVar(&state.PlayerID, "player", "", "player id")
	cmd.Flags().Float32Var(&state.Velocity, "velocity", 0, "current velocity")
	cmd.Flags().Float32Var(&state.AFKDuration, "afk", 0, "seconds idle")
	cmd.Flags().Float32Var(&state.Damage, "damage", 0, "damage taken")
	cmd.Flags().BoolVar(&state.IsAlive, "alive", true, "player is alive")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("player")
	return cmd
}

type pingResult struct {
	Addr string        `json:"addr" yaml:"addr"`
	RTT  time.Duration `json:"rtt" yaml:"rtt"`
}

func newPingCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect and wait for one heartbeat exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			cfg := a.cfg
			cfg.Session.HeartbeatInterval = interval
			cfg.Session.SessionDeadAfter = 0

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Session.RequestTimeout)
			defer cancel()
			c, err := client.Dial(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			conn := c.Conn()
			since := conn.LastHeartbeat()
			ticker := time.NewTicker(5 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return fmt.Errorf("ping: no heartbeat from %s: %w", conn.Addr(), ctx.Err())
				case <-conn.Done():
					return fmt.Errorf("ping: connection closed: %w", conn.Err())
				case <-ticker.C:
					if last := conn.LastHeartbeat(); last.After(since) {
						// the first ping leaves one interval after connect
						rtt := max(last.Sub(since)-interval, 0)
						return a.print(cmd, pingResult{Addr: conn.Addr(), RTT: rtt})
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 50*time.Millisecond, "delay before the ping is sent")
	return cmd
}
