package main

import (
	"fmt"

	"github.com/danmuck/zerolink/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write config templates or show the effective client config",
	}

	var (
		kind  string
		path  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template populated with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(path, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", config.KindClient, "config kind: client|responder")
	initCmd.Flags().StringVar(&path, "path", "zeroctl.toml", "output path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the client config after file and flag overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.RenderClient(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
