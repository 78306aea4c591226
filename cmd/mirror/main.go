package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mirror "github.com/drpcorg/mirror"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	cfg   mirror.EnvConfig
	types []string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Passive mirror of an authority's structured state",
		Long: `Receives command batches from an authority over TCP, applies them to an
in-memory store and keeps a journal of everything received.

Settings come from MIRROR_* environment variables; flags override them.

Example:
  mirror run --listen tcp://:8042 --type 1=unit:iis --journal ./journal
  mirror shell --connect tcp://authority:8042 --type 1=unit:iis`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := mirror.ParseEnv()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("name") {
				cfg.Name = opts.cfg.Name
			}
			if flags.Changed("journal") {
				cfg.JournalDir = opts.cfg.JournalDir
			}
			if flags.Changed("listen") {
				cfg.Listen = opts.cfg.Listen
			}
			if flags.Changed("connect") {
				cfg.Connect = opts.cfg.Connect
			}
			if flags.Changed("metrics") {
				cfg.MetricsAddr = opts.cfg.MetricsAddr
			}
			if flags.Changed("type") {
				cfg.Types = opts.types
			}
			opts.cfg = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfg.Name, "name", "mirror", "mirror name for logs and metrics")
	flags.StringVar(&opts.cfg.JournalDir, "journal", "", "journal directory, empty disables the journal")
	flags.StringSliceVar(&opts.cfg.Listen, "listen", nil, "addresses to accept authorities on")
	flags.StringSliceVar(&opts.cfg.Connect, "connect", nil, "authority addresses to dial")
	flags.StringVar(&opts.cfg.MetricsAddr, "metrics", "", "HTTP address for /metrics and the control API")
	flags.StringArrayVar(&opts.types, "type", nil, "container type as tag=name:layout, repeatable")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newShellCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the mirror until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			d, err := openDaemon(ctx, opts.cfg)
			if err != nil {
				return err
			}
			<-ctx.Done()
			return d.Close()
		},
	}
}

func newShellCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run the mirror with an interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDaemon(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer d.Close()
			repl := &REPL{daemon: d, out: cmd.OutOrStdout()}
			if err := repl.Open(); err != nil {
				return err
			}
			defer repl.Close()
			return repl.Loop()
		},
	}
}

func newReplayCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the state from a journal and print its digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.JournalDir == "" {
				return fmt.Errorf("replay needs --journal")
			}
			cfg := opts.cfg
			cfg.Listen, cfg.Connect, cfg.MetricsAddr = nil, nil, ""
			d, err := openDaemon(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()
			printDigest(cmd.OutOrStdout(), d.mirror)
			return nil
		},
	}
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
