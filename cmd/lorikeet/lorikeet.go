package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lorikeet-ai/lorikeet/internal/lorikeet"
	"github.com/lorikeet-ai/lorikeet/internal/lorikeet/options"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := options.NewOptions()
	var cfgFile string

	cmd := &cobra.Command{
		Use:          lorikeet.AppName,
		Short:        "lorikeet conversational agent platform",
		Long:         `The lorikeet core runtime: message bus, plugin registry, unified scheduler, three-tier memory, and reply generation behind a WebSocket/HTTP adapter boundary.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(opts, cfgFile, cmd.Flags())
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfgFile, "config", "c", "", "Path to the configuration file.")
	opts.AddFlags(fs)
	return cmd
}

func run(opts *options.Options, cfgFile string, fs *pflag.FlagSet) error {
	if cfgFile != "" {
		// Explicitly set flags win over the config file.
		changed := map[string]string{}
		fs.Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })
		if err := opts.LoadConfigFile(cfgFile); err != nil {
			return fmt.Errorf("load config %q: %w", cfgFile, err)
		}
		for name, val := range changed {
			if err := fs.Set(name, val); err != nil {
				return err
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := lorikeet.NewApplication(ctx, opts)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
