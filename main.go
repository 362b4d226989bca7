package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cl "github.com/aep/healthdesk/client"
	"github.com/aep/healthdesk/config"
	"github.com/aep/healthdesk/kv"
	kvcmd "github.com/aep/healthdesk/kv/cmd"
	"github.com/aep/healthdesk/mkmtls"
	sr "github.com/aep/healthdesk/server"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "healthdesk",
	Short:         "Health-sector admin records: API server and client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd.Flags())
	},
}

// loadConfig reads the configuration file into config.Current. Flags given
// on the command line are bound to config.Current as well and win over the
// file, so they are applied again afterwards.
func loadConfig(flags *pflag.FlagSet) error {
	changed := map[*pflag.Flag]string{}
	flags.Visit(func(f *pflag.Flag) {
		changed[f] = f.Value.String()
	})

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	config.Current = cfg

	for f, v := range changed {
		if err := f.Value.Set(v); err != nil {
			return fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	}

	logger := config.Current.Log.Logger()
	slog.SetDefault(logger)
	kv.SetLogger(logger)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("HEALTHDESK_CONFIG"), "path to the YAML configuration file")

	rootCmd.AddCommand(sr.CMD)
	rootCmd.AddCommand(kvcmd.CMD)
	rootCmd.AddCommand(mkmtls.CMD)
	cl.RegisterCommands(rootCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
