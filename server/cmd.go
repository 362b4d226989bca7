package server

import (
	"github.com/spf13/cobra"

	"github.com/aep/healthdesk/config"
)

var CMD = &cobra.Command{
	Use:   "server",
	Short: "Run the healthdesk API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return Main(cmd.Context(), config.Current)
	},
}

func init() {
	CMD.Flags().StringVar(&config.Current.Addr, "addr", config.Current.Addr, "API listen address")
	CMD.Flags().StringVar(&config.Current.StatsAddr, "stats-addr", config.Current.StatsAddr, "Listen address for /healthz and /metrics")
	CMD.Flags().StringVar(&config.Current.TLS.CA, "ca-cert", "", "Path to CA certificate file for client verification (enables mTLS)")
	CMD.Flags().StringVar(&config.Current.TLS.Cert, "server-cert", "", "Path to server certificate file")
	CMD.Flags().StringVar(&config.Current.TLS.Key, "server-key", "", "Path to server private key file")
}
