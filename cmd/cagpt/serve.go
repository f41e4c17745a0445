package main

import (
	"github.com/iamvkosarev/ca-study-chat/internal/app"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		address    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serves the HTTP API used by the web client: JSON commands and a Server-Sent Events stream of snapshots.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.HTTP.Address = address
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			return app.RunHTTP(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&address, "address", "a", "", "address to listen on, overrides http.address")
	return cmd
}
