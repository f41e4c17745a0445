package main

import (
	"github.com/iamvkosarev/ca-study-chat/internal/app"
	"github.com/spf13/cobra"
)

func newTelegramCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Start the Telegram bot",
		Long:  "Runs the Telegram bot. Every Telegram chat gets its own chat view.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			return app.RunTelegram(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}
