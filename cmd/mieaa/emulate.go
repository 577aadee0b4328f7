package main

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/mieaa/config"
	"github.com/mohammad-safakhou/mieaa/internal/emulator"
	"github.com/mohammad-safakhou/mieaa/internal/logger"
	"github.com/spf13/cobra"
)

func emulateCMD(cfgPath *string) *cobra.Command {
	var addr string
	var cmd = &cobra.Command{
		Use:   "emulate",
		Short: "Serve a local emulation of the miEAA API",
		Long: "Serve a local emulation of the miEAA API for offline use and testing.\n" +
			"Point api.root_url at http://ADDR/api/ to use it.",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer log.Sync()
			if addr == "" {
				addr = cfg.Emulator.Address
			}

			srv := emulator.New(emulator.Options{Logger: log})
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			return srv.Start(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default emulator.address)")
	return cmd
}
