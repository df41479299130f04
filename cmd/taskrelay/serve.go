package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Nyukimin/taskrelay/internal/adapter/httpapi"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := httpapi.NewServer(a.orch, httpapi.Options{
				CORSOrigins:      a.cfg.Server.CORSOrigins,
				ProgressInterval: a.cfg.Progress.Interval,
				OpenSink:         a.sinks.Open,
				Checker:          a.checker,
			})

			addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
			return srv.Run(ctx, addr)
		},
	}
}
