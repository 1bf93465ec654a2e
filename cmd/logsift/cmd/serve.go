package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/logsift/internal/api"
	"github.com/dshills/logsift/internal/watcher"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, watchDir, watchProject string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			if watchDir == "" {
				watchDir = a.cfg.Watch.Dir
			}
			if watchProject == "" {
				watchProject = a.cfg.Watch.Project
			}

			p, shutdown, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer shutdown()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			srv := api.NewServer(addr, p, a.log)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer scancel()
				return srv.Shutdown(sctx)
			})

			if watchDir != "" {
				w, err := watcher.New(watcher.Options{
					Dir:          watchDir,
					Project:      watchProject,
					Debounce:     a.cfg.Watch.Debounce,
					ScanExisting: a.cfg.Watch.ScanExisting,
				}, p, a.log)
				if err != nil {
					cancel()
					_ = g.Wait()
					return err
				}
				g.Go(func() error { return w.Run(gctx) })
			}

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: http.addr)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "also watch this upload directory")
	cmd.Flags().StringVar(&watchProject, "project", "", "project for watched uploads")
	return cmd
}
