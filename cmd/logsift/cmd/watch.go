package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dshills/logsift/internal/watcher"
)

func newWatchCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Schedule log files as they appear in an upload directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" {
				project = a.cfg.Watch.Project
			}
			p, shutdown, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer shutdown()

			w, err := watcher.New(watcher.Options{
				Dir:          args[0],
				Project:      project,
				Debounce:     a.cfg.Watch.Debounce,
				ScanExisting: a.cfg.Watch.ScanExisting,
			}, p, a.log)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name (default: watch.project)")
	return cmd
}
