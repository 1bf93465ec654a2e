package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dshills/logsift/internal/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, shutdown, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer shutdown()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			errChan := make(chan error, 1)
			go func() {
				errChan <- mcp.NewServer(p, a.log).Serve(ctx)
			}()

			select {
			case <-ctx.Done():
				a.log.Infow("Received signal, shutting down")
				return nil
			case err := <-errChan:
				return err
			}
		},
	}
}
