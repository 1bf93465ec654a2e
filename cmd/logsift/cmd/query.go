package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-file processing state for a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, shutdown, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer shutdown()

			status, err := p.Status(project)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		project string
		topK    int
	)
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search indexed templates by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, shutdown, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer shutdown()

			results, err := p.Search(cmd.Context(), project, strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default: search.top_k)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newIndexCmd(a *app) *cobra.Command {
	var project, name string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index templates of an already parsed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, shutdown, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer shutdown()

			added, err := p.IndexFile(cmd.Context(), project, name)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"added": added})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name")
	cmd.Flags().StringVar(&name, "name", "", "original file name as recorded in the ledger")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
