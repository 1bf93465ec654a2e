package cmd

import (
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/dshills/logsift/internal/pipeline"
	"github.com/dshills/logsift/pkg/types"
)

func newParseCmd(a *app) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "parse FILE...",
		Short: "Parse log files into templates and index them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, shutdown, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer shutdown()

			ctx := cmd.Context()
			files := make([]types.UploadedFile, 0, len(args))
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return errors.Wrapf(err, "failed to resolve %s", arg)
				}
				files = append(files, types.UploadedFile{
					InternalName: filepath.Base(path),
					Path:         path,
					OriginalName: filepath.Base(path),
					UploadedAt:   time.Now(),
				})
			}

			outcomes, err := p.ScheduleFiles(ctx, project, files)
			if err != nil {
				return err
			}
			p.Wait()

			added, err := indexParsed(cmd, p, project, files)
			if err != nil {
				return err
			}

			status, err := p.Status(project)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"outcomes": outcomes,
				"added":    added,
				"status":   status,
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// indexParsed indexes files left in the parsed state, covering auto_index=false
func indexParsed(cmd *cobra.Command, p *pipeline.Pipeline, project string, files []types.UploadedFile) (int, error) {
	states, err := p.ReadStatus(project)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, f := range files {
		st, ok := states[f.OriginalName]
		if !ok || st.State != types.StateParsed {
			continue
		}
		n, err := p.IndexFile(cmd.Context(), project, f.OriginalName)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
