package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/config"
	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/internal/pipeline"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// app carries state shared by subcommands once the root pre-run has loaded it
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	log        *zap.SugaredLogger
}

// NewRootCmd builds the logsift command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "logsift",
		Short:         "logsift: log template mining and semantic search",
		Long:          "Parse uploaded log files into templates, index them and search by meaning.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ./logsift.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newParseCmd(a),
		newStatusCmd(a),
		newSearchCmd(a),
		newIndexCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	return nil
}

// openPipeline builds the pipeline and returns a shutdown func for defer
func (a *app) openPipeline() (*pipeline.Pipeline, func(), error) {
	p, err := pipeline.FromConfig(a.cfg, a.log)
	if err != nil {
		return nil, nil, err
	}
	return p, func() {
		if err := p.Shutdown(context.Background()); err != nil {
			a.log.Warnw("Shutdown failed", logging.FieldError, err)
		}
		_ = a.log.Sync()
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
