package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/INLOpen/cmip6kit/config"
	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/merge"
	"github.com/INLOpen/cmip6kit/ncfile"
	_ "github.com/INLOpen/cmip6kit/ncfile/netcdf4"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/term"
)

// app carries what every subcommand needs. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	stdin  io.Reader
	stdout io.Writer

	configPath string
	logLevel   string

	cfg      *config.Config
	logger   *slog.Logger
	console  *logging.Console
	tracer   trace.Tracer
	closers  []func()
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cmip6",
		Short:         "Maintain a local CMIP6 archive",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	cmd.SetOut(a.stdout)
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "cmip6kit.yaml", "Path to the configuration file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newCheckCmd(a),
		newCombineCmd(a),
		newTrimLeadingCmd(a),
		newDedupeCmd(a),
		newPromoteCmd(a),
		newEmptyDirsCmd(a),
		newCountCmd(a),
		newConfirmSingleCmd(a),
		newDownloadFileCmd(a),
		newDownloadDatasetCmd(a),
		newRecoverCmd(a),
	)
	return cmd
}

func (a *app) setup() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if closer != nil {
		a.closers = append(a.closers, func() { closer.Close() })
	}
	slog.SetDefault(logger)

	tp, cleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer provider: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.tracer = tp.Tracer("github.com/INLOpen/cmip6kit")

	a.cfg = cfg
	a.logger = logger
	a.console = logging.NewConsole(a.stdout)
	logger.Debug("Configuration loaded", "path", a.configPath, "root", cfg.Archive.Root)
	return nil
}

// shutdown releases resources in reverse order of acquisition.
func (a *app) shutdown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// interactive reports whether stdin is a terminal an operator can answer on.
func (a *app) interactive() bool {
	f, ok := a.stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// mergeEngine builds an Engine from the merge and archive sections.
func (a *app) mergeEngine(dryRun bool) (*merge.Engine, error) {
	codec, err := core.ParseCompressionType(a.cfg.Merge.Codec)
	if err != nil {
		return nil, err
	}
	format, err := ncfile.Lookup(a.cfg.Merge.Format)
	if err != nil {
		return nil, err
	}
	level := 0
	if codec == core.CompressionZSTD {
		level = a.cfg.Merge.ZstdLevel
	}
	return merge.NewEngine(merge.Options{
		Format:     format,
		Codec:      codec,
		CodecLevel: level,
		Layout: merge.Layout{
			MinDeflateLevel: a.cfg.Merge.MinDeflateLevel,
			ChunkOverrides:  a.cfg.Merge.ChunkOverrides,
		},
		DryRun:       dryRun,
		Console:      a.console,
		Logger:       a.logger,
		Tracer:       a.tracer,
		StagingDir:   config.ExpandHome(a.cfg.Archive.StagingDir),
		LockTimeout:  config.ParseDuration(a.cfg.Archive.LockTimeout, defaultLockTimeout, a.logger),
		MinFreeBytes: a.cfg.Merge.MinFreeBytes,
	}), nil
}
