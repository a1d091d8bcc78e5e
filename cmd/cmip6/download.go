package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/cmip6kit/config"
	"github.com/INLOpen/cmip6kit/esgf"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/recovery"
	"github.com/spf13/cobra"
)

func (a *app) clientOptions() esgf.ClientOptions {
	return esgf.ClientOptions{
		SearchNode:  a.cfg.Download.SearchNode,
		IgnoreHosts: a.cfg.Download.IgnoreHosts,
		Logger:      a.logger,
	}
}

func (a *app) downloaderOptions() esgf.DownloaderOptions {
	return esgf.DownloaderOptions{
		Timeout:    config.ParseDuration(a.cfg.Download.Timeout, 5*time.Second, a.logger),
		Attempts:   uint(a.cfg.Download.Attempts),
		RetryDelay: config.ParseDuration(a.cfg.Download.RetryDelay, 5*time.Second, a.logger),
		Logger:     a.logger,
	}
}

func (a *app) fetcher() *esgf.Fetcher {
	return esgf.NewFetcher(esgf.FetcherOptions{
		Client:     esgf.NewClient(a.clientOptions()),
		Downloader: esgf.NewDownloader(a.downloaderOptions()),
		TempDir:    config.ExpandHome(a.cfg.Archive.StagingDir),
		Console:    a.console,
		Logger:     a.logger,
		Tracer:     a.tracer,
	})
}

func newDownloadFileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download-file <path/to/dataset/file.nc>",
		Short: "Download one file of a dataset from the first replica that verifies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if filepath.Ext(path) != ".nc" {
				return fmt.Errorf("%s is not a netCDF file", path)
			}
			dir, name := filepath.Split(filepath.Clean(path))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			_, err := a.fetcher().FetchFile(cmd.Context(), filepath.Clean(dir), name)
			return err
		},
	}
}

func newDownloadDatasetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download-dataset <path/to/dataset>",
		Short: "Download every catalogued file missing from a dataset directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := filepath.Clean(args[0])
			if filepath.Ext(dir) == ".nc" {
				return fmt.Errorf("%s is a file; pass the dataset directory", dir)
			}
			sum, err := a.fetcher().FetchMissing(cmd.Context(), dir)
			if err != nil {
				return err
			}
			if len(sum.Failed) > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d files could not be downloaded", len(sum.Failed))}
			}
			return nil
		},
	}
}

type recoverOptions struct {
	variable  string
	workers   int
	reportDir string
	noBackup  bool
}

func newRecoverCmd(a *app) *cobra.Command {
	var opts recoverOptions
	cmd := &cobra.Command{
		Use:   "recover <status.db> <data-dir>",
		Short: "Re-fetch the files a bulk download left in the error state",
		Long: "Recover reads the files with status Error from the download status database, " +
			"fetches them in parallel into <data-dir>/<local_path> and marks them Done. " +
			"<data-dir> must contain the CMIP6 directory.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := args[1]
			if info, err := os.Stat(filepath.Join(dataDir, "CMIP6")); err != nil || !info.IsDir() {
				return fmt.Errorf("no CMIP6 directory in %s", dataDir)
			}
			workers := opts.workers
			if workers <= 0 {
				workers = a.cfg.Download.Workers
			}
			pool := recovery.NewPool(recovery.PoolOptions{
				DBPath:     args[0],
				DataDir:    dataDir,
				Variable:   opts.variable,
				Workers:    workers,
				Client:     a.clientOptions(),
				Downloader: a.downloaderOptions(),
				TempDir:    config.ExpandHome(a.cfg.Archive.StagingDir),
				ReportDir:  opts.reportDir,
				SkipBackup: opts.noBackup,
				Console:    a.console,
				Logger:     a.logger,
				Tracer:     a.tracer,
			})
			a.console.Printf(logging.SeverityInfo, "Using database: %s", args[0])
			sum, err := pool.Recover(cmd.Context())
			if err != nil {
				return err
			}
			if sum.UnfixedFile != "" {
				a.console.Printf(logging.SeverityWarn, "Unfixed master ids written to %s", sum.UnfixedFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.variable, "variable", "v", "", "Only recover files of this variable")
	cmd.Flags().IntVarP(&opts.workers, "workers", "n", 0, "Parallel workers (defaults to download.workers)")
	cmd.Flags().StringVar(&opts.reportDir, "report-dir", ".", "Directory for the unfixed master id list")
	cmd.Flags().BoolVar(&opts.noBackup, "no-backup", false, "Do not back up the database first")
	return cmd
}
