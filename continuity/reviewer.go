package continuity

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/INLOpen/cmip6kit/internal/logging"
)

// Action is how a review ended.
type Action int

const (
	// ActionSkip leaves the dataset as it is ("q").
	ActionSkip Action = iota
	// ActionAccepted added the dataset to the allow list ("ok").
	ActionAccepted
	// ActionRemoved deleted the dataset directory ("rm").
	ActionRemoved
	// ActionEOF means the input is exhausted; no further prompts are shown.
	ActionEOF
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionAccepted:
		return "accepted"
	case ActionRemoved:
		return "removed"
	case ActionEOF:
		return "eof"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// DownloadFunc fetches the files missing from a dataset directory.
type DownloadFunc func(ctx context.Context, datasetDir string) error

// ReviewerOptions configures a Reviewer.
type ReviewerOptions struct {
	In        io.Reader
	Console   *logging.Console
	AllowList *AllowList
	// Download backs the "fd" command. Nil disables it.
	Download DownloadFunc
	Logger   *slog.Logger
}

// Reviewer is the operator prompt shown for flagged datasets.
type Reviewer struct {
	in        *bufio.Scanner
	console   *logging.Console
	allow     *AllowList
	download  DownloadFunc
	logger    *slog.Logger
	exhausted bool
}

// NewReviewer returns a reviewer reading commands from opts.In.
func NewReviewer(opts ReviewerOptions) *Reviewer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reviewer{
		in:       bufio.NewScanner(opts.In),
		console:  opts.Console,
		allow:    opts.AllowList,
		download: opts.Download,
		logger:   opts.Logger.With("component", "Reviewer"),
	}
}

const reviewHelp = "commands: ls | ok | rm | rm <file> | fd | q"

// Review prompts until the operator accepts, removes or skips the dataset.
func (r *Reviewer) Review(ctx context.Context, datasetDir string) (Action, error) {
	if r.exhausted {
		return ActionEOF, nil
	}
	w := r.console.Writer()
	for {
		if err := ctx.Err(); err != nil {
			return ActionSkip, err
		}
		fmt.Fprint(w, ">>> ")
		if !r.in.Scan() {
			r.exhausted = true
			fmt.Fprintln(w)
			if err := r.in.Err(); err != nil {
				return ActionEOF, fmt.Errorf("reading review input: %w", err)
			}
			return ActionEOF, nil
		}
		fields := strings.Fields(r.in.Text())
		if len(fields) == 0 {
			continue
		}
		switch {
		case fields[0] == "q":
			return ActionSkip, nil

		case fields[0] == "ls":
			entries, err := os.ReadDir(datasetDir)
			if err != nil {
				r.console.Printf(logging.SeverityError, "%v", err)
				continue
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			slices.Sort(names)
			for _, n := range names {
				r.console.Println(n)
			}

		case fields[0] == "ok":
			if r.allow == nil {
				r.console.Printf(logging.SeverityWarn, "no allow list configured")
				continue
			}
			if err := r.allow.Add(datasetDir); err != nil {
				return ActionSkip, err
			}
			r.console.Printf(logging.SeverityOK, "OK dataset saved to cache")
			return ActionAccepted, nil

		case fields[0] == "rm" && len(fields) == 1:
			r.console.Printf(logging.SeverityWarn, "Deleting: %s", datasetDir)
			if err := os.RemoveAll(datasetDir); err != nil {
				return ActionSkip, fmt.Errorf("removing dataset %s: %w", datasetDir, err)
			}
			r.logger.Info("Dataset removed by operator", "dir", datasetDir)
			return ActionRemoved, nil

		case fields[0] == "rm":
			target := filepath.Join(datasetDir, filepath.Base(fields[1]))
			r.console.Printf(logging.SeverityWarn, "Deleting: %s", target)
			if err := os.Remove(target); err != nil {
				r.console.Printf(logging.SeverityError, "%v", err)
				continue
			}
			r.logger.Info("File removed by operator", "path", target)

		case fields[0] == "fd":
			if r.download == nil {
				r.console.Printf(logging.SeverityWarn, "downloader not configured")
				continue
			}
			if err := r.download(ctx, datasetDir); err != nil {
				r.console.Printf(logging.SeverityError, "download failed: %v", err)
				continue
			}
			r.console.Printf(logging.SeverityOK, "missing files downloaded")

		default:
			r.console.Println(reviewHelp)
		}
	}
}
