package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/ncfile"
	"github.com/INLOpen/cmip6kit/yearmonth"
)

// TrimLeading drops the first steps time steps of the chunk file at path
// and renames it to start at newStart (start + steps when zero). Variable
// layout and global attributes are kept. It returns the new path; the
// original is removed.
func (e *Engine) TrimLeading(ctx context.Context, path string, steps int, newStart yearmonth.YearMonth) (_ string, err error) {
	if steps <= 0 {
		return "", fmt.Errorf("trim %s: steps must be positive, got %d", path, steps)
	}
	name, err := cmip6.ParseChunkName(path)
	if err != nil {
		return "", err
	}
	if newStart.IsZero() {
		newStart = name.Range.Start.AddMonths(steps)
	}
	if newStart.After(name.Range.End) {
		return "", fmt.Errorf("trim %s: new start %s is after the end %s", path, newStart, name.Range.End)
	}
	name.Range.Start = newStart
	output := filepath.Join(filepath.Dir(path), name.String())
	if _, err := os.Stat(output); err == nil {
		return "", fmt.Errorf("trim %s: %s already exists", path, output)
	}
	if e.opts.DryRun {
		e.logger.Info("Would trim leading steps", "file", path, "steps", steps, "output", output)
		return output, nil
	}

	src, err := e.opts.Format.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	total := src.Len(TimeDim)
	if steps >= total {
		return "", fmt.Errorf("trim %s: cannot drop %d of %d time steps", path, steps, total)
	}

	w, err := e.opts.Format.Create(ncfile.WriterOptions{
		Path:       output,
		Codec:      e.opts.Codec,
		CodecLevel: e.opts.CodecLevel,
		Logger:     e.opts.Logger,
		Tracer:     e.opts.Tracer,
	})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()
	timeVars, staticVars, err := e.opts.Layout.Define(src, w)
	if err != nil {
		return "", err
	}
	if err := w.SetAttrs(src.Attrs()); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := copyStatic(src, w, staticVars); err != nil {
		return "", err
	}
	if err := copyTimeSteps(src, w, timeVars, dimLens(src), steps, total-steps, 0); err != nil {
		return "", err
	}
	if err := w.Finish(ctx); err != nil {
		return "", err
	}
	src.Close()
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing %s: %w", path, err)
	}
	e.logger.Info("Leading time steps trimmed", "file", filepath.Base(path), "steps", steps, "output", filepath.Base(output))
	return output, nil
}
