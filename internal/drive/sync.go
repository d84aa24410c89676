package drive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

const syncConcurrency = 4

// SyncOptions selects the Drive folder to mirror and where to write it.
type SyncOptions struct {
	FolderID string
	Dir      string
}

// FolderSync mirrors the forecast sheets of a Drive folder as long-form CSV
// files, the format the solve CLI reads.
type FolderSync struct {
	source Source
}

func NewFolderSync(s Source) *FolderSync {
	return &FolderSync{source: s}
}

// Sync downloads every .csv and .xlsx file in the folder, parses it as a
// forecast and writes <name>.csv under opts.Dir. Other files are skipped. The
// returned paths follow the folder listing order. A file that does not parse
// fails the whole sync.
func (s *FolderSync) Sync(ctx context.Context, opts SyncOptions) ([]string, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("sync dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sync dir: %w", err)
	}

	files, err := s.source.ListFiles(ctx, opts.FolderID)
	if err != nil {
		return nil, err
	}
	var sheets []*File
	for _, f := range files {
		switch strings.ToLower(filepath.Ext(f.Name)) {
		case ".csv", ".xlsx":
			sheets = append(sheets, f)
		}
	}

	paths := make([]string, len(sheets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for i, f := range sheets {
		g.Go(func() error {
			path, err := s.syncFile(ctx, f, opts.Dir)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *FolderSync) syncFile(ctx context.Context, f *File, dir string) (string, error) {
	var buf bytes.Buffer
	if err := s.source.DownloadFile(ctx, f.ID, &buf); err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	forecasts, err := ParseForecast(f.Name, &buf)
	if err != nil {
		return "", err
	}

	name := strings.TrimSuffix(filepath.Base(f.Name), filepath.Ext(f.Name))
	path := filepath.Join(dir, name+".csv")
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteForecastCSV(out, forecasts); err != nil {
		out.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, out.Close()
}
