package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aep/healthdesk/list"
)

// Saver delivers exported bytes, e.g. as a file on disk or an HTTP download.
type Saver interface {
	Save(ctx context.Context, data []byte, mime string, filename string) error
}

// Filename returns "<base>-YYYY-MM-DD.csv" for the given day.
func Filename(base string, day time.Time) string {
	return fmt.Sprintf("%s-%s.csv", base, day.Format(list.DateLayout))
}

// DirSaver writes files into Dir, replacing existing ones.
type DirSaver struct {
	Dir string
}

func (d DirSaver) Save(ctx context.Context, data []byte, mime string, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := d.Path(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// Path returns where Save puts filename.
func (d DirSaver) Path(filename string) string {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, filepath.Base(filename))
}
