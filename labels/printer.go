package labels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// SpoolPrinter writes each job as an HTML sheet into a spool directory,
// where the print station picks it up.
type SpoolPrinter struct {
	Dir string
}

// Path returns the spool file for job.
func (p *SpoolPrinter) Path(job Job) string {
	return filepath.Join(p.Dir, job.ID+".html")
}

func (p *SpoolPrinter) Print(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return fmt.Errorf("spool dir: %w", err)
	}

	tmp := p.Path(job) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("spool create: %w", err)
	}
	title := fmt.Sprintf("Labels %s (%s)", job.CreatedAt.Format("2006-01-02 15:04"), job.Scope)
	if err := RenderSheet(f, title, job.Scope, job.Labels); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("spool render: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("spool close: %w", err)
	}
	return os.Rename(tmp, p.Path(job))
}
