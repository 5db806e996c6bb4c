package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"upload-lab/domain"
	"upload-lab/repositories"
)

// DiskSink is the default completion hook: it copies the verified artifact
// into the final directory and records it in the catalog. The record id
// prefixes the file name so two users uploading "report.pdf" never collide.
type DiskSink struct {
	finalDir string
	catalog  repositories.ICatalogRepository
	log      *slog.Logger
	userID   string
}

func NewDiskSink(finalDir string, catalog repositories.ICatalogRepository, log *slog.Logger, userID string) *DiskSink {
	return &DiskSink{finalDir: finalDir, catalog: catalog, log: log, userID: userID}
}

func (d *DiskSink) OnUploadCompleted(_ context.Context, record domain.RecordSnapshot, content io.Reader) error {
	target := filepath.Join(d.finalDir, fmt.Sprintf("%s_%s", record.ID, filepath.Base(record.Name)))

	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating final file: %w", err)
	}

	written, err := io.Copy(file, content)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("writing final file: %w", err)
	}

	if err := d.catalog.Store(repositories.StoredUpload{
		ID:          record.ID,
		Name:        record.Name,
		Size:        written,
		ContentType: record.ContentType,
		Hash:        record.Hash,
		StoredBy:    d.userID,
		StoredAt:    time.Now().UTC(),
	}); err != nil {
		return err
	}

	d.log.Info("Upload persisted", "name", record.Name, "bytes", written, "path", target)
	return nil
}
