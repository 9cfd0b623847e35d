package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/internal/unpack"
	"github.com/edumark/sheetscan/pkg/models"
)

// Upload is one file received from the operator.
type Upload struct {
	Name string
	Data io.Reader
}

// Ingestor accepts upload batches and turns them into import jobs for the
// pool, and tears abandoned jobs down again.
type Ingestor struct {
	store    store.Store
	tempRoot string
	logger   *slog.Logger
}

func NewIngestor(s store.Store, tempRoot string, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: s, tempRoot: tempRoot, logger: logger}
}

// Enqueue stores the uploads in a fresh batch directory and creates a new
// job over it. Unpacking and recognition happen later, in the worker pool.
func (i *Ingestor) Enqueue(ctx context.Context, subjectID uuid.UUID, creator string, uploads []Upload) (*models.Job, error) {
	if _, err := i.store.GetSubject(ctx, subjectID); err != nil {
		return nil, err
	}

	batchDir, err := unpack.NewBatchDir(i.tempRoot)
	if err != nil {
		return nil, err
	}

	for n, u := range uploads {
		name := fmt.Sprintf("upload-%04d-%s", n, filepath.Base(u.Name))
		dest := filepath.Join(batchDir, name)
		f, err := os.Create(dest)
		if err != nil {
			unpack.Cleanup(batchDir)
			return nil, fmt.Errorf("save upload %s: %w", u.Name, err)
		}
		if _, err := io.Copy(f, u.Data); err != nil {
			f.Close()
			unpack.Cleanup(batchDir)
			return nil, fmt.Errorf("save upload %s: %w", u.Name, err)
		}
		if err := f.Close(); err != nil {
			unpack.Cleanup(batchDir)
			return nil, fmt.Errorf("save upload %s: %w", u.Name, err)
		}
	}

	job := &models.Job{
		ID:        uuid.New(),
		SubjectID: subjectID,
		Creator:   creator,
		Status:    models.JobStatusNew,
		TempDir:   batchDir,
		CreatedAt: time.Now().UTC(),
	}
	if err := i.store.CreateJob(ctx, job); err != nil {
		unpack.Cleanup(batchDir)
		return nil, fmt.Errorf("create job: %w", err)
	}
	i.logger.Info("job enqueued", "job_id", job.ID, "subject_id", subjectID, "uploads", len(uploads))
	return job, nil
}

// Abandon removes a job with its files and temp dir. An in-flight worker
// notices the missing rows and stops; pages it already committed stay.
func (i *Ingestor) Abandon(ctx context.Context, jobID uuid.UUID) error {
	job, err := i.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := i.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	if err := unpack.Cleanup(job.TempDir); err != nil {
		i.logger.Warn("temp dir cleanup failed", "job_id", jobID, "error", err)
	}
	i.logger.Info("job abandoned", "job_id", jobID)
	return nil
}
