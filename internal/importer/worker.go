package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/cache"
	"github.com/edumark/sheetscan/internal/config"
	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/internal/unpack"
	"github.com/edumark/sheetscan/pkg/models"
)

const jobStatusTTL = time.Hour

// Pool drains the import job queue with a fixed number of workers. Each
// worker owns one job at a time; pages within a job run sequentially so
// multi-page suspension resolves in file order, while distinct jobs process
// concurrently.
type Pool struct {
	store     store.Store
	cache     cache.Cache
	unpacker  *unpack.Unpacker
	processor *Processor
	cfg       config.WorkerConfig
	logger    *slog.Logger
}

func NewPool(s store.Store, c cache.Cache, u *unpack.Unpacker, p *Processor, cfg config.WorkerConfig, logger *slog.Logger) *Pool {
	return &Pool{store: s, cache: c, unpacker: u, processor: p, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled, polling for claimable jobs.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, err := p.store.ClaimNextJob(ctx)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Queue empty, wait for the next tick.
		case err != nil:
			p.logger.Error("claim job failed", "worker", worker, "error", err)
		default:
			p.runJob(ctx, job)
			continue // drain without waiting when work was found
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) runJob(ctx context.Context, job *models.Job) {
	logger := p.logger.With("job_id", job.ID)
	logger.Info("job started")
	p.setCachedStatus(ctx, job.ID, models.JobStatusProcessing)

	if err := p.processJob(ctx, job, logger); err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a bad job. Hand it back so another worker can
			// resume from the file cursor.
			detached := context.WithoutCancel(ctx)
			if rerr := p.store.ReleaseJob(detached, job.ID); rerr != nil {
				logger.Error("could not release job", "error", rerr)
				return
			}
			p.setCachedStatus(detached, job.ID, models.JobStatusNew)
			logger.Info("job released for later pickup")
			return
		}
		logger.Error("job failed", "error", err)
		if uerr := p.store.UpdateJobStatus(ctx, job.ID, models.JobStatusError); uerr != nil {
			logger.Error("could not mark job failed", "error", uerr)
		}
		p.setCachedStatus(ctx, job.ID, models.JobStatusError)
		return
	}

	if err := p.store.UpdateJobStatus(ctx, job.ID, models.JobStatusDone); err != nil {
		// The operator may have abandoned the job mid-flight.
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error("could not mark job done", "error", err)
		}
		return
	}
	p.setCachedStatus(ctx, job.ID, models.JobStatusDone)

	if err := unpack.Cleanup(job.TempDir); err != nil {
		logger.Warn("temp dir cleanup failed", "temp_dir", job.TempDir, "error", err)
	}
	logger.Info("job done")
}

// processJob unpacks the job's uploads if not yet done, then walks the file
// list batch by batch. A single file's failure never aborts the job; only
// storage errors do.
func (p *Pool) processJob(ctx context.Context, job *models.Job, logger *slog.Logger) error {
	subject, err := p.store.GetSubject(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("load subject: %w", err)
	}

	// A reclaimed job may carry files an interrupted worker left in
	// processing. Requeue them before walking the list.
	if err := p.store.ResetProcessingFiles(ctx, job.ID); err != nil {
		return fmt.Errorf("reset processing files: %w", err)
	}

	counts, err := p.store.JobCounts(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("job counts: %w", err)
	}
	if counts.Total == 0 {
		if err := p.unpackJob(ctx, job, logger); err != nil {
			return err
		}
	}

	cursor := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := p.store.NextFileBatch(ctx, job.ID, cursor, p.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("next batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := p.store.TouchJob(ctx, job.ID); err != nil {
			logger.Warn("claim renewal failed", "error", err)
		}
		for _, file := range batch {
			cursor = file.Position
			if file.Status != models.JobFileStatusNew {
				continue
			}
			p.processFile(ctx, subject, file, logger)
		}
	}
}

func (p *Pool) processFile(ctx context.Context, subject *models.Subject, file *models.JobFile, logger *slog.Logger) {
	if err := p.store.MarkJobFile(ctx, file.ID, models.JobFileStatusProcessing); err != nil {
		logger.Error("mark file processing failed", "file_id", file.ID, "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, p.cfg.PageTimeout)
	err := p.processor.ProcessFile(pctx, subject, file.Filename)
	cancel()

	if err != nil && ctx.Err() != nil {
		// The worker is shutting down, not the page misbehaving. Leave the
		// file in processing; the job release path requeues it.
		return
	}

	status := models.JobFileStatusOK
	if err != nil {
		status = models.JobFileStatusError
		logger.Warn("page file failed", "file_id", file.ID, "filename", file.Filename, "error", err)
	}
	if err := p.store.MarkJobFile(ctx, file.ID, status); err != nil {
		logger.Error("mark file failed", "file_id", file.ID, "error", err)
	}
}

// unpackJob expands every upload in the job's temp dir into per-page images
// and records them as job files in strict unpack order. A broken upload
// becomes a job file already in error state, visible in the job summary.
func (p *Pool) unpackJob(ctx context.Context, job *models.Job, logger *slog.Logger) error {
	uploads, err := listUploads(job.TempDir)
	if err != nil {
		return fmt.Errorf("list uploads: %w", err)
	}

	var files []*models.JobFile
	position := 0
	add := func(name, status string) {
		files = append(files, &models.JobFile{
			ID:       uuid.New(),
			JobID:    job.ID,
			Filename: name,
			Position: position,
			Status:   status,
		})
		position++
	}

	for _, upload := range uploads {
		pages, err := p.unpacker.Unpack(ctx, job.TempDir, upload)
		if err != nil {
			logger.Warn("upload could not be unpacked", "upload", filepath.Base(upload), "error", err)
			add(upload, models.JobFileStatusError)
			continue
		}
		for _, page := range pages {
			add(page, models.JobFileStatusNew)
		}
	}

	if err := p.store.AddJobFiles(ctx, files); err != nil {
		return fmt.Errorf("add job files: %w", err)
	}
	logger.Info("job unpacked", "uploads", len(uploads), "pages", len(files))
	return nil
}

// listUploads returns the regular files directly under the batch dir in
// name order. Subdirectories hold unpack output, not uploads.
func listUploads(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var uploads []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		uploads = append(uploads, filepath.Join(dir, e.Name()))
	}
	sort.Strings(uploads)
	return uploads, nil
}

func (p *Pool) setCachedStatus(ctx context.Context, jobID uuid.UUID, status string) {
	if err := p.cache.SetJobStatus(ctx, jobID, status, jobStatusTTL); err != nil {
		p.logger.Warn("could not cache job status", "job_id", jobID, "error", err)
	}
}
