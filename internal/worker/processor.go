package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/iago/mathdoc-back/internal/domain"
	"github.com/iago/mathdoc-back/internal/queue"
	"github.com/iago/mathdoc-back/internal/repository"
)

// Converter runs one document through the conversion pipeline.
type Converter interface {
	Convert(ctx context.Context, sourceURL, ownerID, fileName string) (string, error)
}

// Refresher rebuilds an owner's document list after a new artifact lands.
type Refresher interface {
	ResolveAll(ctx context.Context, ownerID string, forceRefresh bool) ([]domain.DocumentRecord, error)
}

// Processor consumes ingest jobs and persists status transitions.
type Processor struct {
	consumer  queue.Consumer
	repo      repository.JobsRepository
	converter Converter
	refresher Refresher
	logger    *log.Logger
	now       func() time.Time
}

func NewProcessor(
	consumer queue.Consumer,
	repo repository.JobsRepository,
	converter Converter,
	refresher Refresher,
	logger *log.Logger,
) *Processor {
	return &Processor{
		consumer:  consumer,
		repo:      repo,
		converter: converter,
		refresher: refresher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logf("worker consume loop error: %v", err)

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// processMessage records typed conversion failures on the job and returns
// nil for them; infrastructure errors and conversions cut short by a
// cancelled context go back to the queue for retry.
func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	job, err := p.repo.GetJob(ctx, message.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", message.JobID, err)
	}
	if job.Status == domain.JobStatusDone {
		return nil
	}

	job.Status = domain.JobStatusProcessing
	job.Attempts = message.Attempt + 1
	job.UpdatedAt = p.now()
	if err := p.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	markup, convertErr := p.converter.Convert(ctx, job.SourceURL, job.OwnerID, job.FileName)
	if convertErr != nil {
		if ctx.Err() != nil {
			// Interrupted by shutdown; the queue hands the job out again.
			return fmt.Errorf("conversion interrupted job_id=%s: %w", job.ID, convertErr)
		}
		kind, typed := domain.KindOf(convertErr)
		if !typed {
			kind = domain.KindProcessingError
		}
		job.Status = domain.JobStatusFailed
		job.ErrorKind = kind
		job.ErrorMessage = domain.MessageForKind(kind)
		job.UpdatedAt = p.now()
		if err := p.repo.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		p.logf("conversion failed job_id=%s owner_id=%s kind=%s err=%v", job.ID, job.OwnerID, kind, convertErr)
		return nil
	}

	job.Status = domain.JobStatusDone
	job.ArtifactName = domain.ArtifactName(job.FileName)
	job.ErrorKind = ""
	job.ErrorMessage = ""
	job.UpdatedAt = p.now()
	if err := p.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	p.logf("job processed job_id=%s owner_id=%s artifact=%s bytes=%d", job.ID, job.OwnerID, job.ArtifactName, len(markup))

	if p.refresher != nil {
		if _, err := p.refresher.ResolveAll(ctx, job.OwnerID, true); err != nil {
			p.logf("document refresh failed owner_id=%s err=%v", job.OwnerID, err)
		}
	}
	return nil
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
