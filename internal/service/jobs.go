package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/mathdoc-back/internal/domain"
	"github.com/iago/mathdoc-back/internal/queue"
	"github.com/iago/mathdoc-back/internal/repository"
)

// JobsService creates ingest jobs and hands them to the queue.
type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
	now      func() time.Time
}

func NewJobsService(repo repository.JobsRepository, producer queue.Producer) *JobsService {
	return &JobsService{
		repo:     repo,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *JobsService) EnqueueConversion(ctx context.Context, ownerID, fileName, sourceURL string) (*domain.Job, error) {
	ownerID = strings.TrimSpace(ownerID)
	fileName = strings.TrimSpace(fileName)
	sourceURL = strings.TrimSpace(sourceURL)
	if ownerID == "" || fileName == "" || sourceURL == "" {
		return nil, fmt.Errorf("%w: owner, file name and source url are required", ErrInvalidInput)
	}
	if strings.Contains(fileName, "/") {
		return nil, fmt.Errorf("%w: file name must not contain '/'", ErrInvalidInput)
	}

	now := s.now()
	job := &domain.Job{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		FileName:  fileName,
		SourceURL: sourceURL,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:       job.ID,
		OwnerID:     ownerID,
		FileName:    fileName,
		SourceURL:   sourceURL,
		RequestedAt: now,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		job.Status = domain.JobStatusFailed
		job.ErrorKind = domain.KindNetworkError
		job.ErrorMessage = domain.MessageForKind(domain.KindNetworkError)
		job.UpdatedAt = s.now()
		_ = s.repo.UpdateJob(ctx, job)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *JobsService) ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, int, error) {
	return s.repo.ListJobs(ctx, filter)
}
