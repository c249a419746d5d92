package service

import (
	"context"
	"log"
	"path"
	"strings"
	"time"

	"github.com/iago/mathdoc-back/internal/domain"
	"github.com/iago/mathdoc-back/internal/mathpix"
	"github.com/iago/mathdoc-back/internal/retry"
)

// ConversionClient is the remote job API the orchestrator drives.
type ConversionClient interface {
	SubmitConversion(ctx context.Context, sourceURL string) (domain.ConversionJob, error)
	PollStatus(ctx context.Context, jobID string) (mathpix.JobProgress, error)
	DownloadArtifact(ctx context.Context, jobID, ownerID, fileName string) (string, error)
	RecognizeImage(ctx context.Context, imageURL string) (mathpix.Recognition, error)
	PersistArtifact(ctx context.Context, ownerID, fileName, markup string) error
}

type ConversionConfig struct {
	Retry         retry.Policy
	PollInterval  time.Duration
	PollAttempts  int
	MinConfidence float64
	// Sleep waits between polls. Defaults to retry.Sleep.
	Sleep  retry.SleepFunc
	Logger *log.Logger
}

type ConversionService struct {
	client        ConversionClient
	retry         retry.Policy
	pollInterval  time.Duration
	pollAttempts  int
	minConfidence float64
	sleep         retry.SleepFunc
	logger        *log.Logger
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

func NewConversionService(client ConversionClient, config ConversionConfig) *ConversionService {
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.Sleep == nil {
		config.Retry.Sleep = retry.Sleep
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.PollAttempts <= 0 {
		config.PollAttempts = 30
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = 0.7
	}
	if config.Sleep == nil {
		config.Sleep = retry.Sleep
	}

	return &ConversionService{
		client:        client,
		retry:         config.Retry,
		pollInterval:  config.PollInterval,
		pollAttempts:  config.PollAttempts,
		minConfidence: config.MinConfidence,
		sleep:         config.Sleep,
		logger:        config.Logger,
	}
}

// IsImage reports whether fileName takes the synchronous recognition path.
func IsImage(fileName string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(fileName))]
	return ok
}

// Convert turns the source at sourceURL into normalized markup stored as
// fileName+".mmd" for ownerID. Every failure is a *domain.ConversionError.
func (s *ConversionService) Convert(ctx context.Context, sourceURL, ownerID, fileName string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" || strings.TrimSpace(fileName) == "" {
		return "", domain.NewConversionError(domain.KindInvalidContent, "source url and file name are required")
	}
	artifactName := domain.ArtifactName(fileName)
	started := time.Now()

	var (
		markup string
		err    error
	)
	if IsImage(fileName) {
		markup, err = retry.Do(ctx, s.retry, func(ctx context.Context) (string, error) {
			return s.recognizeImage(ctx, sourceURL, ownerID, artifactName)
		})
	} else {
		markup, err = retry.Do(ctx, s.retry, func(ctx context.Context) (string, error) {
			return s.convertDocument(ctx, sourceURL, ownerID, artifactName)
		})
	}
	if err != nil {
		typed := domain.WrapConversionError(domain.KindProcessingError, err)
		s.logf("conversion failed owner_id=%s file=%s kind=%s err=%v", ownerID, fileName, typed.Kind, typed)
		return "", typed
	}

	s.logf("conversion done owner_id=%s artifact=%s bytes=%d duration_ms=%d",
		ownerID, artifactName, len(markup), time.Since(started).Milliseconds())
	return markup, nil
}

func (s *ConversionService) recognizeImage(ctx context.Context, imageURL, ownerID, artifactName string) (string, error) {
	result, err := s.client.RecognizeImage(ctx, imageURL)
	if err != nil {
		return "", err
	}
	if result.Failure != "" {
		return "", &domain.ConversionError{
			Kind:    domain.KindProcessingError,
			Message: "image recognition reported an error",
			Detail:  result.Failure,
		}
	}
	if result.ConfidenceKnown && result.Confidence < s.minConfidence {
		return "", domain.NewConversionError(domain.KindLowConfidence,
			"confidence %.2f below %.2f", result.Confidence, s.minConfidence)
	}

	raw := result.Text
	if strings.TrimSpace(raw) == "" && strings.TrimSpace(result.LatexStyled) != "" {
		raw = "$$" + strings.TrimSpace(result.LatexStyled) + "$$"
	}
	if strings.TrimSpace(raw) == "" {
		return "", domain.NewConversionError(domain.KindNoMathDetected, "no text or math in image")
	}

	markup := NormalizeMarkup(raw)
	if markup == "" {
		return "", domain.NewConversionError(domain.KindEmptyResponse, "normalized markup is empty")
	}
	if err := s.client.PersistArtifact(ctx, ownerID, artifactName, markup); err != nil {
		return "", err
	}
	return markup, nil
}

func (s *ConversionService) convertDocument(ctx context.Context, sourceURL, ownerID, artifactName string) (string, error) {
	job, err := s.client.SubmitConversion(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	if job.JobID == "" {
		return "", &domain.ConversionError{
			Kind:    domain.KindInvalidContent,
			Message: "conversion service returned no job id",
			Detail:  job.Detail,
		}
	}
	s.logf("conversion submitted owner_id=%s job=%s", ownerID, job.JobID)

	if err := s.awaitCompletion(ctx, job.JobID); err != nil {
		return "", err
	}

	raw, err := s.client.DownloadArtifact(ctx, job.JobID, ownerID, artifactName)
	if err != nil {
		return "", err
	}
	markup := NormalizeMarkup(raw)
	if markup == "" {
		return "", domain.NewConversionError(domain.KindEmptyResponse, "job %s produced no markup", job.JobID)
	}
	return markup, nil
}

func (s *ConversionService) awaitCompletion(ctx context.Context, jobID string) error {
	for attempt := 1; attempt <= s.pollAttempts; attempt++ {
		progress, err := s.client.PollStatus(ctx, jobID)
		if err != nil {
			return err
		}
		switch progress.Status {
		case domain.ConversionCompleted:
			return nil
		case domain.ConversionErrored:
			return &domain.ConversionError{
				Kind:    domain.KindProcessingError,
				Message: "conversion job " + jobID + " failed remotely",
				Detail:  progress.Detail,
			}
		}

		if attempt == s.pollAttempts {
			break
		}
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return &domain.ConversionError{Kind: domain.KindTimeout, Message: "polling interrupted", Cause: err}
		}
	}
	return domain.NewConversionError(domain.KindTimeout,
		"job %s not completed after %d polls", jobID, s.pollAttempts)
}

func (s *ConversionService) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
