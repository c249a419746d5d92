package service

import (
	"bytes"
	"context"
	"log"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/iago/mathdoc-back/internal/domain"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// SourceStore keeps the uploaded original and returns a URL the remote
// conversion service can read.
type SourceStore interface {
	PutSource(ctx context.Context, ownerID, fileName string, data []byte, contentType string) (string, error)
}

// ConversionEnqueuer schedules a conversion job for a stored source.
type ConversionEnqueuer interface {
	EnqueueConversion(ctx context.Context, ownerID, fileName, sourceURL string) (*domain.Job, error)
}

type UploadConfig struct {
	MaxBytes int64
	MaxPages int
	Logger   *log.Logger
}

// UploadService validates an uploaded file, stores it and queues its
// conversion. Rejections are typed conversion errors.
type UploadService struct {
	sources  SourceStore
	jobs     ConversionEnqueuer
	maxBytes int64
	maxPages int
	logger   *log.Logger
}

var allowedUploadTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

func NewUploadService(sources SourceStore, jobs ConversionEnqueuer, config UploadConfig) *UploadService {
	if config.MaxBytes <= 0 {
		config.MaxBytes = 20 << 20
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 200
	}
	return &UploadService{
		sources:  sources,
		jobs:     jobs,
		maxBytes: config.MaxBytes,
		maxPages: config.MaxPages,
		logger:   config.Logger,
	}
}

func (s *UploadService) MaxBytes() int64 {
	return s.maxBytes
}

func (s *UploadService) Upload(ctx context.Context, ownerID, fileName string, data []byte) (*domain.Job, error) {
	fileName = path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, domain.NewConversionError(domain.KindInvalidContent, "file name is required")
	}
	contentType, err := s.validate(fileName, data)
	if err != nil {
		s.logf("upload rejected owner_id=%s file=%s err=%v", ownerID, fileName, err)
		return nil, err
	}

	sourceURL, err := s.sources.PutSource(ctx, ownerID, fileName, data, contentType)
	if err != nil {
		return nil, domain.WrapConversionError(domain.KindNetworkError, err)
	}
	job, err := s.jobs.EnqueueConversion(ctx, ownerID, fileName, sourceURL)
	if err != nil {
		return nil, err
	}
	s.logf("upload accepted owner_id=%s file=%s bytes=%d job_id=%s", ownerID, fileName, len(data), job.ID)
	return job, nil
}

func (s *UploadService) validate(fileName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", domain.NewConversionError(domain.KindInvalidContent, "file is empty")
	}
	if int64(len(data)) > s.maxBytes {
		return "", domain.NewConversionError(domain.KindFileTooLarge, "file has %d bytes, limit is %d", len(data), s.maxBytes)
	}

	expected, ok := allowedUploadTypes[strings.ToLower(path.Ext(fileName))]
	if !ok {
		return "", domain.NewConversionError(domain.KindUnsupportedFormat, "extension %q is not accepted", path.Ext(fileName))
	}
	detected := mimetype.Detect(data)
	if !detected.Is(expected) {
		return "", domain.NewConversionError(domain.KindUnsupportedFormat, "content is %s, expected %s", detected.String(), expected)
	}

	if expected == "application/pdf" {
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		pages, err := api.PageCount(bytes.NewReader(data), conf)
		if err != nil {
			return "", domain.WrapConversionError(domain.KindInvalidContent, err)
		}
		if pages > s.maxPages {
			return "", domain.NewConversionError(domain.KindFileTooLarge, "document has %d pages, limit is %d", pages, s.maxPages)
		}
	}
	return expected, nil
}

func (s *UploadService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
