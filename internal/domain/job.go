package domain

import (
	"time"
)

// ConversionStatus is the remote lifecycle of one conversion job.
type ConversionStatus string

const (
	ConversionSubmitted  ConversionStatus = "submitted"
	ConversionProcessing ConversionStatus = "processing"
	ConversionCompleted  ConversionStatus = "completed"
	ConversionErrored    ConversionStatus = "errored"
)

func (s ConversionStatus) Terminal() bool {
	return s == ConversionCompleted || s == ConversionErrored
}

// ConversionJob lives only for the duration of one orchestration call.
// JobID is empty until the remote service accepts the submission.
type ConversionJob struct {
	SourceURL string
	JobID     string
	Status    ConversionStatus
	Detail    string
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// Job is the canonical async ingest unit processed by worker pipelines.
type Job struct {
	ID           string
	OwnerID      string
	FileName     string
	SourceURL    string
	Status       JobStatus
	ArtifactName string
	ErrorKind    ErrorKind
	ErrorMessage string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID       string    `json:"job_id"`
	OwnerID     string    `json:"owner_id"`
	FileName    string    `json:"file_name"`
	SourceURL   string    `json:"source_url"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

type JobListFilter struct {
	OwnerID  string
	Status   JobStatus
	Page     int
	PageSize int
	From     *time.Time
	To       *time.Time
}
