package mathpix

import (
	"strings"

	"github.com/iago/mathdoc-back/internal/domain"
)

type submitRequest struct {
	URL                   string          `json:"url"`
	ConversionFormats     map[string]bool `json:"conversion_formats,omitempty"`
	MathInlineDelimiters  []string        `json:"math_inline_delimiters,omitempty"`
	MathDisplayDelimiters []string        `json:"math_display_delimiters,omitempty"`
	RemoveSpaces          bool            `json:"rm_spaces"`
}

type textRequest struct {
	Source  string   `json:"src"`
	Formats []string `json:"formats"`
}

type remoteErrorInfo struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func describeFailure(message string, info *remoteErrorInfo) string {
	if info != nil {
		parts := make([]string, 0, 2)
		if strings.TrimSpace(info.ID) != "" {
			parts = append(parts, strings.TrimSpace(info.ID))
		}
		if strings.TrimSpace(info.Message) != "" {
			parts = append(parts, strings.TrimSpace(info.Message))
		}
		if len(parts) > 0 {
			return strings.Join(parts, ": ")
		}
	}
	return strings.TrimSpace(message)
}

type submitResponse struct {
	PdfID     string           `json:"pdf_id"`
	Error     string           `json:"error"`
	ErrorInfo *remoteErrorInfo `json:"error_info"`
}

func (r submitResponse) failure() string {
	return describeFailure(r.Error, r.ErrorInfo)
}

type statusResponse struct {
	Status      string           `json:"status"`
	PercentDone float64          `json:"percent_done"`
	Error       string           `json:"error"`
	ErrorInfo   *remoteErrorInfo `json:"error_info"`
}

func (r statusResponse) progress() (JobProgress, error) {
	status := strings.ToLower(strings.TrimSpace(r.Status))
	progress := JobProgress{PercentDone: r.PercentDone, Detail: describeFailure(r.Error, r.ErrorInfo)}

	switch status {
	case "completed":
		progress.Status = domain.ConversionCompleted
	case "error":
		progress.Status = domain.ConversionErrored
	case "":
		if progress.Detail != "" {
			progress.Status = domain.ConversionErrored
			return progress, nil
		}
		return JobProgress{}, domain.NewConversionError(domain.KindProcessingError, "status response without status")
	default:
		progress.Status = domain.ConversionProcessing
	}
	return progress, nil
}

type textResponse struct {
	Text        string           `json:"text"`
	LatexStyled string           `json:"latex_styled"`
	Confidence  *float64         `json:"confidence"`
	Error       string           `json:"error"`
	ErrorInfo   *remoteErrorInfo `json:"error_info"`
}

func (r textResponse) recognition() (Recognition, error) {
	result := Recognition{
		Text:        r.Text,
		LatexStyled: r.LatexStyled,
		Failure:     describeFailure(r.Error, r.ErrorInfo),
	}
	if r.Confidence != nil {
		if *r.Confidence < 0 || *r.Confidence > 1 {
			return Recognition{}, domain.NewConversionError(domain.KindProcessingError, "confidence %v out of range", *r.Confidence)
		}
		result.Confidence = *r.Confidence
		result.ConfidenceKnown = true
	}
	return result, nil
}
