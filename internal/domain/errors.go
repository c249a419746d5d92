package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure on the conversion path.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindRateLimitExceeded  ErrorKind = "rate_limit_exceeded"
	KindFileTooLarge       ErrorKind = "file_too_large"
	KindUnsupportedFormat  ErrorKind = "unsupported_format"
	KindProcessingError    ErrorKind = "processing_error"
	KindEmptyResponse      ErrorKind = "empty_response"
	KindNetworkError       ErrorKind = "network_error"
	KindTimeout            ErrorKind = "timeout"
	KindLowConfidence      ErrorKind = "low_confidence"
	KindNoMathDetected     ErrorKind = "no_math_detected"
	KindInvalidContent     ErrorKind = "invalid_content"
)

var errorKinds = []ErrorKind{
	KindInvalidCredentials,
	KindRateLimitExceeded,
	KindFileTooLarge,
	KindUnsupportedFormat,
	KindProcessingError,
	KindEmptyResponse,
	KindNetworkError,
	KindTimeout,
	KindLowConfidence,
	KindNoMathDetected,
	KindInvalidContent,
}

// ErrorKinds returns the full, fixed enumeration.
func ErrorKinds() []ErrorKind {
	return append([]ErrorKind(nil), errorKinds...)
}

func (k ErrorKind) Valid() bool {
	for _, known := range errorKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ConversionError is the only failure type allowed to leave a conversion
// component. Detail carries optional diagnostics from the remote side and
// Cause the underlying error, if any. Values are never mutated after
// construction.
type ConversionError struct {
	Kind    ErrorKind
	Message string
	Detail  string
	Cause   error
}

func (e *ConversionError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ConversionError) Unwrap() error {
	return e.Cause
}

func NewConversionError(kind ErrorKind, format string, args ...any) *ConversionError {
	return &ConversionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapConversionError tags err with kind unless it is already typed.
func WrapConversionError(kind ErrorKind, err error) *ConversionError {
	if err == nil {
		return nil
	}
	var typed *ConversionError
	if errors.As(err, &typed) {
		return typed
	}
	return &ConversionError{Kind: kind, Message: err.Error(), Cause: err}
}

// KindOf reports the kind of a typed conversion failure.
func KindOf(err error) (ErrorKind, bool) {
	var typed *ConversionError
	if errors.As(err, &typed) {
		return typed.Kind, true
	}
	return "", false
}

var userMessages = map[ErrorKind]string{
	KindInvalidCredentials: "The conversion service rejected our credentials. Please contact support.",
	KindRateLimitExceeded:  "Too many conversions right now. Please try again in a moment.",
	KindFileTooLarge:       "The file is too large to convert.",
	KindUnsupportedFormat:  "This file format is not supported. Upload a PDF, JPG or PNG.",
	KindProcessingError:    "The document could not be processed. Please try again.",
	KindEmptyResponse:      "The conversion finished but produced no content.",
	KindNetworkError:       "Could not reach the conversion service. Check your connection and retry.",
	KindTimeout:            "The conversion took too long and was stopped.",
	KindLowConfidence:      "The image was not clear enough to read reliably. Try a sharper photo.",
	KindNoMathDetected:     "No math content was found in the image.",
	KindInvalidContent:     "The document could not be read. Make sure the file is valid.",
}

// UserMessage turns any error into the single sentence shown to end users.
func UserMessage(err error) string {
	kind, ok := KindOf(err)
	if !ok {
		kind = KindProcessingError
	}
	return MessageForKind(kind)
}

func MessageForKind(kind ErrorKind) string {
	if message, ok := userMessages[kind]; ok {
		return message
	}
	return userMessages[KindProcessingError]
}
