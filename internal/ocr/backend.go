// Package ocr defines the OCR backend contract, the ordered fallback chain
// that drives it, and the concrete providers (Mistral, Gemini, Tesseract).
package ocr

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every backend failure wraps exactly one of these.
var (
	ErrBackendUnavailable = errors.New("ocr backend unavailable")
	ErrBackendTransient   = errors.New("ocr backend transient failure")
	ErrBackendFatal       = errors.New("ocr backend fatal failure")
)

// Source is the document handed to a backend. extractor.Document satisfies it.
type Source interface {
	Name() string
	Bytes() []byte
}

// URLSource is implemented by documents that are still reachable at the URL
// they were downloaded from; backends that accept URLs may use it instead of
// uploading the bytes.
type URLSource interface {
	SourceURL() string
}

type Result struct {
	Text       string
	Confidence float64
	Method     string // backend name
}

type Backend interface {
	Name() string
	// IsAvailable must be cheap and must not touch the network.
	IsAvailable() bool
	// ExtractText OCRs one 1-indexed page.
	ExtractText(ctx context.Context, src Source, page int) (Result, error)
}

type BackendError struct {
	Backend string
	Kind    error // one of the ErrBackend* sentinels
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Backend, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Backend, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func unavailable(backend string, err error) error {
	return &BackendError{Backend: backend, Kind: ErrBackendUnavailable, Err: err}
}

func transient(backend string, err error) error {
	return &BackendError{Backend: backend, Kind: ErrBackendTransient, Err: err}
}

func fatal(backend string, err error) error {
	return &BackendError{Backend: backend, Kind: ErrBackendFatal, Err: err}
}

// KindOf names the error kind for reports. Context deadlines count as
// transient; anything unclassified is reported as transient too.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, ErrBackendFatal):
		return "fatal"
	default:
		return "transient"
	}
}
