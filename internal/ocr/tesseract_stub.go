//go:build !cgo || !ocr

package ocr

import (
	"context"
	"errors"
)

// Tesseract is a stand-in for builds without cgo or the ocr tag; it is
// never available.
type Tesseract struct{}

func NewTesseract(TesseractOptions) *Tesseract { return &Tesseract{} }

func (t *Tesseract) Name() string      { return tesseractName }
func (t *Tesseract) IsAvailable() bool { return false }

func (t *Tesseract) ExtractText(context.Context, Source, int) (Result, error) {
	return Result{}, unavailable(tesseractName, errors.New("built without tesseract support"))
}
