//go:build cgo && ocr

package ocr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog/log"
)

// Tesseract OCRs locally: pdftoppm renders the page, gosseract reads it.
type Tesseract struct {
	langs       []string
	dpi         int
	render      Rasterizer
	available   bool
	renderReady bool
}

func NewTesseract(o TesseractOptions) *Tesseract {
	o = o.withDefaults()
	t := &Tesseract{langs: o.Langs, dpi: o.DPI}
	t.render, t.renderReady = rasterizerOrDefault(o.Render)

	_, err := exec.LookPath("tesseract")
	t.available = err == nil
	if !t.available {
		log.Warn().Msg("tesseract not found in PATH, local OCR will be unavailable")
	} else {
		log.Debug().Strs("languages", t.langs).Int("dpi", t.dpi).Msg("tesseract backend initialized")
	}
	return t
}

func (t *Tesseract) Name() string      { return tesseractName }
func (t *Tesseract) IsAvailable() bool { return t.available && t.renderReady }

func (t *Tesseract) ExtractText(ctx context.Context, src Source, page int) (Result, error) {
	if !t.IsAvailable() {
		return Result{}, unavailable(tesseractName, errors.New("tesseract or pdftoppm not installed"))
	}

	png, err := t.render(ctx, src.Bytes(), page, t.dpi)
	if err != nil {
		return Result{}, transient(tesseractName, fmt.Errorf("render page: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, transient(tesseractName, err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.langs...); err != nil {
		return Result{}, fatal(tesseractName, fmt.Errorf("set language %s: %w", strings.Join(t.langs, "+"), err))
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return Result{}, transient(tesseractName, fmt.Errorf("set image: %w", err))
	}

	text, err := client.Text()
	if err != nil {
		return Result{}, transient(tesseractName, err)
	}
	text = CleanText(text)
	return Result{Text: text, Confidence: printableRatio(text), Method: tesseractName}, nil
}
