package ocr

import (
	"context"

	"github.com/toricodesthings/text-extraction-service/internal/extractor"
)

// Rasterizer renders one 1-indexed page of a PDF to PNG.
type Rasterizer func(ctx context.Context, pdf []byte, page, dpi int) ([]byte, error)

// rasterizerOrDefault falls back to poppler and reports whether the chosen
// rasterizer can run on this host.
func rasterizerOrDefault(r Rasterizer) (Rasterizer, bool) {
	if r != nil {
		return r, true
	}
	return extractor.RenderPagePNG, extractor.PopplerAvailable()
}
