package ocr

import (
	"net/http"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/text-extraction-service/internal/config"
)

const tesseractName = "tesseract"

type TesseractOptions struct {
	Langs  []string
	DPI    int
	Render Rasterizer // nil uses pdftoppm
}

func (o TesseractOptions) withDefaults() TesseractOptions {
	if len(o.Langs) == 0 {
		o.Langs = []string{"deu", "eng"}
	}
	if o.DPI <= 0 {
		o.DPI = 300
	}
	return o
}

// FromConfig builds the backends named in cfg.OCRBackends, in that order.
// Unknown names are skipped; config.Validate rejects them earlier.
func FromConfig(cfg config.Config, client *http.Client) []Backend {
	out := make([]Backend, 0, len(cfg.OCRBackends))
	for _, name := range cfg.OCRBackends {
		var b Backend
		switch name {
		case mistralName:
			b = NewMistral(MistralOptions{
				APIKey:     cfg.MistralAPIKey,
				Model:      cfg.MistralModel,
				RPS:        cfg.MistralRPS,
				HTTPClient: client,
			})
		case geminiName:
			b = NewGemini(GeminiOptions{
				APIKey:     cfg.GeminiAPIKey,
				Model:      cfg.GeminiModel,
				RPS:        cfg.GeminiRPS,
				DPI:        cfg.RasterDPI,
				HTTPClient: client,
			})
		case tesseractName:
			b = NewTesseract(TesseractOptions{Langs: cfg.TesseractLangs, DPI: cfg.RasterDPI})
		default:
			log.Warn().Str("backend", name).Msg("unknown ocr backend, skipping")
			continue
		}
		log.Info().Str("backend", name).Bool("available", b.IsAvailable()).Msg("ocr backend configured")
		out = append(out, b)
	}
	return out
}

// NewChainFromConfig is FromConfig wrapped in a Chain with the configured
// per-call timeout.
func NewChainFromConfig(cfg config.Config, client *http.Client) *Chain {
	return NewChain(cfg.OCRCallTimeout, FromConfig(cfg, client)...)
}

// printableRatio approximates OCR confidence from the share of printable
// runes.
func printableRatio(text string) float64 {
	if text == "" {
		return 0
	}
	printable, total := 0, 0
	for _, r := range text {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable) / float64(total)
}
