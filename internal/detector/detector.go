// Package detector labels PDF pages as text or image from their layout
// blocks and aggregates a whole-document type.
package detector

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/text-extraction-service/internal/extractor"
	"github.com/toricodesthings/text-extraction-service/internal/types"
)

// ErrDocumentUnreadable is returned when a document or one of its pages
// cannot be inspected.
var ErrDocumentUnreadable = errors.New("document unreadable")

const (
	DefaultTextThreshold  = 2
	DefaultImageThreshold = 1
)

// PageClassifier labels a single page. A page with at least TextThreshold
// text blocks is text; otherwise at least ImageThreshold image blocks make
// it image. A page with neither is also image: without a text layer it
// cannot be told apart from a scan.
type PageClassifier struct {
	TextThreshold  int
	ImageThreshold int
}

func NewPageClassifier(textThreshold, imageThreshold int) *PageClassifier {
	if textThreshold <= 0 {
		textThreshold = DefaultTextThreshold
	}
	if imageThreshold <= 0 {
		imageThreshold = DefaultImageThreshold
	}
	return &PageClassifier{TextThreshold: textThreshold, ImageThreshold: imageThreshold}
}

func (c *PageClassifier) Analyze(page extractor.Page) (types.PageAnalysis, error) {
	text, image, err := extractor.CountBlocks(page)
	if err != nil {
		return types.PageAnalysis{PageNumber: page.Number()}, err
	}
	return c.Label(page.Number(), text, image), nil
}

// Label applies the threshold rule to raw block counts.
func (c *PageClassifier) Label(pageNumber, textBlocks, imageBlocks int) types.PageAnalysis {
	a := types.PageAnalysis{
		PageNumber:  pageNumber,
		TextBlocks:  textBlocks,
		ImageBlocks: imageBlocks,
	}
	switch {
	case textBlocks >= c.TextThreshold:
		a.Label = types.LabelText
	case imageBlocks >= c.ImageThreshold:
		a.Label = types.LabelImage
	default:
		a.Label = types.LabelImage
		a.Empty = textBlocks == 0 && imageBlocks == 0
	}
	return a
}

// Detector is the document-level classifier.
type Detector struct {
	pages *PageClassifier
}

func New(textThreshold, imageThreshold int) *Detector {
	return &Detector{pages: NewPageClassifier(textThreshold, imageThreshold)}
}

func (d *Detector) Classify(doc extractor.Document) (types.DocumentClassification, error) {
	total := doc.PageCount()
	if total <= 0 {
		log.Warn().Str("file", doc.Name()).Msg("document has no pages")
		return types.DocumentClassification{
			DocumentType: types.Unknown,
			TextPages:    []int{},
			ImagePages:   []int{},
			HybridPages:  []int{},
		}, nil
	}

	out := types.DocumentClassification{
		TotalPages:  total,
		TextPages:   []int{},
		ImagePages:  []int{},
		HybridPages: []int{},
		Pages:       make([]types.PageAnalysis, 0, total),
	}

	for n := 1; n <= total; n++ {
		page, err := doc.Page(n)
		if err != nil {
			return types.DocumentClassification{}, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
		}
		a, err := d.pages.Analyze(page)
		if err != nil {
			return types.DocumentClassification{}, fmt.Errorf("%w: page %d: %v", ErrDocumentUnreadable, n, err)
		}
		out.Pages = append(out.Pages, a)
		if a.Label == types.LabelText {
			out.TextPages = append(out.TextPages, n)
		} else {
			out.ImagePages = append(out.ImagePages, n)
		}
	}

	out.DocumentType = documentType(total, len(out.TextPages), len(out.ImagePages))
	out.Confidence = float64(max(len(out.TextPages), len(out.ImagePages))) / float64(total)

	log.Debug().
		Str("file", doc.Name()).
		Str("pdf_type", string(out.DocumentType)).
		Int("text_pages", len(out.TextPages)).
		Int("image_pages", len(out.ImagePages)).
		Float64("confidence", out.Confidence).
		Msg("document classified")

	return out, nil
}

func documentType(total, textPages, imagePages int) types.DocumentType {
	switch {
	case total == 0:
		return types.Unknown
	case textPages == total:
		return types.PureText
	case imagePages == total:
		return types.PureImage
	default:
		return types.Hybrid
	}
}
