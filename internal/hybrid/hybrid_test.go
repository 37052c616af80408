package hybrid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/text-extraction-service/internal/detector"
	"github.com/toricodesthings/text-extraction-service/internal/extractor/extractortest"
	"github.com/toricodesthings/text-extraction-service/internal/metrics"
	"github.com/toricodesthings/text-extraction-service/internal/ocr"
	"github.com/toricodesthings/text-extraction-service/internal/router"
	"github.com/toricodesthings/text-extraction-service/internal/types"
)

type stubOCR struct {
	name  string
	fail  error
	delay func(page int) time.Duration
	calls atomic.Int32
}

func (s *stubOCR) Name() string      { return s.name }
func (s *stubOCR) IsAvailable() bool { return true }

func (s *stubOCR) ExtractText(ctx context.Context, _ ocr.Source, page int) (ocr.Result, error) {
	s.calls.Add(1)
	if s.delay != nil {
		time.Sleep(s.delay(page))
	}
	if s.fail != nil {
		return ocr.Result{}, s.fail
	}
	return ocr.Result{Text: fmt.Sprintf("ocr text %d", page), Confidence: 0.9, Method: s.name}, nil
}

func newProcessor(chain *ocr.Chain) *Processor {
	var avail router.OCRAvailability
	if chain != nil {
		avail = chain
	}
	return New(
		detector.New(detector.DefaultTextThreshold, detector.DefaultImageThreshold),
		router.New(avail, router.Options{}),
		chain,
		metrics.New(),
		Options{IncludePageMarkers: true, MaxPageWorkers: 3},
	)
}

func TestExtract_PureTextIsAllDirect(t *testing.T) {
	backend := &stubOCR{name: "mistral"}
	p := newProcessor(ocr.NewChain(time.Second, backend))

	for _, q := range []types.Quality{types.QualityFast, types.QualityBalanced, types.QualityAccurate} {
		res := p.Extract(context.Background(), extractortest.New(extractortest.TextPage("a"), extractortest.TextPage("b")), q)
		require.True(t, res.Success)
		assert.Equal(t, types.PureText, res.PDFType)
		require.Len(t, res.Pages, 2)
		for _, pr := range res.Pages {
			assert.Equal(t, types.MethodDirect, pr.ExtractionMethod)
			assert.Equal(t, 1.0, pr.Confidence)
		}
		assert.Equal(t, "--- Page 1 ---\na\n\n--- Page 2 ---\nb", res.FullText)
		assert.Equal(t, 10, res.WordCount)
		assert.Equal(t, "direct", res.ExtractionMethod)
	}
	assert.Zero(t, backend.calls.Load())
}

func TestExtract_ConcreteHybridScenario(t *testing.T) {
	backend := &stubOCR{name: "mistral"}
	p := newProcessor(ocr.NewChain(time.Second, backend))

	doc := extractortest.New(
		extractortest.FakePage{TextBlocks: 5, Text: "Invoice header"},
		extractortest.FakePage{},
		extractortest.FakePage{ImageBlocks: 2},
	)
	res := p.Extract(context.Background(), doc, types.QualityBalanced)
	require.True(t, res.Success)

	assert.Equal(t, types.Hybrid, res.PDFType)
	assert.InDelta(t, 2.0/3.0, res.Confidence, 1e-9)
	require.NotNil(t, res.Routing)
	assert.Equal(t, []int{1}, res.Routing.DirectPages)
	assert.Equal(t, []int{2, 3}, res.Routing.OCRPages)

	require.Len(t, res.Pages, 3)
	assert.Equal(t, types.MethodDirect, res.Pages[0].ExtractionMethod)
	assert.Equal(t, "mistral", res.Pages[1].ExtractionMethod)
	assert.Equal(t, "ocr text 2", res.Pages[1].Text)
	assert.Equal(t, "mistral", res.Pages[2].ExtractionMethod)
	assert.Equal(t, "hybrid (direct + mistral)", res.ExtractionMethod)
	assert.Equal(t,
		"--- Page 1 ---\nInvoice header\n\n--- Page 2 (OCR: mistral) ---\nocr text 2\n\n--- Page 3 (OCR: mistral) ---\nocr text 3",
		res.FullText)
	assert.Equal(t, len(strings.Fields(res.FullText)), res.WordCount)

	require.NotNil(t, res.BackendStatus)
	assert.Equal(t, []string{"mistral"}, res.BackendStatus.Chain)
	assert.Equal(t, 2, res.BackendStatus.AttemptedPages)
	assert.Equal(t, 2, res.BackendStatus.SuccessfulPages)
	assert.Empty(t, res.PageErrors)
}

func TestExtract_AllBackendsFailDegradesToDirect(t *testing.T) {
	down := &stubOCR{name: "mistral", fail: errors.New("503 service unavailable")}
	also := &stubOCR{name: "gemini", fail: errors.New("429 too many requests")}
	p := newProcessor(ocr.NewChain(time.Second, down, also))

	doc := extractortest.New(
		extractortest.TextPage("cover letter"),
		extractortest.FakePage{ImageBlocks: 1, Text: "faint layer"},
		extractortest.ScanPage(),
	)
	res := p.Extract(context.Background(), doc, types.QualityAccurate)

	require.True(t, res.Success)
	require.Len(t, res.Pages, 3)
	assert.Equal(t, types.MethodDirect, res.Pages[0].ExtractionMethod)
	assert.Equal(t, types.MethodDirectFallback, res.Pages[1].ExtractionMethod)
	assert.Equal(t, "faint layer", res.Pages[1].Text)
	assert.Equal(t, types.MethodDirectFallback, res.Pages[2].ExtractionMethod)
	assert.Equal(t, "", res.Pages[2].Text)
	assert.Equal(t, "direct (ocr unavailable)", res.ExtractionMethod)

	assert.Equal(t, 2, res.BackendStatus.FailedPages)
	require.Len(t, res.PageErrors, 4)
	assert.Equal(t, 2, res.PageErrors[0].PageNumber)
	assert.Equal(t, 3, res.PageErrors[3].PageNumber)
	assert.Contains(t, res.FullText, "--- Page 2 ---\nfaint layer")
}

func TestExtract_NoOCRConfigured(t *testing.T) {
	p := newProcessor(nil)
	res := p.Extract(context.Background(), extractortest.New(extractortest.ScanPage(), extractortest.ScanPage()), types.QualityAccurate)

	require.True(t, res.Success)
	assert.Equal(t, types.PureImage, res.PDFType)
	assert.Equal(t, types.DirectOnly, res.Routing.Strategy)
	for _, pr := range res.Pages {
		assert.Equal(t, types.MethodDirect, pr.ExtractionMethod)
	}
	assert.Empty(t, res.BackendStatus.Chain)
}

func TestExtract_ZeroPages(t *testing.T) {
	res := newProcessor(nil).Extract(context.Background(), extractortest.New(), types.QualityBalanced)
	require.True(t, res.Success)
	assert.Equal(t, types.Unknown, res.PDFType)
	assert.Equal(t, 0, res.TotalPages)
	assert.Empty(t, res.Pages)
	assert.Equal(t, "", res.FullText)
	assert.Zero(t, res.Confidence)
}

func TestExtract_UnreadableDocument(t *testing.T) {
	doc := extractortest.New(extractortest.TextPage("ok"), extractortest.TextPage("ok"))
	doc.PageErr = map[int]error{2: errors.New("xref broken")}

	res := newProcessor(nil).Extract(context.Background(), doc, types.QualityBalanced)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, detector.ErrDocumentUnreadable.Error())
	assert.Equal(t, "none", res.ExtractionMethod)
}

func TestExtract_EveryPageFails(t *testing.T) {
	broken := errors.New("content stream truncated")
	doc := extractortest.New(
		extractortest.FakePage{TextBlocks: 3, TextErr: broken},
		extractortest.FakePage{TextBlocks: 4, TextErr: broken},
	)
	res := newProcessor(nil).Extract(context.Background(), doc, types.QualityFast)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrNoPageExtracted.Error(), *res.Error)
	assert.Len(t, res.Pages, 2)
}

func TestExtract_OnePageFailingIsNotFatal(t *testing.T) {
	doc := extractortest.New(
		extractortest.TextPage("fine"),
		extractortest.FakePage{TextBlocks: 4, TextErr: errors.New("bad font")},
	)
	res := newProcessor(nil).Extract(context.Background(), doc, types.QualityFast)
	assert.True(t, res.Success)
	assert.Equal(t, "--- Page 1 ---\nfine", res.FullText)
}

func TestExtract_ConcurrentPagesStayOrdered(t *testing.T) {
	backend := &stubOCR{
		name:  "gemini",
		delay: func(page int) time.Duration { return time.Duration(12-page) * time.Millisecond },
	}
	p := newProcessor(ocr.NewChain(time.Second, backend))

	pages := make([]extractortest.FakePage, 12)
	for i := range pages {
		pages[i] = extractortest.ScanPage()
	}
	res := p.Extract(context.Background(), extractortest.New(pages...), types.QualityBalanced)

	require.True(t, res.Success)
	require.Len(t, res.Pages, 12)
	for i, pr := range res.Pages {
		assert.Equal(t, i+1, pr.PageNumber)
		assert.Equal(t, fmt.Sprintf("ocr text %d", i+1), pr.Text)
	}
	assert.Equal(t, "ocr (gemini)", res.ExtractionMethod)
	assert.Less(t, strings.Index(res.FullText, "ocr text 2"), strings.Index(res.FullText, "ocr text 11"))
}

func TestExtractBytes_RejectsGarbage(t *testing.T) {
	res := newProcessor(nil).ExtractBytes(context.Background(), "junk.pdf", []byte("not a pdf"), types.QualityBalanced)
	assert.False(t, res.Success)
	assert.Equal(t, "junk.pdf", res.FileName)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "document unreadable")
}

func TestExtractBytes_BrokenPageTree(t *testing.T) {
	data := []byte(strings.Replace(string(extractortest.MinimalPDF("Invoice 2024-001")), "/Pages 2 0 R", "/Pages 9 0 R", 1))

	res := newProcessor(nil).ExtractBytes(context.Background(), "broken.pdf", data, types.QualityBalanced)
	assert.False(t, res.Success)
	assert.Equal(t, types.Unknown, res.PDFType)
	assert.Empty(t, res.FullText)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "document unreadable")
}

func TestExtractPlanned_SkipsClassification(t *testing.T) {
	// Blocks would fail, so reclassifying would make the document unreadable.
	blocksErr := errors.New("blocks unavailable")
	doc := extractortest.New(
		extractortest.FakePage{Text: "first page", BlocksErr: blocksErr},
		extractortest.FakePage{Text: "second page", BlocksErr: blocksErr},
	)
	backend := &stubOCR{name: "mistral"}
	p := newProcessor(ocr.NewChain(time.Second, backend))

	cls := types.DocumentClassification{
		DocumentType: types.Hybrid,
		TotalPages:   2,
		TextPages:    []int{1},
		ImagePages:   []int{2},
		HybridPages:  []int{},
		Confidence:   0.5,
		Pages: []types.PageAnalysis{
			{PageNumber: 1, Label: types.LabelText, TextBlocks: 3},
			{PageNumber: 2, Label: types.LabelImage, ImageBlocks: 1},
		},
	}
	decision := types.RoutingDecision{
		Quality:     types.QualityBalanced,
		Strategy:    types.OCRSelective,
		DirectPages: []int{1},
		OCRPages:    []int{2},
	}

	res := p.ExtractPlanned(context.Background(), doc, cls, decision)
	require.True(t, res.Success)
	assert.Contains(t, res.FullText, "--- Page 1 ---\nfirst page")
	assert.Contains(t, res.FullText, "--- Page 2 (OCR: mistral) ---\nocr text 2")
	assert.Equal(t, int32(1), backend.calls.Load())
	assert.Equal(t, types.Hybrid, res.PDFType)
	require.NotNil(t, res.Routing)
	assert.Equal(t, decision.OCRPages, res.Routing.OCRPages)

	failed := p.Extract(context.Background(), doc, types.QualityBalanced)
	assert.False(t, failed.Success)
}

func TestPlan(t *testing.T) {
	p := newProcessor(ocr.NewChain(time.Second, &stubOCR{name: "mistral"}))
	cls, decision, err := p.Plan(extractortest.New(extractortest.TextPage("a"), extractortest.ScanPage()), types.QualityBalanced)
	require.NoError(t, err)
	assert.Equal(t, types.Hybrid, cls.DocumentType)
	assert.Equal(t, []int{2}, decision.OCRPages)
}

func TestSummarizeMethod(t *testing.T) {
	assert.Equal(t, "direct", summarizeMethod(nil))
	assert.Equal(t, "hybrid (direct + gemini, mistral)", summarizeMethod([]types.PageResult{
		{ExtractionMethod: "mistral"}, {ExtractionMethod: types.MethodDirect}, {ExtractionMethod: "gemini"},
	}))
}
