// Package hybrid runs the extraction pipeline: classify the document, route
// its pages, read text-layer pages directly and send the rest through the
// OCR fallback chain, then assemble the result in page order.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/toricodesthings/text-extraction-service/internal/config"
	"github.com/toricodesthings/text-extraction-service/internal/detector"
	"github.com/toricodesthings/text-extraction-service/internal/extractor"
	"github.com/toricodesthings/text-extraction-service/internal/format"
	"github.com/toricodesthings/text-extraction-service/internal/metrics"
	"github.com/toricodesthings/text-extraction-service/internal/ocr"
	"github.com/toricodesthings/text-extraction-service/internal/quality"
	"github.com/toricodesthings/text-extraction-service/internal/router"
	"github.com/toricodesthings/text-extraction-service/internal/types"
)

// ErrNoPageExtracted means every page failed, including direct fallback.
var ErrNoPageExtracted = errors.New("no page could be extracted")

type Options struct {
	IncludePageMarkers bool
	MinWordsThreshold  int
	MaxPageWorkers     int // concurrent OCR pages per document
}

func (o Options) withDefaults() Options {
	if o.MinWordsThreshold <= 0 {
		o.MinWordsThreshold = 20
	}
	if o.MaxPageWorkers <= 0 {
		o.MaxPageWorkers = 4
	}
	return o
}

type Processor struct {
	detector *detector.Detector
	router   *router.Router
	chain    *ocr.Chain
	metrics  *metrics.Metrics
	opts     Options
}

// New wires the pipeline. chain may be nil (direct extraction only) and so
// may m.
func New(d *detector.Detector, r *router.Router, chain *ocr.Chain, m *metrics.Metrics, opts Options) *Processor {
	return &Processor{detector: d, router: r, chain: chain, metrics: m, opts: opts.withDefaults()}
}

// NewFromConfig wires the detector and router from cfg around chain.
func NewFromConfig(cfg config.Config, chain *ocr.Chain, m *metrics.Metrics) *Processor {
	return New(
		detector.New(cfg.TextBlockThreshold, cfg.ImageBlockThreshold),
		router.New(chain, router.Options{
			CostPerOCRPage:    cfg.CostPerOCRPage,
			TimePerOCRPage:    cfg.TimePerOCRPage,
			TimePerDirectPage: cfg.TimePerDirectPage,
		}),
		chain,
		m,
		Options{
			IncludePageMarkers: cfg.IncludePageMarkers,
			MinWordsThreshold:  cfg.MinWordsThreshold,
			MaxPageWorkers:     cfg.MaxPageWorkers,
		},
	)
}

// Plan classifies and routes without extracting anything.
func (p *Processor) Plan(doc extractor.Document, q types.Quality) (types.DocumentClassification, types.RoutingDecision, error) {
	cls, err := p.detector.Classify(doc)
	if err != nil {
		return types.DocumentClassification{}, types.RoutingDecision{}, err
	}
	return cls, p.router.Route(cls, q), nil
}

// ExtractBytes opens raw PDF bytes and extracts them.
func (p *Processor) ExtractBytes(ctx context.Context, name string, data []byte, q types.Quality) types.ExtractionResult {
	start := time.Now()
	doc, err := extractor.Open(name, data)
	if err != nil {
		res := failed(name, fmt.Errorf("%w: %v", detector.ErrDocumentUnreadable, err), start)
		p.metrics.RecordExtraction(q, res, time.Since(start))
		return res
	}
	return p.Extract(ctx, doc, q)
}

// Extract never returns an error: failures are reported through Success and
// Error on the result.
func (p *Processor) Extract(ctx context.Context, doc extractor.Document, q types.Quality) types.ExtractionResult {
	start := time.Now()

	cls, decision, err := p.Plan(doc, q)
	if err != nil {
		log.Error().Err(err).Str("file", doc.Name()).Msg("classification failed")
		res := failed(doc.Name(), err, start)
		p.metrics.RecordExtraction(q, res, time.Since(start))
		return res
	}
	return p.extractPlanned(ctx, doc, cls, decision, start)
}

// ExtractPlanned extracts doc along a plan previously returned by Plan for
// the same document, skipping classification.
func (p *Processor) ExtractPlanned(ctx context.Context, doc extractor.Document, cls types.DocumentClassification, decision types.RoutingDecision) types.ExtractionResult {
	return p.extractPlanned(ctx, doc, cls, decision, time.Now())
}

func (p *Processor) extractPlanned(ctx context.Context, doc extractor.Document, cls types.DocumentClassification, decision types.RoutingDecision, start time.Time) types.ExtractionResult {
	res := types.ExtractionResult{
		FileName:   doc.Name(),
		PDFType:    cls.DocumentType,
		TotalPages: cls.TotalPages,
		Pages:      []types.PageResult{},
		Confidence: cls.Confidence,
		Routing:    &decision,
	}

	labels := make(map[int]types.PageLabel, len(cls.Pages))
	for _, a := range cls.Pages {
		labels[a.PageNumber] = a.Label
	}

	pages := make([]types.PageResult, cls.TotalPages)
	readFailed := make([]bool, cls.TotalPages)

	for _, n := range decision.DirectPages {
		pr, err := p.directPage(doc, n, labels[n])
		if err != nil {
			log.Warn().Err(err).Str("file", doc.Name()).Int("page", n).Msg("direct extraction failed")
			readFailed[n-1] = true
		}
		pages[n-1] = pr
	}

	status := p.backendStatus(len(decision.OCRPages))
	pageErrs := p.runOCR(ctx, doc, decision.OCRPages, labels, pages, readFailed, status)

	failedPages := 0
	for _, f := range readFailed {
		if f {
			failedPages++
		}
	}

	res.Pages = pages
	res.FullText = format.Combine(pages, p.opts.IncludePageMarkers)
	res.WordCount = format.CountWords(res.FullText)
	res.ExtractionMethod = summarizeMethod(pages)
	res.BackendStatus = status
	res.PageErrors = pageErrs
	res.Success = cls.TotalPages == 0 || failedPages < cls.TotalPages
	if !res.Success {
		msg := ErrNoPageExtracted.Error()
		res.Error = &msg
	}
	res.ProcessingTimeMs = msSince(start)

	log.Info().
		Str("file", doc.Name()).
		Str("pdf_type", string(res.PDFType)).
		Str("quality", string(decision.Quality)).
		Str("strategy", string(decision.Strategy)).
		Int("pages", res.TotalPages).
		Int("ocr_pages", len(decision.OCRPages)).
		Int("ocr_failed", status.FailedPages).
		Int("words", res.WordCount).
		Float64("ms", res.ProcessingTimeMs).
		Bool("success", res.Success).
		Msg("extraction finished")

	p.metrics.RecordExtraction(decision.Quality, res, time.Since(start))
	return res
}

// runOCR fills pages for every OCR-routed page, falling back to the text
// layer when the chain is exhausted. Each goroutine owns one slot of pages
// and readFailed.
func (p *Processor) runOCR(
	ctx context.Context,
	doc extractor.Document,
	ocrPages []int,
	labels map[int]types.PageLabel,
	pages []types.PageResult,
	readFailed []bool,
	status *types.BackendStatus,
) []types.PageError {
	if len(ocrPages) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		pageErrs []types.PageError
	)

	g := new(errgroup.Group)
	g.SetLimit(p.opts.MaxPageWorkers)
	for _, n := range ocrPages {
		g.Go(func() error {
			start := time.Now()
			var (
				res  ocr.Result
				errs []types.PageError
				err  = ocr.ErrChainExhausted
			)
			if p.chain != nil {
				res, errs, err = p.chain.Extract(ctx, doc, n)
			}

			var pr types.PageResult
			if err == nil {
				pr = types.PageResult{
					PageNumber:       n,
					Text:             res.Text,
					Confidence:       res.Confidence,
					ExtractionMethod: res.Method,
					WordCount:        format.CountWords(res.Text),
					ProcessingTimeMs: msSince(start),
				}
			} else {
				log.Warn().Str("file", doc.Name()).Int("page", n).Msg("ocr exhausted, falling back to text layer")
				var derr error
				pr, derr = p.directPage(doc, n, labels[n])
				pr.ExtractionMethod = types.MethodDirectFallback
				pr.ProcessingTimeMs = msSince(start)
				if derr != nil {
					readFailed[n-1] = true
				}
			}
			pages[n-1] = pr

			mu.Lock()
			defer mu.Unlock()
			pageErrs = append(pageErrs, errs...)
			if err == nil {
				status.SuccessfulPages++
			} else {
				status.FailedPages++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(pageErrs, func(i, j int) bool { return pageErrs[i].PageNumber < pageErrs[j].PageNumber })
	return pageErrs
}

// directPage reads the embedded text layer. A read failure still yields a
// PageResult with empty text so the page keeps its slot.
func (p *Processor) directPage(doc extractor.Document, n int, label types.PageLabel) (types.PageResult, error) {
	start := time.Now()
	pr := types.PageResult{PageNumber: n, ExtractionMethod: types.MethodDirect}

	page, err := doc.Page(n)
	if err != nil {
		pr.ProcessingTimeMs = msSince(start)
		return pr, err
	}
	text, err := page.Text()
	if err != nil {
		pr.ProcessingTimeMs = msSince(start)
		return pr, err
	}

	pr.Text = text
	pr.WordCount = format.CountWords(text)
	if label == types.LabelText {
		pr.Confidence = 1.0
	} else {
		pr.Confidence = quality.Assess(text, p.opts.MinWordsThreshold).Score
	}
	pr.ProcessingTimeMs = msSince(start)
	return pr, nil
}

func (p *Processor) backendStatus(ocrPages int) *types.BackendStatus {
	s := &types.BackendStatus{
		Chain:          []string{},
		Available:      map[string]bool{},
		AttemptedPages: ocrPages,
	}
	if p.chain != nil {
		s.Chain = p.chain.Names()
		s.Available = p.chain.Availability()
	}
	return s
}

// summarizeMethod names the overall method: "direct", "ocr (a, b)" when
// every page was OCR'd, or "hybrid (direct + a, b)".
func summarizeMethod(pages []types.PageResult) string {
	backends := map[string]struct{}{}
	direct, fallback := 0, 0
	for _, pr := range pages {
		switch {
		case pr.UsedOCR():
			backends[pr.ExtractionMethod] = struct{}{}
		case pr.ExtractionMethod == types.MethodDirectFallback:
			fallback++
		default:
			direct++
		}
	}
	if len(backends) == 0 {
		if fallback > 0 {
			return "direct (ocr unavailable)"
		}
		return types.MethodDirect
	}

	names := make([]string, 0, len(backends))
	for b := range backends {
		names = append(names, b)
	}
	sort.Strings(names)
	if direct+fallback == 0 {
		return "ocr (" + strings.Join(names, ", ") + ")"
	}
	return "hybrid (direct + " + strings.Join(names, ", ") + ")"
}

func failed(name string, err error, start time.Time) types.ExtractionResult {
	msg := err.Error()
	return types.ExtractionResult{
		Success:          false,
		FileName:         name,
		PDFType:          types.Unknown,
		Pages:            []types.PageResult{},
		ExtractionMethod: "none",
		ProcessingTimeMs: msSince(start),
		Error:            &msg,
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
