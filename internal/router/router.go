// Package router decides, per page, whether text comes straight from the
// PDF text layer or goes through OCR, and estimates what that will cost.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/toricodesthings/text-extraction-service/internal/types"
)

const (
	DefaultCostPerOCRPage    = 0.005 // EUR
	DefaultTimePerOCRPage    = 3.0   // seconds
	DefaultTimePerDirectPage = 0.1   // seconds
)

// OCRAvailability reports whether at least one OCR backend can be used.
// ocr.Chain satisfies it.
type OCRAvailability interface {
	Available() bool
}

type Options struct {
	CostPerOCRPage    float64
	TimePerOCRPage    float64
	TimePerDirectPage float64
}

func (o Options) withDefaults() Options {
	if o.CostPerOCRPage <= 0 {
		o.CostPerOCRPage = DefaultCostPerOCRPage
	}
	if o.TimePerOCRPage <= 0 {
		o.TimePerOCRPage = DefaultTimePerOCRPage
	}
	if o.TimePerDirectPage <= 0 {
		o.TimePerDirectPage = DefaultTimePerDirectPage
	}
	return o
}

type Router struct {
	ocr  OCRAvailability
	opts Options
}

// New returns a router. A nil ocr means no OCR is configured and every
// document routes direct_only.
func New(ocr OCRAvailability, opts Options) *Router {
	return &Router{ocr: ocr, opts: opts.withDefaults()}
}

func (r *Router) hasOCR() bool {
	return r.ocr != nil && r.ocr.Available()
}

// Route maps a classification and quality tier to a page assignment. An
// unrecognised quality is treated as balanced.
func (r *Router) Route(c types.DocumentClassification, q types.Quality) types.RoutingDecision {
	q = normalizeQuality(q)

	requested := Strategy(c.DocumentType, q)
	strategy := requested
	ocrAvailable := r.hasOCR()
	if strategy != types.DirectOnly && !ocrAvailable {
		strategy = types.DirectOnly
	}

	direct, ocrPages := selectPages(c, strategy, q)

	d := types.RoutingDecision{
		DocumentType: c.DocumentType,
		Quality:      q,
		Strategy:     strategy,
		TotalPages:   c.TotalPages,
		DirectPages:  direct,
		OCRPages:     ocrPages,
	}
	d.EstimatedCost, d.EstimatedTimeSeconds = r.Estimate(len(ocrPages), len(direct))
	d.Reasoning = reasoning(d, requested != strategy)
	return d
}

// Estimate returns the advisory cost in EUR and duration in seconds for the
// given page counts.
func (r *Router) Estimate(ocrPages, directPages int) (cost, seconds float64) {
	cost = float64(ocrPages) * r.opts.CostPerOCRPage
	seconds = float64(ocrPages)*r.opts.TimePerOCRPage + float64(directPages)*r.opts.TimePerDirectPage
	return cost, seconds
}

// Strategy is the routing table, before any OCR availability downgrade.
func Strategy(dt types.DocumentType, q types.Quality) types.Strategy {
	if q == types.QualityFast {
		return types.DirectOnly
	}
	switch dt {
	case types.PureImage:
		return types.OCRAll
	case types.Hybrid:
		return types.OCRSelective
	default:
		return types.DirectOnly
	}
}

func normalizeQuality(q types.Quality) types.Quality {
	switch q {
	case types.QualityFast, types.QualityBalanced, types.QualityAccurate:
		return q
	default:
		return types.QualityBalanced
	}
}

func selectPages(c types.DocumentClassification, s types.Strategy, q types.Quality) (direct, ocr []int) {
	all := make([]int, c.TotalPages)
	for i := range all {
		all[i] = i + 1
	}

	switch s {
	case types.OCRAll:
		return []int{}, all
	case types.OCRSelective:
		direct = append([]int{}, c.TextPages...)
		ocr = append([]int{}, c.ImagePages...)
		// accurate also verifies pages whose text layer looked mixed
		if q == types.QualityAccurate {
			ocr = append(ocr, c.HybridPages...)
		} else {
			direct = append(direct, c.HybridPages...)
		}
		sort.Ints(direct)
		sort.Ints(ocr)
		return direct, ocr
	default:
		return all, []int{}
	}
}

func reasoning(d types.RoutingDecision, downgraded bool) string {
	parts := []string{
		"PDF type: " + string(d.DocumentType),
		"Quality: " + string(d.Quality),
		"Strategy: " + string(d.Strategy),
	}
	if len(d.DirectPages) > 0 {
		parts = append(parts, "Direct extraction: "+describePages(d.DirectPages))
	}
	switch {
	case len(d.OCRPages) > 0:
		parts = append(parts, "OCR extraction: "+describePages(d.OCRPages))
	case downgraded:
		parts = append(parts, "OCR backend unavailable, using direct only")
	default:
		parts = append(parts, "No OCR required")
	}
	return strings.Join(parts, " | ")
}

func describePages(pages []int) string {
	if len(pages) > 5 {
		return fmt.Sprintf("%d pages", len(pages))
	}
	return fmt.Sprintf("pages %v", pages)
}
