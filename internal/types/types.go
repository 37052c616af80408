package types

import (
	"fmt"
	"strings"
	"time"
)

// ── Classification ───────────────────────────────────────────────────────────

type PageLabel string

const (
	LabelText  PageLabel = "text"
	LabelImage PageLabel = "image"
	LabelEmpty PageLabel = "empty"
)

type DocumentType string

const (
	PureText  DocumentType = "pure_text"
	PureImage DocumentType = "pure_image"
	Hybrid    DocumentType = "hybrid"
	Unknown   DocumentType = "unknown"
)

type PageAnalysis struct {
	PageNumber  int       `json:"pageNumber"` // 1-indexed
	TextBlocks  int       `json:"textBlocks"`
	ImageBlocks int       `json:"imageBlocks"`
	Label       PageLabel `json:"label"`
	Empty       bool      `json:"empty,omitempty"` // no blocks at all; Label is still "image"
}

type DocumentClassification struct {
	DocumentType DocumentType   `json:"documentType"`
	TotalPages   int            `json:"totalPages"`
	TextPages    []int          `json:"textPages"`
	ImagePages   []int          `json:"imagePages"`
	HybridPages  []int          `json:"hybridPages"`
	Confidence   float64        `json:"confidence"`
	Pages        []PageAnalysis `json:"pages,omitempty"`
}

// ── Routing ──────────────────────────────────────────────────────────────────

type Quality string

const (
	QualityFast     Quality = "fast"
	QualityBalanced Quality = "balanced"
	QualityAccurate Quality = "accurate"
)

// ParseQuality accepts the three tier names case-insensitively. An empty
// string yields QualityBalanced.
func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case "":
		return QualityBalanced, nil
	case QualityFast, QualityBalanced, QualityAccurate:
		return q, nil
	default:
		return "", fmt.Errorf("quality must be one of fast, balanced, accurate (got %q)", s)
	}
}

type Strategy string

const (
	DirectOnly   Strategy = "direct_only"
	OCRSelective Strategy = "ocr_selective"
	OCRAll       Strategy = "ocr_all"
)

type RoutingDecision struct {
	DocumentType         DocumentType `json:"documentType"`
	Quality              Quality      `json:"quality"`
	Strategy             Strategy     `json:"strategy"`
	TotalPages           int          `json:"totalPages"`
	DirectPages          []int        `json:"directPages"`
	OCRPages             []int        `json:"ocrPages"`
	EstimatedCost        float64      `json:"estimatedCost"`
	EstimatedTimeSeconds float64      `json:"estimatedTimeSeconds"`
	Reasoning            string       `json:"reasoning"`
}

// ── Extraction ───────────────────────────────────────────────────────────────

const (
	MethodDirect         = "direct"
	MethodDirectFallback = "direct_fallback" // OCR was wanted but every backend failed
)

type PageResult struct {
	PageNumber       int     `json:"pageNumber"`
	Text             string  `json:"text"`
	Confidence       float64 `json:"confidence"`
	ExtractionMethod string  `json:"extractionMethod"` // "direct" | "direct_fallback" | backend name
	WordCount        int     `json:"wordCount"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
}

// UsedOCR reports whether an OCR backend produced the page text.
func (p PageResult) UsedOCR() bool {
	return p.ExtractionMethod != MethodDirect && p.ExtractionMethod != MethodDirectFallback
}

type PageError struct {
	PageNumber int    `json:"pageNumber"`
	Backend    string `json:"backend"`
	Kind       string `json:"kind"` // "unavailable" | "transient" | "fatal" | "render"
	Error      string `json:"error"`
}

type BackendStatus struct {
	Chain           []string        `json:"chain"`
	Available       map[string]bool `json:"available"`
	AttemptedPages  int             `json:"attemptedPages"`
	SuccessfulPages int             `json:"successfulPages"`
	FailedPages     int             `json:"failedPages"`
}

type ExtractionResult struct {
	Success          bool             `json:"success"`
	FileName         string           `json:"fileName,omitempty"`
	PDFType          DocumentType     `json:"pdfType"`
	TotalPages       int              `json:"totalPages"`
	Pages            []PageResult     `json:"pages"`
	FullText         string           `json:"text"`
	WordCount        int              `json:"wordCount"`
	Confidence       float64          `json:"confidence"`
	ProcessingTimeMs float64          `json:"processingTimeMs"`
	ExtractionMethod string           `json:"extractionMethod"`
	Routing          *RoutingDecision `json:"routing,omitempty"`
	BackendStatus    *BackendStatus   `json:"backendStatus,omitempty"`
	PageErrors       []PageError      `json:"pageErrors,omitempty"`
	Error            *string          `json:"error,omitempty"`
}

// ── Jobs ─────────────────────────────────────────────────────────────────────

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobPending:
		return 0
	case JobProcessing:
		return 1
	case JobCompleted, JobFailed:
		return 2
	}
	return -1
}

// CanTransition reports whether a job may move from s to next. Jobs only
// move forward and a terminal state is final.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

type Job struct {
	ID          string            `json:"jobId"`
	Status      JobStatus         `json:"status"`
	Progress    int               `json:"progress"` // 0-100
	FileName    string            `json:"fileName,omitempty"`
	Quality     Quality           `json:"quality"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Result      *ExtractionResult `json:"result,omitempty"`
	Error       *string           `json:"error,omitempty"`
	CallbackURL string            `json:"callbackUrl,omitempty"`
}

// ── HTTP requests ────────────────────────────────────────────────────────────

type ExtractRequest struct {
	PresignedURL string `json:"presignedUrl"`
	FileName     string `json:"fileName"`
	Quality      string `json:"quality"`
	CallbackURL  string `json:"callbackUrl"`
}

type ClassifyResponse struct {
	Success        bool                   `json:"success"`
	FileName       string                 `json:"fileName"`
	Classification DocumentClassification `json:"classification"`
	Routing        RoutingDecision        `json:"routing"`
}

type AsyncExtractResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	StatusURL string    `json:"statusUrl"`
	ResultURL string    `json:"resultUrl"`
}

type BackendInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}
