package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

const (
	mistralName            = "mistral"
	DefaultMistralEndpoint = "https://api.mistral.ai/v1/ocr"
	DefaultMistralModel    = "mistral-ocr-latest"
	mistralConfidence      = 0.95
)

type mistralPage struct {
	Index    int    `json:"index"`    // 0-indexed
	Markdown string `json:"markdown"` // extracted markdown
}

type mistralResponse struct {
	Pages []mistralPage `json:"pages"`
}

type MistralOptions struct {
	APIKey     string
	Model      string
	Endpoint   string
	RPS        float64 // 0 disables pacing
	HTTPClient *http.Client
}

// Mistral sends the whole PDF (or its source URL) to the Mistral OCR API
// and asks for a single page back.
type Mistral struct {
	key      string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewMistral(o MistralOptions) *Mistral {
	m := &Mistral{
		key:      strings.TrimSpace(o.APIKey),
		model:    o.Model,
		endpoint: o.Endpoint,
		client:   o.HTTPClient,
		limiter:  newLimiter(o.RPS),
	}
	if m.model == "" {
		m.model = DefaultMistralModel
	}
	if m.endpoint == "" {
		m.endpoint = DefaultMistralEndpoint
	}
	if m.client == nil {
		m.client = http.DefaultClient
	}
	return m
}

func (m *Mistral) Name() string      { return mistralName }
func (m *Mistral) IsAvailable() bool { return m.key != "" }

func (m *Mistral) ExtractText(ctx context.Context, src Source, page int) (Result, error) {
	if !m.IsAvailable() {
		return Result{}, unavailable(mistralName, errors.New("missing MISTRAL_API_KEY"))
	}
	if err := wait(ctx, m.limiter); err != nil {
		return Result{}, transient(mistralName, err)
	}

	documentURL := ""
	if u, ok := src.(URLSource); ok {
		documentURL = u.SourceURL()
	}
	if documentURL == "" {
		documentURL = "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(src.Bytes())
	}

	body := map[string]any{
		"model": m.model,
		"document": map[string]any{
			"type":         "document_url",
			"document_url": documentURL,
		},
		"pages": []int{page - 1},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Result{}, fatal(mistralName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(b))
	if err != nil {
		return Result{}, fatal(mistralName, err)
	}
	req.Header.Set("Authorization", "Bearer "+m.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Result{}, transient(mistralName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, statusError(mistralName, resp)
	}

	var parsed mistralResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, transient(mistralName, fmt.Errorf("decode response: %w", err))
	}

	for _, p := range parsed.Pages {
		if p.Index == page-1 {
			return Result{Text: CleanText(p.Markdown), Confidence: mistralConfidence, Method: mistralName}, nil
		}
	}
	if len(parsed.Pages) == 1 {
		return Result{Text: CleanText(parsed.Pages[0].Markdown), Confidence: mistralConfidence, Method: mistralName}, nil
	}
	return Result{}, transient(mistralName, fmt.Errorf("page %d missing from response", page))
}

// statusError maps a non-2xx response to an error kind: throttling and
// server errors are transient, everything else is a caller or credential
// problem and fatal.
func statusError(backend string, resp *http.Response) error {
	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	if resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode >= 500 {
		return transient(backend, err)
	}
	return fatal(backend, err)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
