package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

const (
	geminiName            = "gemini"
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel    = "gemini-2.5-flash"
	geminiConfidence      = 0.92
)

// The invoices this service ingests are mostly German.
const geminiPrompt = `Extrahiere den gesamten Text aus diesem Dokument.

Regeln:
- Gib NUR den extrahierten Text zurück, keine Erklärungen
- Behalte die ursprüngliche Formatierung bei (Absätze, Listen, Tabellen)
- Bei Tabellen: Trenne Spalten mit | und Zeilen mit Zeilenumbrüchen
- Ignoriere Wasserzeichen und Hintergründe
- Bei unleserlichen Stellen schreibe [unleserlich]

Text:`

type GeminiOptions struct {
	APIKey     string
	Model      string
	Endpoint   string // base URL up to and including the API version
	RPS        float64
	DPI        int
	Render     Rasterizer // nil uses pdftoppm
	HTTPClient *http.Client
}

// Gemini renders the page to PNG and asks a vision model to transcribe it.
type Gemini struct {
	key         string
	model       string
	endpoint    string
	dpi         int
	render      Rasterizer
	renderReady bool
	client      *http.Client
	limiter     *rate.Limiter
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func NewGemini(o GeminiOptions) *Gemini {
	g := &Gemini{
		key:      strings.TrimSpace(o.APIKey),
		model:    o.Model,
		endpoint: strings.TrimRight(o.Endpoint, "/"),
		dpi:      o.DPI,
		client:   o.HTTPClient,
		limiter:  newLimiter(o.RPS),
	}
	g.render, g.renderReady = rasterizerOrDefault(o.Render)
	if g.model == "" {
		g.model = DefaultGeminiModel
	}
	if g.endpoint == "" {
		g.endpoint = DefaultGeminiEndpoint
	}
	if g.dpi <= 0 {
		g.dpi = 200
	}
	if g.client == nil {
		g.client = http.DefaultClient
	}
	return g
}

func (g *Gemini) Name() string      { return geminiName }
func (g *Gemini) IsAvailable() bool { return g.key != "" && g.renderReady }

func (g *Gemini) ExtractText(ctx context.Context, src Source, page int) (Result, error) {
	if g.key == "" {
		return Result{}, unavailable(geminiName, errors.New("missing GEMINI_API_KEY"))
	}
	if !g.renderReady {
		return Result{}, unavailable(geminiName, errors.New("pdftoppm not installed"))
	}

	png, err := g.render(ctx, src.Bytes(), page, g.dpi)
	if err != nil {
		return Result{}, transient(geminiName, fmt.Errorf("render page: %w", err))
	}
	if err := wait(ctx, g.limiter); err != nil {
		return Result{}, transient(geminiName, err)
	}

	var body geminiRequest
	body.Contents = []geminiContent{{Parts: []geminiPart{
		{InlineData: &geminiInlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(png)}},
		{Text: geminiPrompt},
	}}}

	b, err := json.Marshal(body)
	if err != nil {
		return Result{}, fatal(geminiName, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Result{}, fatal(geminiName, err)
	}
	req.Header.Set("x-goog-api-key", g.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, transient(geminiName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, statusError(geminiName, resp)
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, transient(geminiName, fmt.Errorf("decode response: %w", err))
	}
	if parsed.PromptFeedback.BlockReason != "" {
		return Result{}, fatal(geminiName, fmt.Errorf("prompt blocked: %s", parsed.PromptFeedback.BlockReason))
	}
	if len(parsed.Candidates) == 0 {
		return Result{}, transient(geminiName, errors.New("no candidates in response"))
	}

	var text strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return Result{Text: CleanText(text.String()), Confidence: geminiConfidence, Method: geminiName}, nil
}
