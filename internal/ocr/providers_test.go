package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type urlSource struct {
	memSource
	url string
}

func (u urlSource) SourceURL() string { return u.url }

func TestMistral_ExtractText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"pages":[{"index":1,"markdown":"Rechnung Nr. 7\n\n![img-0.jpeg](img-0.jpeg)\n"}]}`))
	}))
	defer srv.Close()

	m := NewMistral(MistralOptions{APIKey: "test-key", Endpoint: srv.URL})
	require.True(t, m.IsAvailable())

	res, err := m.ExtractText(context.Background(), memSource{}, 2)
	require.NoError(t, err)
	assert.Equal(t, "Rechnung Nr. 7", res.Text)
	assert.Equal(t, "mistral", res.Method)
	assert.Equal(t, mistralConfidence, res.Confidence)

	assert.Equal(t, DefaultMistralModel, got["model"])
	assert.Equal(t, []any{float64(1)}, got["pages"])
	doc := got["document"].(map[string]any)
	assert.Equal(t, "document_url", doc["type"])
	assert.Equal(t, "data:application/pdf;base64,"+base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")), doc["document_url"])
}

func TestMistral_PrefersSourceURL(t *testing.T) {
	var got struct {
		Document struct {
			URL string `json:"document_url"`
		} `json:"document"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"pages":[{"index":0,"markdown":"ok"}]}`))
	}))
	defer srv.Close()

	m := NewMistral(MistralOptions{APIKey: "k", Endpoint: srv.URL})
	_, err := m.ExtractText(context.Background(), urlSource{url: "https://bucket.example/doc.pdf?sig=1"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/doc.pdf?sig=1", got.Document.URL)
}

func TestMistral_ErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrBackendTransient},
		{http.StatusBadGateway, ErrBackendTransient},
		{http.StatusUnauthorized, ErrBackendFatal},
		{http.StatusBadRequest, ErrBackendFatal},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		_, err := NewMistral(MistralOptions{APIKey: "k", Endpoint: srv.URL}).ExtractText(context.Background(), memSource{}, 1)
		srv.Close()
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}

	_, err := NewMistral(MistralOptions{}).ExtractText(context.Background(), memSource{}, 1)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestMistral_MissingPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pages":[]}`))
	}))
	defer srv.Close()

	_, err := NewMistral(MistralOptions{APIKey: "k", Endpoint: srv.URL}).ExtractText(context.Background(), memSource{}, 4)
	assert.ErrorIs(t, err, ErrBackendTransient)
}

func fakeRender(_ context.Context, _ []byte, page, dpi int) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G', byte(page), byte(dpi)}, nil
}

func TestGemini_ExtractText(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Lieferschein\u200b "},{"text":"42"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiOptions{APIKey: "g-key", Endpoint: srv.URL, Render: fakeRender})
	require.True(t, g.IsAvailable())

	res, err := g.ExtractText(context.Background(), memSource{}, 3)
	require.NoError(t, err)
	assert.Equal(t, "Lieferschein 42", res.Text)
	assert.Equal(t, "gemini", res.Method)

	require.Len(t, got.Contents, 1)
	parts := got.Contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MimeType)
	png, err := base64.StdEncoding.DecodeString(parts[0].InlineData.Data)
	require.NoError(t, err)
	assert.Equal(t, byte(3), png[4])
	assert.True(t, strings.HasPrefix(parts[1].Text, "Extrahiere den gesamten Text"))
	assert.Zero(t, got.GenerationConfig.Temperature)
}

func TestGemini_Failures(t *testing.T) {
	_, err := NewGemini(GeminiOptions{Render: fakeRender}).ExtractText(context.Background(), memSource{}, 1)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	failRender := func(context.Context, []byte, int, int) ([]byte, error) { return nil, errors.New("pdftoppm crashed") }
	_, err = NewGemini(GeminiOptions{APIKey: "k", Render: failRender}).ExtractText(context.Background(), memSource{}, 1)
	assert.ErrorIs(t, err, ErrBackendTransient)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()
	_, err = NewGemini(GeminiOptions{APIKey: "k", Endpoint: srv.URL, Render: fakeRender}).ExtractText(context.Background(), memSource{}, 1)
	assert.ErrorIs(t, err, ErrBackendFatal)
}

func TestTesseract_StubOrReal(t *testing.T) {
	tess := NewTesseract(TesseractOptions{Render: fakeRender})
	assert.Equal(t, "tesseract", tess.Name())
	if !tess.IsAvailable() {
		_, err := tess.ExtractText(context.Background(), memSource{}, 1)
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	}
}

func TestCleanText(t *testing.T) {
	in := "Header\u200b  \r\n\r\n\r\n\r\n\r\nfigure-1.png\nscan.jpg\n![img-0.jpeg](img-0.jpeg)\nBody\t\n"
	assert.Equal(t, "Header\n\n\nBody", CleanText(in))
	assert.Equal(t, "", CleanText(""))
}

func TestPrintableRatio(t *testing.T) {
	assert.Equal(t, 0.0, printableRatio(""))
	assert.Equal(t, 1.0, printableRatio("Summe 12,50"))
	assert.InDelta(t, 0.5, printableRatio("a\x01"), 1e-9)
}
