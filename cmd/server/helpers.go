package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/toricodesthings/text-extraction-service/internal/types"
)

const defaultFileName = "document.pdf"

var downloadClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

func validateExtractRequest(req types.ExtractRequest) error {
	u := strings.TrimSpace(req.PresignedURL)
	if u == "" {
		return fmt.Errorf("presignedUrl required")
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("presignedUrl must be http/https")
	}
	if len(u) > 2048 {
		return fmt.Errorf("presignedUrl too long")
	}
	return nil
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func parseJSON[T any](r *http.Request, limit int64) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		return out, err
	}

	// Ensure there's nothing else after the first JSON value
	if err := dec.Decode(new(any)); err != io.EOF {
		if err == nil {
			return out, fmt.Errorf("unexpected trailing data")
		}
		return out, err
	}

	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// fileNameFromURL takes the last path segment of a presigned URL, ignoring
// the signature query.
func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return defaultFileName
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return defaultFileName
	}
	return base
}

// validatePDFMagic checks that data starts with %PDF. This catches cases
// where R2/S3 returns an XML error page, HTML, or other non-PDF content.
func validatePDFMagic(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("file is too small to be a valid PDF")
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		preview := string(data[:min(len(data), 16)])
		return fmt.Errorf("file is not a PDF (starts with %q), presigned URL may be expired or invalid", preview)
	}
	return nil
}

// downloadPDF fetches a presigned URL into memory, enforcing maxBytes and
// the PDF magic bytes.
func downloadPDF(ctx context.Context, rawURL string, maxBytes int64, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	req.Header.Set("User-Agent", "text-extraction-service/"+version)

	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "pdf") && !strings.Contains(ct, "octet-stream") {
		return nil, fmt.Errorf("invalid content-type: %s", ct)
	}

	data, err := io.ReadAll(&io.LimitedReader{R: resp.Body, N: maxBytes + 1})
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("PDF exceeds %dMB limit", maxBytes/(1<<20))
	}
	if len(data) < 100 {
		return nil, fmt.Errorf("PDF too small (likely invalid)")
	}
	if err := validatePDFMagic(data); err != nil {
		return nil, err
	}
	return data, nil
}
