package extractor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// PopplerAvailable reports whether pdftoppm is on PATH.
func PopplerAvailable() bool {
	_, err := exec.LookPath("pdftoppm")
	return err == nil
}

// RenderPagePNG rasterises one 1-indexed page with pdftoppm.
func RenderPagePNG(ctx context.Context, data []byte, page, dpi int) ([]byte, error) {
	if dpi <= 0 {
		dpi = 300
	}
	tmpDir, err := os.MkdirTemp("", "pdfraster-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	outPrefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx,
		"pdftoppm",
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-r", strconv.Itoa(dpi),
		"-png",
		"-singlefile",
		pdfPath,
		outPrefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w (%s)", page, err, string(out))
	}

	png, err := os.ReadFile(outPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page %d: %w", page, err)
	}
	return png, nil
}
